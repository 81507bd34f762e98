package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrActiveGrantExists means the (user, scope) pair already holds an
	// active, unexpired grant.
	ErrActiveGrantExists = errors.New("active grant already exists for this scope")
	// ErrGlobalGrantConflict means a report-scoped grant was requested while
	// the user holds an active global grant.
	ErrGlobalGrantConflict = errors.New("user already holds an active global grant")
)

const grantColumns = `id, user_id, incident_report_id, granted_by, access_type, notes, expires_at, is_active, created_at, updated_at`

func scanGrant(row interface{ Scan(...any) error }) (AccessGrant, error) {
	var g AccessGrant
	err := row.Scan(&g.ID, &g.UserID, &g.IncidentReportID, &g.GrantedBy, &g.AccessType, &g.Notes, &g.ExpiresAt, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

// GrantAccess issues a grant for (user, scope) inside a single transaction:
// the scope-conflict checks, the deactivation of superseded rows, and the
// insert all commit or roll back together. Together with the partial unique
// index on active grants this closes the legacy check-then-write race: of
// two concurrent grants for the same scope exactly one commits.
func (s *PostgresStore) GrantAccess(ctx context.Context, grant AccessGrant) (AccessGrant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback()

	// Lock the user's active rows so concurrent issuers serialize here.
	rows, err := tx.QueryContext(ctx, `
		SELECT `+grantColumns+`
		FROM incident_report_access
		WHERE user_id=$1 AND is_active
		FOR UPDATE
	`, grant.UserID)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("lock active grants: %w", err)
	}
	existing := make([]AccessGrant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			rows.Close()
			return AccessGrant{}, fmt.Errorf("scan active grant: %w", err)
		}
		existing = append(existing, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return AccessGrant{}, fmt.Errorf("iterate active grants: %w", err)
	}
	rows.Close()

	now := time.Now()
	for _, g := range existing {
		if !g.Valid(now) {
			continue
		}
		if sameScope(g.IncidentReportID, grant.IncidentReportID) {
			return AccessGrant{}, ErrActiveGrantExists
		}
		if g.IncidentReportID == nil && grant.IncidentReportID != nil {
			return AccessGrant{}, ErrGlobalGrantConflict
		}
	}

	// Supersede prior rows for the scope. A new global grant also supersedes
	// the user's report-scoped grants (global and specific are exclusive).
	if grant.IncidentReportID == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE incident_report_access SET is_active=FALSE, updated_at=NOW()
			WHERE user_id=$1 AND is_active
		`, grant.UserID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE incident_report_access SET is_active=FALSE, updated_at=NOW()
			WHERE user_id=$1 AND incident_report_id=$2 AND is_active
		`, grant.UserID, *grant.IncidentReportID)
	}
	if err != nil {
		return AccessGrant{}, fmt.Errorf("deactivate superseded grants: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO incident_report_access (id, user_id, incident_report_id, granted_by, access_type, notes, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING `+grantColumns+`
	`, grant.ID, grant.UserID, grant.IncidentReportID, grant.GrantedBy, grant.AccessType, grant.Notes, grant.ExpiresAt)
	created, err := scanGrant(row)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("insert grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AccessGrant{}, fmt.Errorf("commit grant tx: %w", err)
	}
	return created, nil
}

func sameScope(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func (s *PostgresStore) GetGrant(ctx context.Context, grantID string) (AccessGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+grantColumns+` FROM incident_report_access WHERE id=$1
	`, grantID)
	return scanGrant(row)
}

func (s *PostgresStore) ListGrants(ctx context.Context, userID, reportID string) ([]AccessGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM incident_report_access WHERE 1=1`
	args := []any{}
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(" AND user_id=$%d", len(args))
	}
	if reportID != "" {
		args = append(args, reportID)
		query += fmt.Sprintf(" AND incident_report_id=$%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	items := make([]AccessGrant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

// FindValidGrant returns the user's active unexpired grant covering the
// report: a report-scoped match wins, otherwise a global grant.
func (s *PostgresStore) FindValidGrant(ctx context.Context, userID, reportID string) (AccessGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM incident_report_access
		WHERE user_id=$1
			AND is_active
			AND (expires_at IS NULL OR expires_at > NOW())
			AND (incident_report_id IS NULL OR incident_report_id=$2)
		ORDER BY incident_report_id NULLS LAST
		LIMIT 1
	`, userID, reportID)
	return scanGrant(row)
}

// RevokeUserGrants deactivates every active grant the user holds. The legacy
// revoke is global, not scope-specific.
func (s *PostgresStore) RevokeUserGrants(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE incident_report_access SET is_active=FALSE, updated_at=NOW()
		WHERE user_id=$1 AND is_active
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user grants: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user grants result: %w", err)
	}
	return int(affected), nil
}

// DeactivateGrant soft-deletes one grant row. Rows are never reactivated;
// a fresh row is issued instead.
func (s *PostgresStore) DeactivateGrant(ctx context.Context, grantID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE incident_report_access SET is_active=FALSE, updated_at=NOW()
		WHERE id=$1 AND is_active
	`, grantID)
	if err != nil {
		return fmt.Errorf("deactivate grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate grant result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ExtendGrant adds days to the stored expiry unconditionally, even when the
// stored expiry is already in the past. A grant with no expiry extends from
// now.
func (s *PostgresStore) ExtendGrant(ctx context.Context, grantID string, days int) (AccessGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE incident_report_access
		SET expires_at = COALESCE(expires_at, NOW()) + make_interval(days => $2), updated_at=NOW()
		WHERE id=$1
		RETURNING `+grantColumns+`
	`, grantID, days)
	return scanGrant(row)
}
