package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDepartmentNotEmpty blocks deleting a department that still owns
// incident reports.
var ErrDepartmentNotEmpty = errors.New("department still contains incident reports")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, badge_number, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.BadgeNumber, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, badge_number, is_email_verified
		FROM users
		WHERE id=$1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.BadgeNumber, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, badge_number, is_email_verified
		FROM users
		WHERE LOWER(email)=LOWER($1) AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.BadgeNumber, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ── Refresh sessions and token revocation ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role, u.badge_number
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.BadgeNumber)
	if err != nil {
		return User{}, err
	}
	if user.Role == "" {
		user.Role = "viewer"
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ── Incident reports ──

func (s *PostgresStore) ListIncidentReports(ctx context.Context) ([]IncidentReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, summary, incident_details, status, department_id, restricted, created_by, created_by_name, updated_by, created_at, updated_at
		FROM incident_reports
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list incident reports: %w", err)
	}
	defer rows.Close()

	items := make([]IncidentReport, 0)
	for rows.Next() {
		var item IncidentReport
		if err := rows.Scan(&item.ID, &item.Title, &item.Summary, &item.IncidentDetails, &item.Status, &item.DepartmentID, &item.Restricted, &item.CreatedBy, &item.CreatedByName, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan incident report: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incident reports: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetIncidentReport(ctx context.Context, reportID string) (IncidentReport, error) {
	var item IncidentReport
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, summary, incident_details, status, department_id, restricted, created_by, created_by_name, updated_by, created_at, updated_at
		FROM incident_reports
		WHERE id=$1
	`, reportID).Scan(&item.ID, &item.Title, &item.Summary, &item.IncidentDetails, &item.Status, &item.DepartmentID, &item.Restricted, &item.CreatedBy, &item.CreatedByName, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return IncidentReport{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertIncidentReport(ctx context.Context, item IncidentReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_reports (id, title, summary, incident_details, status, department_id, restricted, created_by, created_by_name, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.Title, item.Summary, item.IncidentDetails, item.Status, item.DepartmentID, item.Restricted, item.CreatedBy, item.CreatedByName, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert incident report: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateIncidentReport(ctx context.Context, item IncidentReport) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE incident_reports
		SET title=$2, summary=$3, incident_details=$4, status=$5, department_id=$6, restricted=$7, updated_by=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Summary, item.IncidentDetails, item.Status, item.DepartmentID, item.Restricted, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update incident report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update incident report result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteIncidentReport(ctx context.Context, reportID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM incident_reports WHERE id=$1`, reportID)
	if err != nil {
		return fmt.Errorf("delete incident report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete incident report result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ── Departments ──

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, code, created_at, updated_at FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	items := make([]Department, 0)
	for rows.Next() {
		var item Department
		if err := rows.Scan(&item.ID, &item.Name, &item.Code, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDepartment(ctx context.Context, departmentID string) (Department, error) {
	var item Department
	err := s.db.QueryRowContext(ctx, `SELECT id, name, code, created_at, updated_at FROM departments WHERE id=$1`, departmentID).
		Scan(&item.ID, &item.Name, &item.Code, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Department{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertDepartment(ctx context.Context, item Department) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, name, code) VALUES ($1, $2, $3)
	`, item.ID, item.Name, item.Code)
	if err != nil {
		return fmt.Errorf("insert department: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDepartment(ctx context.Context, departmentID, name, code string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE departments SET name=$2, code=$3, updated_at=NOW() WHERE id=$1
	`, departmentID, name, code)
	if err != nil {
		return fmt.Errorf("update department: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update department result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteDepartment(ctx context.Context, departmentID string) error {
	var reportCount int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM incident_reports WHERE department_id=$1`, departmentID).Scan(&reportCount); err != nil {
		return fmt.Errorf("count department reports: %w", err)
	}
	if reportCount > 0 {
		return fmt.Errorf("%w: %d", ErrDepartmentNotEmpty, reportCount)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM departments WHERE id=$1`, departmentID)
	if err != nil {
		return fmt.Errorf("delete department: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete department result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ── Dashboard ──

func (s *PostgresStore) SummaryCounts(ctx context.Context) (reports, meetings, activeGrants int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM incident_reports),
			(SELECT count(*) FROM meetings),
			(SELECT count(*) FROM incident_report_access
				WHERE is_active AND (expires_at IS NULL OR expires_at > NOW()))
	`).Scan(&reports, &meetings, &activeGrants)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	return reports, meetings, activeGrants, nil
}
