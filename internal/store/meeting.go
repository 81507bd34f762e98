package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) ListMeetings(ctx context.Context) ([]Meeting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, agenda, scheduled_at, offline_enabled, created_by, created_by_name, created_at, updated_at
		FROM meetings
		ORDER BY scheduled_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	items := make([]Meeting, 0)
	for rows.Next() {
		var item Meeting
		if err := rows.Scan(&item.ID, &item.Title, &item.Agenda, &item.ScheduledAt, &item.OfflineEnabled, &item.CreatedBy, &item.CreatedByName, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMeeting(ctx context.Context, meetingID string) (Meeting, error) {
	var item Meeting
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, agenda, scheduled_at, offline_enabled, created_by, created_by_name, created_at, updated_at
		FROM meetings
		WHERE id=$1
	`, meetingID).Scan(&item.ID, &item.Title, &item.Agenda, &item.ScheduledAt, &item.OfflineEnabled, &item.CreatedBy, &item.CreatedByName, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Meeting{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertMeeting(ctx context.Context, item Meeting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, title, agenda, scheduled_at, offline_enabled, created_by, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.Title, item.Agenda, item.ScheduledAt, item.OfflineEnabled, item.CreatedBy, item.CreatedByName)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMeeting(ctx context.Context, item Meeting) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE meetings
		SET title=$2, agenda=$3, scheduled_at=$4, offline_enabled=$5, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Agenda, item.ScheduledAt, item.OfflineEnabled)
	if err != nil {
		return fmt.Errorf("update meeting: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update meeting result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteMeeting(ctx context.Context, meetingID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id=$1`, meetingID)
	if err != nil {
		return fmt.Errorf("delete meeting: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete meeting result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ── Participants ──

func (s *PostgresStore) AddParticipant(ctx context.Context, meetingID, userID, addedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meeting_participants (meeting_id, user_id, added_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (meeting_id, user_id) DO NOTHING
	`, meetingID, userID, addedBy)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, meetingID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM meeting_participants WHERE meeting_id=$1 AND user_id=$2
	`, meetingID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove participant result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) IsParticipant(ctx context.Context, meetingID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM meeting_participants WHERE meeting_id=$1 AND user_id=$2)
	`, meetingID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, meetingID string) ([]MeetingParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mp.meeting_id, mp.user_id, u.display_name, mp.added_by, mp.added_at
		FROM meeting_participants mp
		JOIN users u ON u.id = mp.user_id
		WHERE mp.meeting_id=$1
		ORDER BY mp.added_at
	`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]MeetingParticipant, 0)
	for rows.Next() {
		var item MeetingParticipant
		if err := rows.Scan(&item.MeetingID, &item.UserID, &item.DisplayName, &item.AddedBy, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

// ── Messages ──

func (s *PostgresStore) InsertMeetingMessage(ctx context.Context, msg MeetingMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meeting_messages (id, meeting_id, user_id, body, is_offline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.MeetingID, msg.UserID, msg.Body, msg.IsOffline, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert meeting message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMeetingMessages(ctx context.Context, meetingID string, limit int) ([]MeetingMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT mm.id, mm.meeting_id, mm.user_id, u.display_name, mm.body, mm.is_offline, mm.created_at
		FROM meeting_messages mm
		JOIN users u ON u.id = mm.user_id
		WHERE mm.meeting_id=$1
		ORDER BY mm.created_at
		LIMIT $2
	`, meetingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list meeting messages: %w", err)
	}
	defer rows.Close()

	items := make([]MeetingMessage, 0)
	for rows.Next() {
		var item MeetingMessage
		if err := rows.Scan(&item.ID, &item.MeetingID, &item.UserID, &item.UserName, &item.Body, &item.IsOffline, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan meeting message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meeting messages: %w", err)
	}
	return items, nil
}
