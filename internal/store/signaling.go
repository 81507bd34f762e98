package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const sessionColumns = `id, meeting_id, user_id, peer_id, started_at, ended_at, last_seen_at`

func scanSession(row interface{ Scan(...any) error }) (MeetingSession, error) {
	var sess MeetingSession
	err := row.Scan(&sess.ID, &sess.MeetingID, &sess.UserID, &sess.PeerID, &sess.StartedAt, &sess.EndedAt, &sess.LastSeenAt)
	return sess, err
}

// UpsertMeetingSession creates or rejoins the one session a user holds per
// meeting. Rejoining refreshes the peer id and clears any prior end marker.
func (s *PostgresStore) UpsertMeetingSession(ctx context.Context, sessionID, meetingID, userID, peerID string) (MeetingSession, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO meeting_sessions (id, meeting_id, user_id, peer_id, started_at, last_seen_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (meeting_id, user_id) DO UPDATE
			SET peer_id=EXCLUDED.peer_id, started_at=NOW(), ended_at=NULL, last_seen_at=NOW()
		RETURNING `+sessionColumns+`
	`, sessionID, meetingID, userID, peerID)
	sess, err := scanSession(row)
	if err != nil {
		return MeetingSession{}, fmt.Errorf("upsert meeting session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetMeetingSession(ctx context.Context, sessionID string) (MeetingSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM meeting_sessions WHERE id=$1
	`, sessionID)
	return scanSession(row)
}

func (s *PostgresStore) GetSessionByPeer(ctx context.Context, meetingID, peerID string) (MeetingSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM meeting_sessions
		WHERE meeting_id=$1 AND peer_id=$2 AND ended_at IS NULL
	`, meetingID, peerID)
	return scanSession(row)
}

// ListActivePeers returns the started, unended sessions in a meeting whose
// heartbeat is newer than staleBefore, excluding the given user. Stale
// sessions are filtered at read time; nothing sweeps them.
func (s *PostgresStore) ListActivePeers(ctx context.Context, meetingID, excludeUserID string, staleBefore time.Time) ([]ActivePeer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ms.id, ms.user_id, u.display_name, ms.peer_id, ms.started_at
		FROM meeting_sessions ms
		JOIN users u ON u.id = ms.user_id
		WHERE ms.meeting_id=$1
			AND ms.user_id <> $2
			AND ms.ended_at IS NULL
			AND ms.last_seen_at > $3
		ORDER BY ms.started_at
	`, meetingID, excludeUserID, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("list active peers: %w", err)
	}
	defer rows.Close()

	items := make([]ActivePeer, 0)
	for rows.Next() {
		var item ActivePeer
		if err := rows.Scan(&item.SessionID, &item.UserID, &item.DisplayName, &item.PeerID, &item.StartedAt); err != nil {
			return nil, fmt.Errorf("scan active peer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active peers: %w", err)
	}
	return items, nil
}

// EndMeetingSession marks the session ended. Peer-connection rows other
// sessions hold toward this peer are left in place; staleness is handled by
// the heartbeat cutoff, not by cleanup broadcasts.
func (s *PostgresStore) EndMeetingSession(ctx context.Context, sessionID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE meeting_sessions SET ended_at=NOW() WHERE id=$1 AND user_id=$2 AND ended_at IS NULL
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("end meeting session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("end meeting session result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) TouchMeetingSession(ctx context.Context, sessionID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE meeting_sessions SET last_seen_at=NOW() WHERE id=$1 AND user_id=$2 AND ended_at IS NULL
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("touch meeting session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch meeting session result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ── Peer connections ──

// UpsertPeerConnection records the connection status one session holds
// toward a remote peer. One row per (session, peer): concurrent signal
// deliveries for different peers touch disjoint rows, and two writers for
// the same peer resolve by last write on that row alone.
func (s *PostgresStore) UpsertPeerConnection(ctx context.Context, sessionID, peerID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_peer_connections (session_id, peer_id, status, last_activity)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, peer_id) DO UPDATE SET status=EXCLUDED.status, last_activity=NOW()
	`, sessionID, peerID, status)
	if err != nil {
		return fmt.Errorf("upsert peer connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPeerConnections(ctx context.Context, sessionID string) ([]PeerConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, peer_id, status, last_activity
		FROM session_peer_connections
		WHERE session_id=$1
		ORDER BY peer_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list peer connections: %w", err)
	}
	defer rows.Close()

	items := make([]PeerConnection, 0)
	for rows.Next() {
		var item PeerConnection
		if err := rows.Scan(&item.SessionID, &item.PeerID, &item.Status, &item.LastActivity); err != nil {
			return nil, fmt.Errorf("scan peer connection: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer connections: %w", err)
	}
	return items, nil
}

// ── ICE candidates ──

func (s *PostgresStore) AppendIceCandidate(ctx context.Context, sessionID string, candidate json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ice_candidates (session_id, candidate) VALUES ($1, $2)
	`, sessionID, candidate)
	if err != nil {
		return fmt.Errorf("append ice candidate: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIceCandidates(ctx context.Context, sessionID string) ([]IceCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, candidate, created_at
		FROM ice_candidates
		WHERE session_id=$1
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list ice candidates: %w", err)
	}
	defer rows.Close()

	items := make([]IceCandidate, 0)
	for rows.Next() {
		var item IceCandidate
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Candidate, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ice candidate: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ice candidates: %w", err)
	}
	return items, nil
}

// ── Pending signals ──

// InsertPendingSignal queues a signal envelope addressed to the receiver
// peer for later pickup via sync.
func (s *PostgresStore) InsertPendingSignal(ctx context.Context, sig PendingSignal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_signals (meeting_id, sender_peer_id, receiver_peer_id, type, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, sig.MeetingID, sig.SenderPeerID, sig.ReceiverPeerID, sig.Type, sig.Payload)
	if err != nil {
		return fmt.Errorf("insert pending signal: %w", err)
	}
	return nil
}

// DrainPendingSignals atomically claims the undelivered signals addressed to
// a peer, in arrival order. Delivery is best-effort: once claimed the rows
// are never re-delivered, even if the client loses the response.
func (s *PostgresStore) DrainPendingSignals(ctx context.Context, meetingID, receiverPeerID string) ([]PendingSignal, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE pending_signals
		SET delivered_at=NOW()
		WHERE id IN (
			SELECT id FROM pending_signals
			WHERE meeting_id=$1 AND receiver_peer_id=$2 AND delivered_at IS NULL
			ORDER BY id
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, meeting_id, sender_peer_id, receiver_peer_id, type, payload, created_at, delivered_at
	`, meetingID, receiverPeerID)
	if err != nil {
		return nil, fmt.Errorf("drain pending signals: %w", err)
	}
	defer rows.Close()

	items := make([]PendingSignal, 0)
	for rows.Next() {
		var item PendingSignal
		if err := rows.Scan(&item.ID, &item.MeetingID, &item.SenderPeerID, &item.ReceiverPeerID, &item.Type, &item.Payload, &item.CreatedAt, &item.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan pending signal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending signals: %w", err)
	}
	// UPDATE ... RETURNING does not guarantee order; restore arrival order.
	sortPendingSignals(items)
	return items, nil
}

func sortPendingSignals(items []PendingSignal) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].ID < items[j-1].ID; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
