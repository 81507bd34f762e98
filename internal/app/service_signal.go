package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/sulaimanQasimi/cid-sub001/internal/relay"
	"github.com/sulaimanQasimi/cid-sub001/internal/store"
	"github.com/sulaimanQasimi/cid-sub001/internal/util"
)

var signalTypes = map[string]bool{
	"offer":     true,
	"answer":    true,
	"candidate": true,
}

type WebRTCInit struct {
	Session     store.MeetingSession `json:"session"`
	ActivePeers []store.ActivePeer   `json:"activePeers"`
}

type SignalInput struct {
	MeetingID      string          `json:"meetingId"`
	SenderPeerID   string          `json:"senderPeerId"`
	ReceiverPeerID string          `json:"receiverPeerId"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IsOffline      bool            `json:"isOffline"`
}

type SignalResult struct {
	Delivery string `json:"delivery"` // live or queued
}

type OfflineMessage struct {
	Body   string     `json:"body"`
	SentAt *time.Time `json:"sentAt"`
}

type SyncInput struct {
	Messages []OfflineMessage `json:"messages"`
}

type SyncResult struct {
	Messages       []store.MeetingMessage `json:"messages"`
	PendingSignals []store.PendingSignal  `json:"pendingSignals"`
}

// staleBefore is the presence cutoff. A session whose heartbeat is older is
// treated as gone even though no sweeper ever ends it.
func (s *Service) staleBefore(now time.Time) time.Time {
	return now.Add(-s.cfg.SessionTTL)
}

// InitWebRTCSession joins the caller to the meeting's signaling mesh.
// Rejoining reuses the (meeting, user) row with a fresh peer ID.
func (s *Service) InitWebRTCSession(ctx context.Context, session Session, meetingID string) (WebRTCInit, error) {
	if _, err := s.store.GetMeeting(ctx, meetingID); err != nil {
		return WebRTCInit{}, err
	}
	member, err := s.store.IsParticipant(ctx, meetingID, session.UserID)
	if err != nil {
		return WebRTCInit{}, err
	}
	if !member {
		return WebRTCInit{}, domainError(http.StatusForbidden, "NOT_PARTICIPANT", "not a participant of this meeting", nil)
	}

	meetingSession, err := s.store.UpsertMeetingSession(ctx, util.NewID("ses"), meetingID, session.UserID, util.NewPeerID())
	if err != nil {
		return WebRTCInit{}, err
	}

	peers, err := s.store.ListActivePeers(ctx, meetingID, session.UserID, s.staleBefore(time.Now()))
	if err != nil {
		return WebRTCInit{}, err
	}
	if peers == nil {
		peers = []store.ActivePeer{}
	}
	return WebRTCInit{Session: meetingSession, ActivePeers: peers}, nil
}

// Signal routes one signaling envelope from sender to receiver. Live
// delivery goes over the relay bus; a receiver with no live subscription
// gets the envelope queued for its next sync instead. A delivered envelope
// is never also queued.
func (s *Service) Signal(ctx context.Context, session Session, in SignalInput) (SignalResult, error) {
	problems := map[string]string{}
	if in.MeetingID == "" {
		problems["meetingId"] = "required"
	}
	if in.SenderPeerID == "" {
		problems["senderPeerId"] = "required"
	}
	if in.ReceiverPeerID == "" {
		problems["receiverPeerId"] = "required"
	}
	if !signalTypes[in.Type] {
		problems["type"] = "must be offer, answer, or candidate"
	}
	if len(problems) > 0 {
		return SignalResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid signal", problems)
	}

	sender, err := s.store.GetSessionByPeer(ctx, in.MeetingID, in.SenderPeerID)
	if err != nil {
		return SignalResult{}, err
	}
	if sender.UserID != session.UserID {
		return SignalResult{}, domainError(http.StatusForbidden, "FORBIDDEN", "sender peer does not belong to this session", nil)
	}

	now := time.Now()
	receiver, err := s.store.GetSessionByPeer(ctx, in.MeetingID, in.ReceiverPeerID)
	receiverGone := errors.Is(err, sql.ErrNoRows) || (err == nil && receiver.LastSeenAt.Before(s.staleBefore(now)))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return SignalResult{}, err
	}
	if receiverGone {
		if !in.IsOffline {
			return SignalResult{}, domainError(http.StatusNotFound, "PEER_NOT_FOUND", "receiver peer is not in the meeting", nil)
		}
		if err := s.queueSignal(ctx, in, now); err != nil {
			return SignalResult{}, err
		}
		return SignalResult{Delivery: "queued"}, nil
	}

	status := "connecting"
	if in.Type == "answer" {
		status = "connected"
	}
	if err := s.store.UpsertPeerConnection(ctx, sender.ID, in.ReceiverPeerID, status); err != nil {
		return SignalResult{}, err
	}
	if in.Type == "candidate" {
		if err := s.store.AppendIceCandidate(ctx, sender.ID, in.Payload); err != nil {
			return SignalResult{}, err
		}
	}

	var delivered int64
	if s.bus != nil {
		delivered, err = s.bus.PublishSignal(ctx, relay.Envelope{
			MeetingID:      in.MeetingID,
			SenderPeerID:   in.SenderPeerID,
			ReceiverPeerID: in.ReceiverPeerID,
			Type:           in.Type,
			Payload:        in.Payload,
			SentAt:         now,
		})
		if err != nil {
			log.Printf("relay: publish signal for meeting %s: %v", in.MeetingID, err)
			delivered = 0
		}
	}
	if delivered == 0 {
		if err := s.queueSignal(ctx, in, now); err != nil {
			return SignalResult{}, err
		}
		return SignalResult{Delivery: "queued"}, nil
	}
	return SignalResult{Delivery: "live"}, nil
}

func (s *Service) queueSignal(ctx context.Context, in SignalInput, now time.Time) error {
	return s.store.InsertPendingSignal(ctx, store.PendingSignal{
		MeetingID:      in.MeetingID,
		SenderPeerID:   in.SenderPeerID,
		ReceiverPeerID: in.ReceiverPeerID,
		Type:           in.Type,
		Payload:        in.Payload,
		CreatedAt:      now,
	})
}

// EndWebRTCSession closes the caller's own session.
func (s *Service) EndWebRTCSession(ctx context.Context, session Session, sessionID string) error {
	return s.store.EndMeetingSession(ctx, sessionID, session.UserID)
}

// Heartbeat refreshes the session's presence window.
func (s *Service) Heartbeat(ctx context.Context, session Session, sessionID string) error {
	return s.store.TouchMeetingSession(ctx, sessionID, session.UserID)
}

// SyncOfflineData replays the caller's offline chat messages and drains the
// signals queued for its peer while it was away. Draining marks them
// delivered; a second sync returns nothing.
func (s *Service) SyncOfflineData(ctx context.Context, session Session, sessionID string, in SyncInput) (SyncResult, error) {
	meetingSession, err := s.store.GetMeetingSession(ctx, sessionID)
	if err != nil {
		return SyncResult{}, err
	}
	if meetingSession.UserID != session.UserID {
		return SyncResult{}, domainError(http.StatusForbidden, "FORBIDDEN", "session belongs to another user", nil)
	}

	stored := make([]store.MeetingMessage, 0, len(in.Messages))
	for _, offline := range in.Messages {
		message, err := s.SendMessage(ctx, session, meetingSession.MeetingID, offline.Body, true, offline.SentAt)
		if err != nil {
			return SyncResult{}, err
		}
		stored = append(stored, message)
	}

	signals, err := s.store.DrainPendingSignals(ctx, meetingSession.MeetingID, meetingSession.PeerID)
	if err != nil {
		return SyncResult{}, err
	}
	if signals == nil {
		signals = []store.PendingSignal{}
	}

	if err := s.store.TouchMeetingSession(ctx, sessionID, session.UserID); err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Messages: stored, PendingSignals: signals}, nil
}
