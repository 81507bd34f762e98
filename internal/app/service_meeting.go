package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sulaimanQasimi/cid-sub001/internal/rbac"
	"github.com/sulaimanQasimi/cid-sub001/internal/search"
	"github.com/sulaimanQasimi/cid-sub001/internal/store"
	"github.com/sulaimanQasimi/cid-sub001/internal/util"
)

type MeetingInput struct {
	Title          string    `json:"title"`
	Agenda         string    `json:"agenda"`
	ScheduledAt    time.Time `json:"scheduledAt"`
	OfflineEnabled bool      `json:"offlineEnabled"`
}

func validateMeetingInput(in MeetingInput) *DomainError {
	problems := map[string]string{}
	if strings.TrimSpace(in.Title) == "" {
		problems["title"] = "required"
	}
	if in.ScheduledAt.IsZero() {
		problems["scheduledAt"] = "required"
	}
	if len(problems) > 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid meeting", problems)
	}
	return nil
}

func (s *Service) ListMeetings(ctx context.Context) ([]store.Meeting, error) {
	meetings, err := s.store.ListMeetings(ctx)
	if err != nil {
		return nil, err
	}
	if meetings == nil {
		meetings = []store.Meeting{}
	}
	return meetings, nil
}

func (s *Service) GetMeeting(ctx context.Context, meetingID string) (store.Meeting, error) {
	return s.store.GetMeeting(ctx, meetingID)
}

// CreateMeeting creates a meeting and enrolls the creator as its first
// participant.
func (s *Service) CreateMeeting(ctx context.Context, session Session, in MeetingInput) (store.Meeting, error) {
	if derr := validateMeetingInput(in); derr != nil {
		return store.Meeting{}, derr
	}

	meeting := store.Meeting{
		ID:             util.NewID("mtg"),
		Title:          in.Title,
		Agenda:         in.Agenda,
		ScheduledAt:    in.ScheduledAt,
		OfflineEnabled: in.OfflineEnabled,
		CreatedBy:      session.UserID,
		CreatedByName:  session.UserName,
	}
	if err := s.store.InsertMeeting(ctx, meeting); err != nil {
		return store.Meeting{}, err
	}
	if err := s.store.AddParticipant(ctx, meeting.ID, session.UserID, session.UserID); err != nil {
		return store.Meeting{}, err
	}
	s.indexMeeting(meeting)
	return s.store.GetMeeting(ctx, meeting.ID)
}

func (s *Service) UpdateMeeting(ctx context.Context, session Session, meetingID string, in MeetingInput) (store.Meeting, error) {
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return store.Meeting{}, err
	}
	if meeting.CreatedBy != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return store.Meeting{}, domainError(http.StatusForbidden, "FORBIDDEN", "only the organizer can modify a meeting", nil)
	}
	if derr := validateMeetingInput(in); derr != nil {
		return store.Meeting{}, derr
	}

	meeting.Title = in.Title
	meeting.Agenda = in.Agenda
	meeting.ScheduledAt = in.ScheduledAt
	meeting.OfflineEnabled = in.OfflineEnabled
	if err := s.store.UpdateMeeting(ctx, meeting); err != nil {
		return store.Meeting{}, err
	}
	s.indexMeeting(meeting)
	return s.store.GetMeeting(ctx, meetingID)
}

func (s *Service) DeleteMeeting(ctx context.Context, session Session, meetingID string) error {
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.CreatedBy != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the organizer can delete a meeting", nil)
	}
	if err := s.store.DeleteMeeting(ctx, meetingID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteMeeting(meetingID)
	}
	return nil
}

func (s *Service) AddMeetingParticipant(ctx context.Context, session Session, meetingID, userID string) error {
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.CreatedBy != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the organizer can manage participants", nil)
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return s.store.AddParticipant(ctx, meetingID, userID, session.UserID)
}

func (s *Service) RemoveMeetingParticipant(ctx context.Context, session Session, meetingID, userID string) error {
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.CreatedBy != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the organizer can manage participants", nil)
	}
	if userID == meeting.CreatedBy {
		return domainError(http.StatusConflict, "ORGANIZER_REQUIRED", "the organizer cannot leave their own meeting", nil)
	}
	return s.store.RemoveParticipant(ctx, meetingID, userID)
}

func (s *Service) ListMeetingParticipants(ctx context.Context, meetingID string) ([]store.MeetingParticipant, error) {
	if _, err := s.store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if participants == nil {
		participants = []store.MeetingParticipant{}
	}
	return participants, nil
}

// SendMessage appends a chat message to the meeting log and broadcasts it to
// live subscribers. Offline replays carry the client timestamp, clamped so a
// skewed clock cannot post into the future.
func (s *Service) SendMessage(ctx context.Context, session Session, meetingID, body string, isOffline bool, clientSentAt *time.Time) (store.MeetingMessage, error) {
	if strings.TrimSpace(body) == "" {
		return store.MeetingMessage{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid message", map[string]string{"body": "required"})
	}
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return store.MeetingMessage{}, err
	}
	member, err := s.store.IsParticipant(ctx, meetingID, session.UserID)
	if err != nil {
		return store.MeetingMessage{}, err
	}
	if !member {
		return store.MeetingMessage{}, domainError(http.StatusForbidden, "NOT_PARTICIPANT", "not a participant of this meeting", nil)
	}
	if isOffline && !meeting.OfflineEnabled {
		return store.MeetingMessage{}, domainError(http.StatusConflict, "OFFLINE_DISABLED", "offline messaging is disabled for this meeting", nil)
	}

	now := time.Now()
	createdAt := now
	if isOffline && clientSentAt != nil {
		createdAt = *clientSentAt
		if createdAt.After(now.Add(s.cfg.ClockSkewTol)) {
			createdAt = now
		}
	}

	message := store.MeetingMessage{
		ID:        util.NewID("msg"),
		MeetingID: meetingID,
		UserID:    session.UserID,
		UserName:  session.UserName,
		Body:      body,
		IsOffline: isOffline,
		CreatedAt: createdAt,
	}
	if err := s.store.InsertMeetingMessage(ctx, message); err != nil {
		return store.MeetingMessage{}, err
	}

	if s.bus != nil && !isOffline {
		payload, err := json.Marshal(message)
		if err == nil {
			if err := s.bus.PublishChat(ctx, meetingID, payload); err != nil {
				log.Printf("relay: chat broadcast for meeting %s: %v", meetingID, err)
			}
		}
	}
	return message, nil
}

func (s *Service) ListMessages(ctx context.Context, session Session, meetingID string, limit int) ([]store.MeetingMessage, error) {
	if _, err := s.store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	member, err := s.store.IsParticipant(ctx, meetingID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !member && !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "NOT_PARTICIPANT", "not a participant of this meeting", nil)
	}
	messages, err := s.store.ListMeetingMessages(ctx, meetingID, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []store.MeetingMessage{}
	}
	return messages, nil
}

func (s *Service) indexMeeting(meeting store.Meeting) {
	if s.search == nil {
		return
	}
	s.search.IndexMeeting(search.MeetingRecord{
		ID:     meeting.ID,
		Title:  meeting.Title,
		Agenda: meeting.Agenda,
	})
}
