package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sulaimanQasimi/cid-sub001/internal/rbac"
)

func (s *HTTPServer) handleMeetings(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionMeet) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	if len(parts) == 2 {
		if r.Method == http.MethodGet {
			items, err := s.service.ListMeetings(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list meetings", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"meetings": items})
			return
		}
		if r.Method == http.MethodPost {
			var body MeetingInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateMeeting(r.Context(), session, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	meetingID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetMeeting(r.Context(), meetingID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPut:
			var body MeetingInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateMeeting(r.Context(), session, meetingID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.DeleteMeeting(r.Context(), session, meetingID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "participants" {
		if r.Method == http.MethodGet {
			items, err := s.service.ListMeetingParticipants(r.Context(), meetingID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"participants": items})
			return
		}
		var body struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.UserID) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
			return
		}
		switch r.Method {
		case http.MethodPost:
			if err := s.service.AddMeetingParticipant(r.Context(), session, meetingID, body.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case http.MethodDelete:
			if err := s.service.RemoveMeetingParticipant(r.Context(), session, meetingID, body.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "messages" {
		if r.Method == http.MethodGet {
			limit := 0
			if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
				if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
					limit = parsed
				}
			}
			items, err := s.service.ListMessages(r.Context(), session, meetingID, limit)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"messages": items})
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				Body      string     `json:"body"`
				IsOffline bool       `json:"isOffline"`
				SentAt    *time.Time `json:"sentAt"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SendMessage(r.Context(), session, meetingID, body.Body, body.IsOffline, body.SentAt)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 5 && parts[3] == "webrtc" && parts[4] == "init" && r.Method == http.MethodPost {
		payload, err := s.service.InitWebRTCSession(r.Context(), session, meetingID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		meeting, err := s.service.GetMeeting(r.Context(), meetingID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId":      payload.Session.ID,
			"peerId":         payload.Session.PeerID,
			"activePeers":    payload.ActivePeers,
			"offlineEnabled": meeting.OfflineEnabled,
		})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWebRTC(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionMeet) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	if len(parts) == 3 && parts[2] == "signal" && r.Method == http.MethodPost {
		var body SignalInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Signal(r.Context(), session, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "sessions" && r.Method == http.MethodPost {
		sessionID := parts[3]
		switch parts[4] {
		case "end":
			if err := s.service.EndWebRTCSession(r.Context(), session, sessionID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case "heartbeat":
			if err := s.service.Heartbeat(r.Context(), session, sessionID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case "sync":
			var body SyncInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SyncOfflineData(r.Context(), session, sessionID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
