package app

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sulaimanQasimi/cid-sub001/internal/rbac"
)

func (s *HTTPServer) handleIncidentReports(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		if r.Method == http.MethodGet {
			if !s.service.Can(session.Role, rbac.ActionRead) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			items, err := s.service.ListReports(r.Context(), session)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list incident reports", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"reports": items})
			return
		}
		if r.Method == http.MethodPost {
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body ReportInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateReport(r.Context(), session, body)
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

	reportID := parts[2]

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		if hash := strings.TrimSpace(r.URL.Query().Get("hash")); hash != "" {
			payload, err := s.service.ReportNarrativeAt(r.Context(), session, reportID, hash)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"hash": hash, "narrative": payload})
			return
		}
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		entries, err := s.service.ReportHistory(r.Context(), session, reportID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			payload = append(payload, map[string]any{
				"hash":      entry.Hash,
				"message":   strings.TrimSpace(entry.Message),
				"author":    entry.Author,
				"createdAt": entry.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": payload})
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetReport(r.Context(), session, reportID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPut:
			var body ReportInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateReport(r.Context(), session, reportID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionAdmin) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			if err := s.service.DeleteReport(r.Context(), reportID); err != nil {
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

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReportAccess(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionGrant) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	if len(parts) == 2 {
		if r.Method == http.MethodGet {
			userID := strings.TrimSpace(r.URL.Query().Get("userId"))
			reportID := strings.TrimSpace(r.URL.Query().Get("reportId"))
			items, err := s.service.ListGrants(r.Context(), userID, reportID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list grants", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"grants": items})
			return
		}
		if r.Method == http.MethodPost {
			var body GrantInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.GrantAccess(r.Context(), session, body)
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

	// /{userId}/revoke kills every live grant the user holds.
	if len(parts) == 4 && parts[3] == "revoke" && r.Method == http.MethodPost {
		revoked, err := s.service.RevokeUserAccess(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "revoked": revoked})
		return
	}

	if len(parts) == 4 && parts[3] == "extend" && r.Method == http.MethodPost {
		var body struct {
			Days int `json:"days"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ExtendGrant(r.Context(), parts[2], body.Days)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.RevokeGrant(r.Context(), parts[2]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
