package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/sulaimanQasimi/cid-sub001/internal/rbac"
	"github.com/sulaimanQasimi/cid-sub001/internal/store"
	"github.com/sulaimanQasimi/cid-sub001/internal/util"
)

type GrantInput struct {
	UserID           string     `json:"userId"`
	IncidentReportID *string    `json:"incidentReportId"`
	AccessType       string     `json:"accessType"`
	Notes            string     `json:"notes"`
	ExpiresAt        *time.Time `json:"expiresAt"`
}

// GrantAccess issues a new grant, superseding whatever the target user held
// for the same scope. Conflicting live grants surface as 409s.
func (s *Service) GrantAccess(ctx context.Context, session Session, in GrantInput) (store.AccessGrant, error) {
	problems := map[string]string{}
	if in.UserID == "" {
		problems["userId"] = "required"
	}
	if !rbac.ValidAccessType(in.AccessType) {
		problems["accessType"] = "must be full, read_only, or incidents_only"
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(time.Now()) {
		problems["expiresAt"] = "must be in the future"
	}
	if len(problems) > 0 {
		return store.AccessGrant{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid grant", problems)
	}

	target, err := s.store.GetUserByID(ctx, in.UserID)
	if err != nil {
		return store.AccessGrant{}, domainError(http.StatusNotFound, "NOT_FOUND", "grant target user not found", nil)
	}

	var scope string
	if in.IncidentReportID != nil {
		report, err := s.store.GetIncidentReport(ctx, *in.IncidentReportID)
		if err != nil {
			return store.AccessGrant{}, domainError(http.StatusNotFound, "NOT_FOUND", "incident report not found", nil)
		}
		scope = report.Title
	}

	grant, err := s.store.GrantAccess(ctx, store.AccessGrant{
		ID:               util.NewID("grt"),
		UserID:           in.UserID,
		IncidentReportID: in.IncidentReportID,
		GrantedBy:        session.UserID,
		AccessType:       in.AccessType,
		Notes:            in.Notes,
		ExpiresAt:        in.ExpiresAt,
		IsActive:         true,
	})
	if errors.Is(err, store.ErrActiveGrantExists) {
		return store.AccessGrant{}, domainError(http.StatusConflict, "GRANT_EXISTS", "user already holds an active grant for this scope", nil)
	}
	if errors.Is(err, store.ErrGlobalGrantConflict) {
		return store.AccessGrant{}, domainError(http.StatusConflict, "GLOBAL_GRANT_ACTIVE", "user already holds an active global grant", nil)
	}
	if err != nil {
		return store.AccessGrant{}, err
	}

	s.notifyGrant(target, session.UserName, grant, scope)
	return grant, nil
}

func (s *Service) ListGrants(ctx context.Context, userID, reportID string) ([]store.AccessGrant, error) {
	grants, err := s.store.ListGrants(ctx, userID, reportID)
	if err != nil {
		return nil, err
	}
	if grants == nil {
		grants = []store.AccessGrant{}
	}
	return grants, nil
}

// RevokeUserAccess deactivates every live grant the user holds.
func (s *Service) RevokeUserAccess(ctx context.Context, userID string) (int, error) {
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return 0, err
	}
	return s.store.RevokeUserGrants(ctx, userID)
}

// RevokeGrant deactivates one grant by ID.
func (s *Service) RevokeGrant(ctx context.Context, grantID string) error {
	return s.store.DeactivateGrant(ctx, grantID)
}

// ExtendGrant pushes a grant's expiry out by whole days. An already expired
// grant extends from now, not from the stale expiry.
func (s *Service) ExtendGrant(ctx context.Context, grantID string, days int) (store.AccessGrant, error) {
	if days < 1 || days > 365 {
		return store.AccessGrant{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid extension", map[string]string{"days": "must be between 1 and 365"})
	}
	grant, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return store.AccessGrant{}, err
	}
	if !grant.IsActive {
		return store.AccessGrant{}, domainError(http.StatusConflict, "GRANT_INACTIVE", "cannot extend a revoked grant", nil)
	}
	return s.store.ExtendGrant(ctx, grantID, days)
}

func (s *Service) notifyGrant(target store.User, grantedBy string, grant store.AccessGrant, scope string) {
	if !s.SMTPConfigured() || target.Email == "" {
		return
	}
	expiresText := "until revoked"
	if grant.ExpiresAt != nil {
		expiresText = grant.ExpiresAt.Format("2 Jan 2006 15:04 MST")
	}
	if scope == "" {
		scope = "all incident reports"
	}
	go func() {
		if err := s.email.SendGrantNotice(target.Email, target.DisplayName, grantedBy, grant.AccessType, scope, expiresText); err != nil {
			log.Printf("email: grant notice to %s: %v", target.Email, err)
		}
	}()
}
