package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sulaimanQasimi/cid-sub001/internal/history"
	"github.com/sulaimanQasimi/cid-sub001/internal/rbac"
	"github.com/sulaimanQasimi/cid-sub001/internal/search"
	"github.com/sulaimanQasimi/cid-sub001/internal/store"
	"github.com/sulaimanQasimi/cid-sub001/internal/util"
)

type ReportInput struct {
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	IncidentDetails string `json:"incidentDetails"`
	Status          string `json:"status"`
	DepartmentID    string `json:"departmentId"`
	Restricted      bool   `json:"restricted"`
}

var reportStatuses = map[string]bool{
	"open":   true,
	"active": true,
	"closed": true,
}

func validateReportInput(in ReportInput) *DomainError {
	problems := map[string]string{}
	if strings.TrimSpace(in.Title) == "" {
		problems["title"] = "required"
	}
	if in.Status != "" && !reportStatuses[in.Status] {
		problems["status"] = "must be open, active, or closed"
	}
	if len(problems) > 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid incident report", problems)
	}
	return nil
}

// CanAccessReport decides whether the session may exercise a capability on
// the report. Admins and the report's creator always may; everyone else needs
// a live grant covering the capability, and restricted reports are never
// readable without one.
func (s *Service) CanAccessReport(ctx context.Context, session Session, report store.IncidentReport, capability rbac.Capability) (bool, error) {
	if s.Can(session.Role, rbac.ActionAdmin) || report.CreatedBy == session.UserID {
		return true, nil
	}
	if !report.Restricted && capability == rbac.CapabilityRead {
		return s.Can(session.Role, rbac.ActionRead), nil
	}

	grant, err := s.store.FindValidGrant(ctx, session.UserID, report.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !grant.Valid(time.Now()) {
		return false, nil
	}
	return rbac.Allows(rbac.AccessType(grant.AccessType), capability), nil
}

// ListReports returns the reports the session may read. Restricted reports
// the caller has no path to are dropped, not errored.
func (s *Service) ListReports(ctx context.Context, session Session) ([]store.IncidentReport, error) {
	reports, err := s.store.ListIncidentReports(ctx)
	if err != nil {
		return nil, err
	}
	if s.Can(session.Role, rbac.ActionAdmin) {
		return reports, nil
	}

	visible := make([]store.IncidentReport, 0, len(reports))
	for _, report := range reports {
		ok, err := s.CanAccessReport(ctx, session, report, rbac.CapabilityRead)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, report)
		}
	}
	return visible, nil
}

func (s *Service) GetReport(ctx context.Context, session Session, reportID string) (store.IncidentReport, error) {
	report, err := s.store.GetIncidentReport(ctx, reportID)
	if err != nil {
		return store.IncidentReport{}, err
	}
	ok, err := s.CanAccessReport(ctx, session, report, rbac.CapabilityRead)
	if err != nil {
		return store.IncidentReport{}, err
	}
	if !ok {
		return store.IncidentReport{}, domainError(http.StatusForbidden, "FORBIDDEN", "no access to this incident report", nil)
	}
	return report, nil
}

func (s *Service) CreateReport(ctx context.Context, session Session, in ReportInput) (store.IncidentReport, error) {
	if derr := validateReportInput(in); derr != nil {
		return store.IncidentReport{}, derr
	}
	status := in.Status
	if status == "" {
		status = "open"
	}

	report := store.IncidentReport{
		ID:              util.NewID("rpt"),
		Title:           in.Title,
		Summary:         in.Summary,
		IncidentDetails: in.IncidentDetails,
		Status:          status,
		DepartmentID:    in.DepartmentID,
		Restricted:      in.Restricted,
		CreatedBy:       session.UserID,
		CreatedByName:   session.UserName,
		UpdatedBy:       session.UserID,
	}
	if err := s.store.InsertIncidentReport(ctx, report); err != nil {
		return store.IncidentReport{}, err
	}

	if s.history != nil {
		if err := s.history.EnsureReportRepo(report.ID, history.Narrative{
			Title:           report.Title,
			Summary:         report.Summary,
			IncidentDetails: report.IncidentDetails,
		}, session.UserName); err != nil {
			return store.IncidentReport{}, err
		}
	}
	s.indexReport(report)
	return s.store.GetIncidentReport(ctx, report.ID)
}

func (s *Service) UpdateReport(ctx context.Context, session Session, reportID string, in ReportInput) (store.IncidentReport, error) {
	report, err := s.store.GetIncidentReport(ctx, reportID)
	if err != nil {
		return store.IncidentReport{}, err
	}
	ok, err := s.CanAccessReport(ctx, session, report, rbac.CapabilityWrite)
	if err != nil {
		return store.IncidentReport{}, err
	}
	if !ok {
		return store.IncidentReport{}, domainError(http.StatusForbidden, "FORBIDDEN", "no write access to this incident report", nil)
	}
	if derr := validateReportInput(in); derr != nil {
		return store.IncidentReport{}, derr
	}

	before := history.Narrative{
		Title:           report.Title,
		Summary:         report.Summary,
		IncidentDetails: report.IncidentDetails,
	}

	report.Title = in.Title
	report.Summary = in.Summary
	report.IncidentDetails = in.IncidentDetails
	if in.Status != "" {
		report.Status = in.Status
	}
	report.DepartmentID = in.DepartmentID
	report.Restricted = in.Restricted
	report.UpdatedBy = session.UserID

	if err := s.store.UpdateIncidentReport(ctx, report); err != nil {
		return store.IncidentReport{}, err
	}

	after := history.Narrative{
		Title:           report.Title,
		Summary:         report.Summary,
		IncidentDetails: report.IncidentDetails,
	}
	if s.history != nil && history.HasChanges(before, after) {
		if err := s.history.EnsureReportRepo(report.ID, before, session.UserName); err != nil {
			return store.IncidentReport{}, err
		}
		if _, err := s.history.CommitNarrative(report.ID, after, session.UserName, "Update incident report"); err != nil {
			return store.IncidentReport{}, err
		}
	}
	s.indexReport(report)
	return s.store.GetIncidentReport(ctx, report.ID)
}

// DeleteReport removes the report row and its search entry. The narrative
// repository stays on disk so the revision trail outlives the record.
func (s *Service) DeleteReport(ctx context.Context, reportID string) error {
	if _, err := s.store.GetIncidentReport(ctx, reportID); err != nil {
		return err
	}
	if err := s.store.DeleteIncidentReport(ctx, reportID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteReport(reportID)
	}
	return nil
}

func (s *Service) ReportHistory(ctx context.Context, session Session, reportID string, limit int) ([]store.CommitInfo, error) {
	report, err := s.store.GetIncidentReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	ok, err := s.CanAccessReport(ctx, session, report, rbac.CapabilityIncidents)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "no access to this incident report", nil)
	}
	if s.history == nil {
		return []store.CommitInfo{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.history.History(reportID, limit)
}

func (s *Service) ReportNarrativeAt(ctx context.Context, session Session, reportID, hash string) (history.Narrative, error) {
	report, err := s.store.GetIncidentReport(ctx, reportID)
	if err != nil {
		return history.Narrative{}, err
	}
	ok, err := s.CanAccessReport(ctx, session, report, rbac.CapabilityIncidents)
	if err != nil {
		return history.Narrative{}, err
	}
	if !ok {
		return history.Narrative{}, domainError(http.StatusForbidden, "FORBIDDEN", "no access to this incident report", nil)
	}
	if s.history == nil {
		return history.Narrative{}, domainError(http.StatusNotFound, "NOT_FOUND", "revision history unavailable", nil)
	}
	narrative, err := s.history.GetNarrativeByHash(reportID, hash)
	if err != nil {
		return history.Narrative{}, domainError(http.StatusNotFound, "NOT_FOUND", "unknown revision", nil)
	}
	return narrative, nil
}

func (s *Service) indexReport(report store.IncidentReport) {
	if s.search == nil {
		return
	}
	s.search.IndexReport(search.ReportRecord{
		ID:           report.ID,
		Title:        report.Title,
		Summary:      report.Summary,
		DepartmentID: report.DepartmentID,
		Status:       report.Status,
		Restricted:   report.Restricted,
	})
}
