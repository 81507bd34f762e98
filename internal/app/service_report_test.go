package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sulaimanQasimi/cid-sub001/internal/history"
	"github.com/sulaimanQasimi/cid-sub001/internal/store"
)

type fakeHistoryEntry struct {
	narrative history.Narrative
	commit    store.CommitInfo
}

type fakeHistory struct {
	repos map[string][]fakeHistoryEntry
	seq   int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{repos: map[string][]fakeHistoryEntry{}}
}

func (f *fakeHistory) commitInfo(message string) store.CommitInfo {
	f.seq++
	return store.CommitInfo{
		Hash:      fmt.Sprintf("%07x", f.seq),
		Message:   message,
		CreatedAt: time.Now(),
	}
}

func (f *fakeHistory) EnsureReportRepo(reportID string, initial history.Narrative, _ string) error {
	if _, ok := f.repos[reportID]; ok {
		return nil
	}
	f.repos[reportID] = []fakeHistoryEntry{{narrative: initial, commit: f.commitInfo("Open incident report")}}
	return nil
}

func (f *fakeHistory) CommitNarrative(reportID string, narrative history.Narrative, author, message string) (store.CommitInfo, error) {
	commit := f.commitInfo(message)
	commit.Author = author
	f.repos[reportID] = append(f.repos[reportID], fakeHistoryEntry{narrative: narrative, commit: commit})
	return commit, nil
}

func (f *fakeHistory) History(reportID string, limit int) ([]store.CommitInfo, error) {
	entries := f.repos[reportID]
	items := make([]store.CommitInfo, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		items = append(items, entries[i].commit)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (f *fakeHistory) GetNarrativeByHash(reportID, hash string) (history.Narrative, error) {
	for _, entry := range f.repos[reportID] {
		if entry.commit.Hash == hash {
			return entry.narrative, nil
		}
	}
	return history.Narrative{}, sql.ErrNoRows
}

func TestCreateReport_BaselineRevision(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	fh := newFakeHistory()
	svc.history = fh
	alice := seedUser(fs, "usr_a", "Alice", "officer")

	report, err := svc.CreateReport(context.Background(), alice, ReportInput{
		Title:           "Warehouse break-in",
		Summary:         "Forced entry at the river depot",
		IncidentDetails: "Rear door pried open.",
	})
	if err != nil {
		t.Fatalf("CreateReport() error = %v", err)
	}
	if report.Status != "open" {
		t.Errorf("expected default status open, got %q", report.Status)
	}
	if len(fh.repos[report.ID]) != 1 {
		t.Errorf("expected a baseline revision, got %d", len(fh.repos[report.ID]))
	}
}

func TestUpdateReport_CommitsOnlyNarrativeChanges(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	fh := newFakeHistory()
	svc.history = fh
	ctx := context.Background()
	alice := seedUser(fs, "usr_a", "Alice", "officer")

	report, err := svc.CreateReport(ctx, alice, ReportInput{
		Title:   "Stolen vehicle",
		Summary: "Plate KBL-4411",
	})
	if err != nil {
		t.Fatalf("CreateReport() error = %v", err)
	}

	// Status-only change leaves the revision trail alone.
	if _, err := svc.UpdateReport(ctx, alice, report.ID, ReportInput{
		Title:   report.Title,
		Summary: report.Summary,
		Status:  "active",
	}); err != nil {
		t.Fatalf("status update: %v", err)
	}
	if len(fh.repos[report.ID]) != 1 {
		t.Fatalf("expected no new revision for a status change, got %d", len(fh.repos[report.ID]))
	}

	if _, err := svc.UpdateReport(ctx, alice, report.ID, ReportInput{
		Title:           report.Title,
		Summary:         "Plate KBL-4411, recovered near the bridge",
		IncidentDetails: "Vehicle found abandoned.",
	}); err != nil {
		t.Fatalf("narrative update: %v", err)
	}
	if len(fh.repos[report.ID]) != 2 {
		t.Fatalf("expected a new revision after a narrative change, got %d", len(fh.repos[report.ID]))
	}

	entries, err := svc.ReportHistory(ctx, alice, report.ID, 10)
	if err != nil {
		t.Fatalf("ReportHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}

	narrative, err := svc.ReportNarrativeAt(ctx, alice, report.ID, entries[0].Hash)
	if err != nil {
		t.Fatalf("ReportNarrativeAt() error = %v", err)
	}
	if narrative.IncidentDetails != "Vehicle found abandoned." {
		t.Errorf("unexpected revision content: %+v", narrative)
	}
}

func TestListReports_RestrictedFiltered(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedUser(fs, "usr_cre", "Creator", "officer")
	viewer := seedUser(fs, "usr_vw", "Viewer", "viewer")
	holder := seedUser(fs, "usr_hld", "Holder", "officer")
	supervisor := seedUser(fs, "usr_sup", "Supervisor", "supervisor")
	admin := seedUser(fs, "usr_adm", "Admin", "admin")

	seedReport(fs, "rpt_open", "usr_cre", false)
	restricted := seedReport(fs, "rpt_sec", "usr_cre", true)

	reportID := restricted.ID
	if _, err := svc.GrantAccess(ctx, supervisor, GrantInput{
		UserID: holder.UserID, IncidentReportID: &reportID, AccessType: "incidents_only",
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	viewerReports, err := svc.ListReports(ctx, viewer)
	if err != nil {
		t.Fatalf("ListReports(viewer) error = %v", err)
	}
	if len(viewerReports) != 1 || viewerReports[0].ID != "rpt_open" {
		t.Errorf("viewer should see only the open report, got %+v", viewerReports)
	}

	holderReports, err := svc.ListReports(ctx, holder)
	if err != nil {
		t.Fatalf("ListReports(holder) error = %v", err)
	}
	if len(holderReports) != 2 {
		t.Errorf("grant holder should see both reports, got %d", len(holderReports))
	}

	adminReports, err := svc.ListReports(ctx, admin)
	if err != nil {
		t.Fatalf("ListReports(admin) error = %v", err)
	}
	if len(adminReports) != 2 {
		t.Errorf("admin should see both reports, got %d", len(adminReports))
	}
}

func TestGetReport_RestrictedForbidden(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedUser(fs, "usr_cre", "Creator", "officer")
	viewer := seedUser(fs, "usr_vw", "Viewer", "viewer")
	restricted := seedReport(fs, "rpt_sec", "usr_cre", true)

	_, err := svc.GetReport(ctx, viewer, restricted.ID)
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusForbidden {
		t.Errorf("expected 403, got %d", domainErr.Status)
	}
}

func TestUpdateReport_RequiresWriteGrant(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	seedUser(fs, "usr_cre", "Creator", "officer")
	holder := seedUser(fs, "usr_hld", "Holder", "officer")
	supervisor := seedUser(fs, "usr_sup", "Supervisor", "supervisor")
	restricted := seedReport(fs, "rpt_sec", "usr_cre", true)
	reportID := restricted.ID

	if _, err := svc.GrantAccess(ctx, supervisor, GrantInput{
		UserID: holder.UserID, IncidentReportID: &reportID, AccessType: "read_only",
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	input := ReportInput{Title: "Edited", Restricted: true}
	_, err := svc.UpdateReport(ctx, holder, reportID, input)
	domainErr := asDomainError(t, err)
	if domainErr.Status != http.StatusForbidden {
		t.Fatalf("read_only holder: expected 403, got %d", domainErr.Status)
	}

	// Upgrading to full unlocks writes. The supervisor reissues the grant.
	if _, err := svc.RevokeUserAccess(ctx, holder.UserID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.GrantAccess(ctx, supervisor, GrantInput{
		UserID: holder.UserID, IncidentReportID: &reportID, AccessType: "full",
	}); err != nil {
		t.Fatalf("regrant: %v", err)
	}
	if _, err := svc.UpdateReport(ctx, holder, reportID, input); err != nil {
		t.Errorf("full holder update failed: %v", err)
	}
}
