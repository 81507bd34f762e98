package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.IncludeRestricted), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.IncludeRestricted), Total: total, Query: q.Text}
}

// IndexReport indexes an incident report (fire-and-forget to Meilisearch).
func (s *Service) IndexReport(r ReportRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexReport(r); err != nil {
			log.Printf("search: index report %s: %v", r.ID, err)
		}
	}()
}

// IndexMeeting indexes a meeting (fire-and-forget to Meilisearch).
func (s *Service) IndexMeeting(m MeetingRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMeeting(m); err != nil {
			log.Printf("search: index meeting %s: %v", m.ID, err)
		}
	}()
}

// DeleteReport removes an incident report from the search index (fire-and-forget).
func (s *Service) DeleteReport(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteReport(id); err != nil {
			log.Printf("search: delete report %s: %v", id, err)
		}
	}()
}

// DeleteMeeting removes a meeting from the search index (fire-and-forget).
func (s *Service) DeleteMeeting(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMeeting(id); err != nil {
			log.Printf("search: delete meeting %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called during bootstrap when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	reports, meetings, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexReports(reports); err != nil {
		log.Printf("search: reindex reports: %v", err)
	}
	if err := s.meili.IndexMeetings(meetings); err != nil {
		log.Printf("search: reindex meetings: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// sanitizeResults drops restricted reports for callers without access. The
// backends already filter; this is the last gate before the wire.
func sanitizeResults(results []Result, includeRestricted bool) []Result {
	if includeRestricted {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultReport && result.Restricted {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
