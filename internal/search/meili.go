package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxReports  = "cid_reports"
	idxMeetings = "cid_meetings"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is not fatal; the health loop keeps retrying and the
// caller falls back to Postgres FTS in the meantime.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxReports,
			primaryKey: "id",
			filterable: []string{"departmentId", "status", "restricted"},
			searchable: []string{"title", "summary"},
		},
		{
			uid:        idxMeetings,
			primaryKey: "id",
			filterable: []string{},
			searchable: []string{"title", "agenda"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		if len(idx.filterable) > 0 {
			filterableInterface := make([]interface{}, len(idx.filterable))
			for i, v := range idx.filterable {
				filterableInterface[i] = v
			}
			if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
				log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
			}
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxReports, ResultReport},
		{idxMeetings, ResultMeeting},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		var filters []string
		if ti.rtyp == ResultReport {
			if q.FilterDepartmentID != "" {
				filters = append(filters, fmt.Sprintf("departmentId = %q", q.FilterDepartmentID))
			}
			if !q.IncludeRestricted {
				filters = append(filters, "restricted = false")
			}
		}
		if len(filters) > 0 {
			sr.Filter = filters
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxReports:
		return ResultReport
	case idxMeetings:
		return ResultMeeting
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")

	switch rtyp {
	case ResultReport:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "summary"), decodeString(hit, "summary"))
		r.DepartmentID = decodeString(hit, "departmentId")
		r.Status = decodeString(hit, "status")
		r.Restricted = decodeBool(hit, "restricted")
	case ResultMeeting:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "agenda"), decodeString(hit, "agenda"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return false
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexReport adds or updates an incident report in the search index.
func (m *Meili) IndexReport(r ReportRecord) error {
	_, err := m.client.Index(idxReports).AddDocuments([]ReportRecord{r}, nil)
	return err
}

// IndexMeeting adds or updates a meeting in the search index.
func (m *Meili) IndexMeeting(rec MeetingRecord) error {
	_, err := m.client.Index(idxMeetings).AddDocuments([]MeetingRecord{rec}, nil)
	return err
}

// DeleteReport removes an incident report from the search index.
func (m *Meili) DeleteReport(id string) error {
	_, err := m.client.Index(idxReports).DeleteDocument(id, nil)
	return err
}

// DeleteMeeting removes a meeting from the search index.
func (m *Meili) DeleteMeeting(id string) error {
	_, err := m.client.Index(idxMeetings).DeleteDocument(id, nil)
	return err
}

// IndexReports bulk-indexes incident reports.
func (m *Meili) IndexReports(reports []ReportRecord) error {
	if len(reports) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReports).AddDocuments(reports, nil)
	return err
}

// IndexMeetings bulk-indexes meetings.
func (m *Meili) IndexMeetings(meetings []MeetingRecord) error {
	if len(meetings) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMeetings).AddDocuments(meetings, nil)
	return err
}
