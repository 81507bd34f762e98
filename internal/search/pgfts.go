package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across incident_reports and meetings
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultReport {
		where := "r.fts @@ " + tsQuery
		if q.FilterDepartmentID != "" {
			where += fmt.Sprintf(" AND r.department_id = $%d", argN)
			args = append(args, q.FilterDepartmentID)
			argN++
		}
		if !q.IncludeRestricted {
			where += " AND NOT r.restricted"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'report'::text AS type, r.id, r.title,
				ts_headline('simple', coalesce(r.summary, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				r.department_id, r.status, r.restricted,
				ts_rank(r.fts, %s) AS rank
			FROM incident_reports r
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultMeeting {
		where := "m.fts @@ " + tsQuery
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'meeting'::text AS type, m.id, m.title,
				ts_headline('simple', coalesce(m.agenda, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS department_id, ''::text AS status, FALSE AS restricted,
				ts_rank(m.fts, %s) AS rank
			FROM meetings m
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, department_id, status, restricted
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DepartmentID, &r.Status, &r.Restricted); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ReportRecord, []MeetingRecord, error) {
	reportRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, summary, department_id, status, restricted
		FROM incident_reports
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load reports: %w", err)
	}
	defer reportRows.Close()

	reports := make([]ReportRecord, 0)
	for reportRows.Next() {
		var r ReportRecord
		if err := reportRows.Scan(&r.ID, &r.Title, &r.Summary, &r.DepartmentID, &r.Status, &r.Restricted); err != nil {
			return nil, nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := reportRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate reports: %w", err)
	}

	meetingRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, agenda
		FROM meetings
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load meetings: %w", err)
	}
	defer meetingRows.Close()

	meetings := make([]MeetingRecord, 0)
	for meetingRows.Next() {
		var m MeetingRecord
		if err := meetingRows.Scan(&m.ID, &m.Title, &m.Agenda); err != nil {
			return nil, nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	if err := meetingRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate meetings: %w", err)
	}

	return reports, meetings, nil
}
