package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultReport  ResultType = "report"
	ResultMeeting ResultType = "meeting"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type         ResultType `json:"type"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Snippet      string     `json:"snippet"`
	DepartmentID string     `json:"departmentId,omitempty"`
	Status       string     `json:"status,omitempty"`
	Restricted   bool       `json:"restricted,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text               string
	FilterType         ResultType // empty = all types
	FilterDepartmentID string
	Limit              int
	Offset             int
	// IncludeRestricted is set when the caller may see restricted reports.
	IncludeRestricted bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexReport(r ReportRecord) error
	IndexMeeting(m MeetingRecord) error
	DeleteReport(id string) error
	DeleteMeeting(id string) error
}

// ReportRecord is the data we index for an incident report.
type ReportRecord struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	DepartmentID string `json:"departmentId"`
	Status       string `json:"status"`
	Restricted   bool   `json:"restricted"`
}

// MeetingRecord is the data we index for a meeting.
type MeetingRecord struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Agenda string `json:"agenda"`
}
