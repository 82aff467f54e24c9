package searchdb

// Document is one job posting as stored in the search index. SalaryMin is a
// pointer so postings with no salary information stay out of salary range
// filters entirely.
type Document struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Description string `json:"description"`
	SalaryMin   *int64 `json:"salary_min,omitempty"`
}

type Result struct {
	Title   string  `json:"title"`
	Company string  `json:"company"`
	Score   float64 `json:"score"`
}

type Response struct {
	Results    []Result `json:"results"`
	Total      uint64   `json:"total"`
	MaxScore   float64  `json:"max_score"`
	SearchTime string   `json:"search_time"`

	// ParseFailed is set when the query string could not be parsed. The
	// response is then empty but not an error.
	ParseFailed bool `json:"-"`
}
