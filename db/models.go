package db

// Job is one scraped job posting. URL is the unique key: the scraper and the
// job store both deduplicate on it. SalaryMin is nil when no salary could be
// mined from the listing text.
type Job struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description"`
	SalaryRaw   string `json:"salary_raw"`
	SalaryMin   *int64 `json:"salary_min"`
	URL         string `json:"url"`
}
