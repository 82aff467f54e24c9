package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/terkoizmy/jobdex/db"
)

// CSS selectors for weworkremotely.com category listing pages.
const (
	selectorListing  = "li.feature, .new-listing-container"
	selectorTitle    = ".new-listing__header__title"
	selectorCompany  = ".new-listing__company-name"
	selectorLocation = ".new-listing__company-headquarters"
	selectorJobLink  = ".listing-link--unlocked, ._blank"
)

const (
	defaultCompany  = "Unknown Company"
	defaultLocation = "Remote"
	missingURL      = "No URL"
)

// extractJobs pulls job cards out of a category listing page. Cards without a
// title are skipped. The card's full text doubles as the searchable
// description and as the input for salary mining.
func extractJobs(html []byte, baseURL string) ([]db.Job, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}

	var jobs []db.Job
	doc.Find(selectorListing).Each(func(_ int, listing *goquery.Selection) {
		// Card fields often span nested elements, so collapse the whitespace
		// goquery's Text() concatenation leaves behind.
		title := normalizeWhitespace(listing.Find(selectorTitle).First().Text())
		if title == "" {
			return
		}

		company := normalizeWhitespace(listing.Find(selectorCompany).First().Text())
		if company == "" {
			company = defaultCompany
		}

		location := normalizeWhitespace(listing.Find(selectorLocation).First().Text())
		if location == "" {
			location = defaultLocation
		}

		jobURL := missingURL
		if href, exists := listing.Find(selectorJobLink).First().Attr("href"); exists {
			if strings.HasPrefix(href, "http") {
				jobURL = href
			} else {
				jobURL = baseURL + href
			}
		}

		rawText := listing.Text()

		jobs = append(jobs, db.Job{
			Title:       title,
			Company:     company,
			Location:    location,
			Description: normalizeWhitespace(rawText),
			SalaryRaw:   strings.TrimSpace(rawText),
			SalaryMin:   extractSalary(rawText),
			URL:         jobURL,
		})
	})

	return jobs, nil
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
