package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// salaryPattern matches numbers with optional thousands separators, e.g.
// "$50,000" or "50000".
var salaryPattern = regexp.MustCompile(`\$?(\d{1,3}(?:,\d{3})*|\d+)`)

const minPlausibleSalary = 1000

// extractSalary returns the first plausible salary figure in the text, which
// for a range like "$50,000 - $70,000" is the lower bound. Numbers below 1000
// are years, team sizes and the like rather than salaries, so they are
// ignored. Returns nil when nothing plausible is found.
func extractSalary(text string) *int64 {
	for _, match := range salaryPattern.FindAllStringSubmatch(text, -1) {
		clean := strings.ReplaceAll(match[1], ",", "")

		num, err := strconv.ParseInt(clean, 10, 64)
		if err != nil {
			continue
		}

		if num >= minPlausibleSalary {
			return &num
		}
	}

	return nil
}
