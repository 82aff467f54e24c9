// Package search runs free-text queries against the search index.
package search

import (
	"time"

	"github.com/terkoizmy/jobdex/db/searchdb"
	"github.com/terkoizmy/jobdex/logger"
	"github.com/terkoizmy/jobdex/metrics"
)

type Service struct {
	logger   logger.Logger
	searchDB searchdb.DB
	metrics  *metrics.Metrics
}

func New(logger logger.Logger, searchDB searchdb.DB, m *metrics.Metrics) *Service {
	return &Service{
		logger:   logger,
		searchDB: searchDB,
		metrics:  m,
	}
}

// Search runs the query and records outcome metrics. Queries that cannot be
// parsed come back as an empty result set, not an error.
func (s *Service) Search(query string, limit int, minSalary int64) (*searchdb.Response, error) {
	start := time.Now()

	response, err := s.searchDB.Search(query, limit, minSalary)
	if err != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		s.logger.Error("search failed", "query", query, "err", err.Error())
		return nil, err
	}

	s.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	s.metrics.SearchResultsCount.Observe(float64(len(response.Results)))

	switch {
	case response.ParseFailed:
		s.metrics.SearchQueriesTotal.WithLabelValues(metrics.OutcomeParseError).Inc()
		s.logger.Warn("query could not be parsed, returning empty result set", "query", query)
	case len(response.Results) == 0:
		s.metrics.SearchQueriesTotal.WithLabelValues(metrics.OutcomeEmpty).Inc()
	default:
		s.metrics.SearchQueriesTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	}

	s.logger.Debug("search complete", "query", query, "results", len(response.Results), "total", response.Total, "took", response.SearchTime)

	return response, nil
}
