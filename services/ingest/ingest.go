// Package ingest collects job postings from weworkremotely.com category
// pages and stores them in the job store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/terkoizmy/jobdex/config"
	"github.com/terkoizmy/jobdex/db"
	"github.com/terkoizmy/jobdex/db/kvdb"
	"github.com/terkoizmy/jobdex/logger"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	logger     logger.Logger
	fetcher    *Fetcher
	kvDB       kvdb.DB
	baseURL    string
	categories []string
}

func New(logger logger.Logger, cfg *config.Config, kvDB kvdb.DB) *Service {
	return &Service{
		logger:     logger,
		fetcher:    NewFetcher(logger, cfg.GetScrapeUserAgent(), cfg.GetScrapeRateLimit()),
		kvDB:       kvDB,
		baseURL:    cfg.GetScrapeBaseURL(),
		categories: cfg.GetScrapeCategories(),
	}
}

// Scrape fetches the configured category pages concurrently and returns the
// unique jobs found, in page order. A job listed on several category pages is
// kept from the first page that listed it. A category page that fails to
// fetch or parse is skipped; Scrape only fails when every page does.
func (s *Service) Scrape(ctx context.Context) ([]db.Job, error) {
	pages := make([][]db.Job, len(s.categories))
	pageErrs := make([]error, len(s.categories))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, category := range s.categories {
		group.Go(func() error {
			jobs, err := s.scrapeCategory(groupCtx, category)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				s.logger.Warn("skipping category page", "category", category, "err", err.Error())
				pageErrs[i] = err
				return nil
			}

			pages[i] = jobs
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := errors.Join(pageErrs...); err != nil && failedAll(pageErrs) {
		return nil, fmt.Errorf("all category pages failed: %w", err)
	}

	return dedupeJobs(pages), nil
}

// ScrapeAndStore runs a scrape and atomically replaces the job store contents
// with the result, returning the number of jobs stored. A scrape that finds
// no jobs at all leaves the store untouched; an empty result almost always
// means the site markup changed, not that every job disappeared.
func (s *Service) ScrapeAndStore(ctx context.Context) (int, error) {
	jobs, err := s.Scrape(ctx)
	if err != nil {
		return 0, err
	}

	if len(jobs) == 0 {
		return 0, errors.New("scrape found no jobs, leaving job store unchanged")
	}

	entries := make(map[string]string, len(jobs))
	for _, job := range jobs {
		serialized, err := json.Marshal(job)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize job %s: %w", job.URL, err)
		}
		entries[job.URL] = string(serialized)
	}

	if err := s.kvDB.ReplaceAll(kvdb.JobsBucket, entries); err != nil {
		return 0, fmt.Errorf("failed to store scraped jobs: %w", err)
	}

	s.logger.Info("job store replaced with scraped jobs", "jobs", len(entries))

	return len(entries), nil
}

func (s *Service) scrapeCategory(ctx context.Context, category string) ([]db.Job, error) {
	pageURL := category
	if !strings.HasPrefix(pageURL, "http") {
		pageURL = s.baseURL + category
	}

	s.logger.Info("fetching category page", "url", pageURL)

	html, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}

	jobs, err := extractJobs(html, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract jobs from %s: %w", pageURL, err)
	}

	s.logger.Info("extracted jobs from category page", "url", pageURL, "jobs", len(jobs))

	return jobs, nil
}

func dedupeJobs(pages [][]db.Job) []db.Job {
	seen := make(map[string]struct{})

	var jobs []db.Job
	for _, page := range pages {
		for _, job := range page {
			if _, ok := seen[job.URL]; ok {
				continue
			}
			seen[job.URL] = struct{}{}
			jobs = append(jobs, job)
		}
	}

	return jobs
}

func failedAll(pageErrs []error) bool {
	for _, err := range pageErrs {
		if err == nil {
			return false
		}
	}

	return len(pageErrs) > 0
}
