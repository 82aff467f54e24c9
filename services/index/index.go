// Package index coordinates full rebuilds of the search index from the job
// store.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/terkoizmy/jobdex/db"
	"github.com/terkoizmy/jobdex/db/kvdb"
	"github.com/terkoizmy/jobdex/db/searchdb"
	"github.com/terkoizmy/jobdex/logger"
	"github.com/terkoizmy/jobdex/metrics"
)

// Rebuilder is the search database operation needed for rebuilds.
type Rebuilder interface {
	Rebuild(documents []searchdb.Document) (int, error)
}

// Scraper refreshes the job store from the source site before a rebuild.
type Scraper interface {
	ScrapeAndStore(ctx context.Context) (int, error)
}

const (
	ProgressStatusStarted  = 0
	ProgressStatusScraped  = 40
	ProgressStatusLoaded   = 60
	ProgressStatusComplete = 100
	ProgressStatusFailed   = -1

	maxRebuildTime = 30 * time.Minute
)

var ErrRebuildInProgress = errors.New("rebuild already in progress")

type Service struct {
	logger    logger.Logger
	rebuilder Rebuilder
	scraper   Scraper
	kvDB      kvdb.DB
	metrics   *metrics.Metrics
	rebuildC  chan rebuildRequest
}

type rebuildRequest struct {
	requestID string
	scrape    bool
}

func New(ctx context.Context, logger logger.Logger, rebuilder Rebuilder, scraper Scraper, kvDB kvdb.DB, m *metrics.Metrics) *Service {
	indexService := &Service{
		logger:    logger,
		rebuilder: rebuilder,
		scraper:   scraper,
		kvDB:      kvDB,
		metrics:   m,
		rebuildC:  make(chan rebuildRequest),
	}

	go indexService.run(ctx)
	return indexService
}

// Rebuild queues a full index rebuild and returns immediately. Only one
// rebuild runs at a time; a request arriving while one is running is
// rejected with ErrRebuildInProgress.
func (s *Service) Rebuild(requestID string, scrape bool) error {

	s.setRequestStatus(requestID, ProgressStatusStarted)

	select {
	// This leads to s.rebuild being called
	case s.rebuildC <- rebuildRequest{requestID: requestID, scrape: scrape}:
		return nil
	default:
		s.logger.Warn("request to rebuild while rebuild is already in progress")
		return ErrRebuildInProgress
	}
}

// GetStatus retrieves the progress status for a rebuild request.
func (s *Service) GetStatus(requestID string) (int, error) {
	value, err := s.kvDB.Get(kvdb.RequestsBucket, requestID)
	if err != nil {
		return 0, fmt.Errorf("request not found: %w", err)
	}

	status, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid status value: %w", err)
	}

	return status, nil
}

func (s *Service) run(ctx context.Context) {

	for {
		select {
		case req := <-s.rebuildC:
			rebuildCtx, cancel := context.WithTimeout(ctx, maxRebuildTime)
			s.rebuild(rebuildCtx, req)
			cancel()
		case <-ctx.Done():
			s.logger.Info("rebuild service stopped", "reason", ctx.Err())
			return
		}
	}
}

func (s *Service) rebuild(ctx context.Context, req rebuildRequest) {
	start := time.Now()

	if req.scrape {
		if s.scraper == nil {
			s.fail(req.requestID, errors.New("no scraper configured"))
			return
		}

		scraped, err := s.scraper.ScrapeAndStore(ctx)
		if err != nil {
			s.fail(req.requestID, err)
			return
		}

		s.metrics.JobsScrapedTotal.Add(float64(scraped))
		s.setRequestStatus(req.requestID, ProgressStatusScraped)
	}

	jobs, err := s.loadJobs()
	if err != nil {
		s.fail(req.requestID, err)
		return
	}
	s.setRequestStatus(req.requestID, ProgressStatusLoaded)

	indexed, err := s.rebuilder.Rebuild(jobsToDocuments(jobs))
	if err != nil {
		s.fail(req.requestID, err)
		return
	}

	s.metrics.DocsIndexedTotal.Add(float64(indexed))
	s.metrics.RebuildsTotal.WithLabelValues(metrics.RebuildCompleted).Inc()
	s.metrics.RebuildDuration.Observe(time.Since(start).Seconds())

	s.setRequestStatus(req.requestID, ProgressStatusComplete)
	s.logger.Info("index rebuild complete", "request_id", req.requestID, "jobs", indexed, "duration", time.Since(start).String())
}

func (s *Service) fail(requestID string, err error) {
	s.logger.Error("failed to rebuild index", "request_id", requestID, "err", err.Error())
	s.metrics.RebuildsTotal.WithLabelValues(metrics.RebuildFailed).Inc()
	s.setRequestStatus(requestID, ProgressStatusFailed)
}

// loadJobs reads every job from the store, sorted by URL. Stable document
// order across rebuilds keeps result ordering stable for tied scores.
func (s *Service) loadJobs() ([]db.Job, error) {
	entries, err := s.kvDB.GetAll(kvdb.JobsBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs from store: %w", err)
	}

	urls := make([]string, 0, len(entries))
	for url := range entries {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	jobs := make([]db.Job, 0, len(entries))
	for _, url := range urls {
		var job db.Job
		if err := json.Unmarshal([]byte(entries[url]), &job); err != nil {
			s.logger.Warn("skipping malformed job entry", "url", url, "err", err.Error())
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (s *Service) setRequestStatus(requestID string, status int) {
	if err := s.kvDB.Set(kvdb.RequestsBucket, requestID, strconv.Itoa(status)); err != nil {
		s.logger.Error("failed to update request status", "request_id", requestID, "progress", status, "err", err.Error())
	}
}

func jobsToDocuments(jobs []db.Job) []searchdb.Document {
	documents := make([]searchdb.Document, 0, len(jobs))
	for _, job := range jobs {
		documents = append(documents, searchdb.Document{
			Title:       job.Title,
			Company:     job.Company,
			Description: job.Description,
			SalaryMin:   job.SalaryMin,
		})
	}

	return documents
}
