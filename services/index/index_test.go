package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/terkoizmy/jobdex/config"
	"github.com/terkoizmy/jobdex/db"
	"github.com/terkoizmy/jobdex/db/kvdb"
	"github.com/terkoizmy/jobdex/db/searchdb"
	"github.com/terkoizmy/jobdex/logger"
	"github.com/terkoizmy/jobdex/metrics"
)

type stubRebuilder struct {
	mu        sync.Mutex
	documents []searchdb.Document
	err       error
	block     chan struct{}
}

func (r *stubRebuilder) Rebuild(documents []searchdb.Document) (int, error) {
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.documents = documents
	return len(documents), nil
}

func (r *stubRebuilder) indexedDocuments() []searchdb.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.documents
}

type stubScraper struct {
	kvDB kvdb.DB
	jobs []db.Job
	err  error
}

func (s *stubScraper) ScrapeAndStore(_ context.Context) (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	entries := make(map[string]string, len(s.jobs))
	for _, job := range s.jobs {
		serialized, err := json.Marshal(job)
		if err != nil {
			return 0, err
		}
		entries[job.URL] = string(serialized)
	}

	if err := s.kvDB.ReplaceAll(kvdb.JobsBucket, entries); err != nil {
		return 0, err
	}

	return len(entries), nil
}

func TestRebuildIndexesStoredJobs(t *testing.T) {
	assert := require.New(t)
	rebuilder := &stubRebuilder{}
	service, kvDB, serviceMetrics := setupTestService(t, assert, rebuilder, nil)

	seedJobs(assert, kvDB,
		db.Job{Title: "Backend Engineer", Company: "Acme", Description: "Go services", SalaryMin: int64Ptr(90000), URL: "https://a.example/jobs/1"},
		db.Job{Title: "Frontend Developer", Company: "Globex", Description: "React", URL: "https://b.example/jobs/2"},
	)

	requestID := uuid.NewString()
	assert.NoError(service.Rebuild(requestID, false))
	waitForStatus(t, assert, service, requestID, ProgressStatusComplete)

	documents := rebuilder.indexedDocuments()
	assert.Len(documents, 2)

	// Jobs are indexed in URL order.
	assert.Equal("Backend Engineer", documents[0].Title)
	assert.Equal("Acme", documents[0].Company)
	assert.Equal("Go services", documents[0].Description)
	assert.NotNil(documents[0].SalaryMin)
	assert.Equal(int64(90000), *documents[0].SalaryMin)

	assert.Equal("Frontend Developer", documents[1].Title)
	assert.Nil(documents[1].SalaryMin)

	assert.Equal(float64(2), testutil.ToFloat64(serviceMetrics.DocsIndexedTotal))
}

func TestRebuildWithEmptyStore(t *testing.T) {
	assert := require.New(t)
	rebuilder := &stubRebuilder{}
	service, _, _ := setupTestService(t, assert, rebuilder, nil)

	requestID := uuid.NewString()
	assert.NoError(service.Rebuild(requestID, false))
	waitForStatus(t, assert, service, requestID, ProgressStatusComplete)

	assert.Empty(rebuilder.indexedDocuments())
}

func TestRebuildReportsFailure(t *testing.T) {
	assert := require.New(t)
	rebuilder := &stubRebuilder{err: errors.New("disk full")}
	service, kvDB, serviceMetrics := setupTestService(t, assert, rebuilder, nil)

	seedJobs(assert, kvDB, db.Job{Title: "Backend Engineer", URL: "https://a.example/jobs/1"})

	requestID := uuid.NewString()
	assert.NoError(service.Rebuild(requestID, false))
	waitForStatus(t, assert, service, requestID, ProgressStatusFailed)

	assert.Equal(float64(1), testutil.ToFloat64(serviceMetrics.RebuildsTotal.WithLabelValues(metrics.RebuildFailed)))
}

func TestOnlyOneRebuildAtATime(t *testing.T) {
	assert := require.New(t)
	rebuilder := &stubRebuilder{block: make(chan struct{})}
	service, _, _ := setupTestService(t, assert, rebuilder, nil)

	firstID := uuid.NewString()
	assert.NoError(service.Rebuild(firstID, false))

	err := service.Rebuild(uuid.NewString(), false)
	assert.ErrorIs(err, ErrRebuildInProgress)

	close(rebuilder.block)
	waitForStatus(t, assert, service, firstID, ProgressStatusComplete)

	rebuilder.block = nil
	assert.Eventually(func() bool {
		return service.Rebuild(uuid.NewString(), false) == nil
	}, 5*time.Second, 10*time.Millisecond, "a new rebuild should be accepted once the previous one finishes")
}

func TestRebuildWithScrape(t *testing.T) {
	assert := require.New(t)
	rebuilder := &stubRebuilder{}
	scraper := &stubScraper{
		jobs: []db.Job{
			{Title: "Platform Engineer", Company: "Initech", URL: "https://a.example/jobs/7"},
		},
	}
	service, kvDB, serviceMetrics := setupTestService(t, assert, rebuilder, scraper)
	scraper.kvDB = kvDB

	// Pre-existing store contents are replaced by the scrape.
	seedJobs(assert, kvDB, db.Job{Title: "Stale Job", URL: "https://stale.example/jobs/1"})

	requestID := uuid.NewString()
	assert.NoError(service.Rebuild(requestID, true))
	waitForStatus(t, assert, service, requestID, ProgressStatusComplete)

	documents := rebuilder.indexedDocuments()
	assert.Len(documents, 1)
	assert.Equal("Platform Engineer", documents[0].Title)

	assert.Equal(float64(1), testutil.ToFloat64(serviceMetrics.JobsScrapedTotal))
}

func TestRebuildWithScrapeFailure(t *testing.T) {
	assert := require.New(t)
	rebuilder := &stubRebuilder{}
	scraper := &stubScraper{err: errors.New("site unreachable")}
	service, _, _ := setupTestService(t, assert, rebuilder, scraper)

	requestID := uuid.NewString()
	assert.NoError(service.Rebuild(requestID, true))
	waitForStatus(t, assert, service, requestID, ProgressStatusFailed)

	assert.Empty(rebuilder.indexedDocuments(), "a failed scrape should stop the rebuild before indexing")
}

func TestGetStatusUnknownRequest(t *testing.T) {
	assert := require.New(t)
	service, _, _ := setupTestService(t, assert, &stubRebuilder{}, nil)

	_, err := service.GetStatus(uuid.NewString())
	assert.ErrorIs(err, kvdb.ErrNotFound)
}

func setupTestService(t *testing.T, assert *require.Assertions, rebuilder Rebuilder, scraper Scraper) (*Service, kvdb.DB, *metrics.Metrics) {
	t.Helper()

	t.Setenv("ENV", "test")
	t.Setenv("STORAGE_PATH", t.TempDir())

	cfg, err := config.Load()
	assert.NoError(err, "could not load config")

	kvDB, err := kvdb.New(newTestLogger(), cfg)
	assert.NoError(err, "could not create kv database")
	t.Cleanup(func() {
		kvDB.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serviceMetrics := metrics.New()

	return New(ctx, newTestLogger(), rebuilder, scraper, kvDB, serviceMetrics), kvDB, serviceMetrics
}

func seedJobs(assert *require.Assertions, kvDB kvdb.DB, jobs ...db.Job) {
	for _, job := range jobs {
		serialized, err := json.Marshal(job)
		assert.NoError(err)
		assert.NoError(kvDB.Set(kvdb.JobsBucket, job.URL, string(serialized)))
	}
}

func waitForStatus(t *testing.T, assert *require.Assertions, service *Service, requestID string, expected int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := service.GetStatus(requestID)
		if err == nil && status == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.FailNow(fmt.Sprintf("timed out waiting for status %d on request %s", expected, requestID))
}

func newTestLogger() logger.Logger {

	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}

func int64Ptr(v int64) *int64 {
	return &v
}
