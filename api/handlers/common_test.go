// Common test helpers
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/terkoizmy/jobdex/config"
	"github.com/terkoizmy/jobdex/db"
	"github.com/terkoizmy/jobdex/db/kvdb"
	"github.com/terkoizmy/jobdex/db/searchdb"
	"github.com/terkoizmy/jobdex/logger"
	"github.com/terkoizmy/jobdex/metrics"
	"github.com/terkoizmy/jobdex/services/index"
	"github.com/terkoizmy/jobdex/services/search"
	"github.com/terkoizmy/jobdex/validation"
)

var defaultTestRequestHeaders = map[string]string{"Content-Type": "application/json"}

var testJobs = []db.Job{
	{
		Title:       "Senior Backend Engineer",
		Company:     "Initech",
		Location:    "Remote",
		Description: "Design and build Go services and HTTP APIs",
		SalaryRaw:   "$120,000 or more",
		SalaryMin:   int64Ptr(120000),
		URL:         "https://example.com/jobs/1",
	},
	{
		Title:       "Frontend Developer",
		Company:     "Globex",
		Location:    "Remote",
		Description: "Build delightful interfaces with TypeScript",
		URL:         "https://example.com/jobs/2",
	},
	{
		Title:       "Backend Developer",
		Company:     "Hooli",
		Location:    "Remote",
		Description: "Work on our Ruby on Rails and PostgreSQL stack",
		SalaryRaw:   "$90,000",
		SalaryMin:   int64Ptr(90000),
		URL:         "https://example.com/jobs/3",
	},
}

type testCase struct {
	name             string
	requestHeaders   map[string]string
	requestBody      map[string]any
	queryParams      map[string]string
	expectedStatus   int
	expectedResponse map[string]any
}

func newTestLogger() logger.Logger {

	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}

func setupTestServer(t *testing.T, assert *require.Assertions) (*gin.Engine, func()) {

	t.Setenv("ENV", "test")
	t.Setenv("STORAGE_PATH", t.TempDir())

	cfg, err := config.Load()
	assert.NoError(err, "could not load config")

	testLogger := newTestLogger()

	kvDB, err := kvdb.New(testLogger, cfg)
	assert.NoError(err, "could not create kv database")

	searchDB, err := searchdb.New(testLogger, cfg)
	assert.NoError(err, "could not create search database")

	validator, err := validation.New(testLogger)
	assert.NoError(err, "could not create validator")

	seedTestJobs(assert, kvDB)

	m := metrics.New()
	ctx, cancel := context.WithCancel(context.Background())
	indexService := index.New(ctx, testLogger, searchDB, nil, kvDB, m)
	searchService := search.New(testLogger, searchDB, m)

	gin.SetMode(gin.TestMode)
	router := gin.New()

	SetupSearch(router, testLogger, searchService, validator)
	SetupRebuild(router, testLogger, indexService)

	cleanup := func() {
		cancel()
		var err error
		err = searchDB.Close()
		assert.NoError(err, "could not close search database")
		err = kvDB.Close()
		assert.NoError(err, "could not close kv database")
	}

	return router, cleanup
}

func seedTestJobs(assert *require.Assertions, kvDB kvdb.DB) {
	for _, job := range testJobs {
		payload, err := json.Marshal(job)
		assert.NoError(err, "could not marshal test job")
		err = kvDB.Set(kvdb.JobsBucket, job.URL, string(payload))
		assert.NoError(err, "could not store test job")
	}
}

// rebuildAndWait triggers an index rebuild over the stored jobs and blocks
// until it completes, so that searches afterwards see the seeded data.
func rebuildAndWait(assert *require.Assertions, router *gin.Engine) {
	w := makeTestHTTPRequest(router, assert, http.MethodPost, "/rebuild", defaultTestRequestHeaders, map[string]any{"scrape": false}, nil)
	assert.Equal(http.StatusAccepted, w.Code, fmt.Sprintf("response gotten was %s", w.Body.String()))

	requestID := rebuildRequestID(assert, w.Body.Bytes())
	w = waitForRebuildOutcome(assert, router, requestID)
	assert.Equal(http.StatusOK, w.Code, fmt.Sprintf("response gotten was %s", w.Body.String()))
}

func rebuildRequestID(assert *require.Assertions, responseBytes []byte) string {
	var actualResponse struct {
		Data   RebuildResponse `json:"data"`
		Errors []string        `json:"errors"`
	}
	err := json.Unmarshal(responseBytes, &actualResponse)
	assert.NoError(err, "could not unmarshal rebuild response")
	_, err = uuid.Parse(actualResponse.Data.ID)
	assert.NoError(err, "got an error parsing gotten request id into UUID")

	return actualResponse.Data.ID
}

// waitForRebuildOutcome polls the rebuild status endpoint until the rebuild
// reaches a terminal state and returns the final response.
func waitForRebuildOutcome(assert *require.Assertions, router *gin.Engine, requestID string) *httptest.ResponseRecorder {
	maxWaitForRebuild := 10 * time.Second

	for startTime := time.Now().UTC(); time.Since(startTime) < maxWaitForRebuild; time.Sleep(100 * time.Millisecond) {
		w := makeTestHTTPRequest(router, assert, http.MethodGet, fmt.Sprintf("/rebuild/%s", requestID), nil, nil, nil)
		if w.Code != http.StatusAccepted {
			return w
		}
	}
	assert.Fail("timed out waiting for rebuild to finish: " + requestID)

	return nil
}

func makeTestHTTPRequest(router *gin.Engine, assert *require.Assertions, method string, endpoint string, headers map[string]string, requestBodyMap map[string]interface{}, queryParams map[string]string) *httptest.ResponseRecorder {

	var err error
	w := httptest.NewRecorder()

	if len(queryParams) > 0 {
		endpoint = endpoint + "?"
		for key, value := range queryParams {
			if endpoint[len(endpoint)-1] != '?' {
				endpoint = endpoint + "&"
			}
			endpoint = endpoint + key + "=" + value
		}
	}
	var jsonBody []byte
	var req *http.Request
	if requestBodyMap != nil {
		jsonBody, err = json.Marshal(requestBodyMap)
		assert.NoError(err)
	}

	slog.Info("Making test request", "method", method, "endpoint", endpoint, "headers", headers, "body", string(jsonBody))

	if len(jsonBody) > 0 {
		req, err = http.NewRequest(method, endpoint, bytes.NewBuffer(jsonBody))
	} else {
		req, err = http.NewRequest(method, endpoint, nil)
	}
	assert.NoError(err)

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	router.ServeHTTP(w, req)

	return w
}

func int64Ptr(value int64) *int64 {
	return &value
}
