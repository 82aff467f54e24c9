package searchdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"
	"github.com/terkoizmy/jobdex/config"
	"github.com/terkoizmy/jobdex/logger"
)

const indexingBatchSize = 100

const (
	indexFieldTitle       = "title"
	indexFieldCompany     = "company"
	indexFieldDescription = "description"
	indexFieldSalaryMin   = "salary_min"
)

const (
	generationPrefix  = "gen-"
	currentMarkerFile = "CURRENT"
	currentMarkerTmp  = "CURRENT.tmp"
)

// generation is one immutable committed index. Searches hold a reference
// while reading; the last reference closes the index and, once the
// generation has been retired by a rebuild, removes its directory.
type generation struct {
	index   bleve.Index
	dir     string
	refs    atomic.Int64
	retired atomic.Bool
	closed  atomic.Bool
}

type BleveDB struct {
	baseDir string
	logger  logger.Logger
	current atomic.Pointer[generation]

	// rebuildMu serializes Rebuild and guards genSeq.
	rebuildMu sync.Mutex
	genSeq    uint64
}

func New(logger logger.Logger, cfg *config.Config) (*BleveDB, error) {
	baseDir := filepath.Join(cfg.GetStoragePath(), cfg.GetIndexPath())
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		logger.Error("failed to create index directory", "err", err.Error(), "path", baseDir)
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	b := &BleveDB{baseDir: baseDir, logger: logger}

	currentName, err := readCurrentMarker(baseDir)
	if err != nil {
		logger.Error("could not read index marker", "err", err.Error(), "path", baseDir)
		return nil, err
	}

	if currentName == "" {
		if err := b.createInitialGeneration(); err != nil {
			return nil, err
		}
		return b, nil
	}

	seq, err := parseGenerationName(currentName)
	if err != nil {
		logger.Error("corrupt index marker", "err", err.Error(), "name", currentName)
		return nil, fmt.Errorf("%w: corrupt index marker %q", ErrIndexRead, currentName)
	}

	genDir := filepath.Join(baseDir, currentName)
	idx, err := bleve.Open(genDir)
	if err != nil {
		logger.Error("could not open index", "err", err.Error(), "path", genDir)
		return nil, fmt.Errorf("%w: %s", ErrIndexRead, err)
	}

	if err := validateSchema(idx.Mapping()); err != nil {
		idx.Close()
		logger.Error("index schema validation failed", "err", err.Error(), "path", genDir)
		return nil, err
	}

	gen := &generation{index: idx, dir: genDir}
	gen.refs.Store(1)
	b.current.Store(gen)
	b.genSeq = seq

	b.sweepStaleFiles(currentName)

	return b, nil
}

// Rebuild builds the new contents into a fresh generation directory, commits
// it by atomically rewriting the CURRENT marker, and swaps the live
// generation pointer. In-flight searches keep reading the previous
// generation until they finish; its directory is removed once the last
// reader drops it.
func (b *BleveDB) Rebuild(documents []Document) (int, error) {
	b.rebuildMu.Lock()
	defer b.rebuildMu.Unlock()

	if b.current.Load() == nil {
		return 0, fmt.Errorf("%w: database is closed", ErrIndexWrite)
	}

	seq := b.genSeq + 1
	genName := generationName(seq)
	genDir := filepath.Join(b.baseDir, genName)

	// A crashed rebuild can leave a partial generation behind.
	if err := os.RemoveAll(genDir); err != nil {
		b.logger.Error("could not clear generation directory", "err", err.Error(), "path", genDir)
		return 0, fmt.Errorf("%w: could not clear generation directory: %s", ErrIndexWrite, err)
	}

	idx, err := bleve.New(genDir, buildIndexMapping())
	if err != nil {
		b.logger.Error("could not create index", "err", err.Error(), "path", genDir)
		return 0, fmt.Errorf("%w: %s", ErrIndexWrite, err)
	}

	if err := indexDocuments(idx, documents); err != nil {
		b.logger.Error("could not index documents", "err", err.Error())
		idx.Close()
		os.RemoveAll(genDir)
		return 0, fmt.Errorf("%w: %s", ErrIndexWrite, err)
	}

	if err := b.writeCurrentMarker(genName); err != nil {
		idx.Close()
		os.RemoveAll(genDir)
		return 0, err
	}

	gen := &generation{index: idx, dir: genDir}
	gen.refs.Store(1)

	old := b.current.Swap(gen)
	b.genSeq = seq
	if old != nil {
		old.retired.Store(true)
		b.release(old)
	}

	b.logger.Info("index rebuilt", "documents", len(documents), "generation", genName)

	return len(documents), nil
}

func (b *BleveDB) Search(queryString string, limit int, minSalary int64) (*Response, error) {
	start := time.Now()

	queryString = strings.TrimSpace(queryString)
	if queryString == "" {
		return emptyResponse(start, false), nil
	}

	gen := b.acquire()
	if gen == nil {
		return nil, fmt.Errorf("%w: database is closed", ErrIndexRead)
	}
	defer b.release(gen)

	parsed, err := parseQuery(queryString)
	if err != nil {
		b.logger.Debug("could not parse query", "query", queryString, "err", err.Error())
		return emptyResponse(start, true), nil
	}

	searchQuery := parsed
	if minSalary > 0 {
		searchQuery = bleve.NewConjunctionQuery(parsed, salaryFloorQuery(minSalary))
	}

	searchRequest := bleve.NewSearchRequestOptions(searchQuery, limit, 0, false)
	searchRequest.Fields = []string{indexFieldTitle, indexFieldCompany}
	// Equal scores fall back to document ID order, which is insertion order.
	searchRequest.SortBy([]string{"-_score", "_id"})

	searchResult, err := gen.index.Search(searchRequest)
	if err != nil {
		b.logger.Error("search failed", "err", err.Error())
		return nil, fmt.Errorf("%w: %s", ErrIndexRead, err)
	}

	results := make([]Result, len(searchResult.Hits))
	for i, hit := range searchResult.Hits {
		result := Result{Score: hit.Score}

		if title, ok := hit.Fields[indexFieldTitle].(string); ok {
			result.Title = title
		}
		if company, ok := hit.Fields[indexFieldCompany].(string); ok {
			result.Company = company
		}

		results[i] = result
	}

	response := &Response{
		Results:    results,
		Total:      searchResult.Total,
		MaxScore:   searchResult.MaxScore,
		SearchTime: time.Since(start).String(),
	}

	return response, nil
}

func (b *BleveDB) DocCount() (uint64, error) {
	gen := b.acquire()
	if gen == nil {
		return 0, fmt.Errorf("%w: database is closed", ErrIndexRead)
	}
	defer b.release(gen)

	return gen.index.DocCount()
}

func (b *BleveDB) Close() error {
	gen := b.current.Swap(nil)
	if gen == nil {
		return nil
	}
	return b.release(gen)
}

// acquire returns the live generation with a reference held, or nil when the
// database is closed.
func (b *BleveDB) acquire() *generation {
	for {
		gen := b.current.Load()
		if gen == nil {
			return nil
		}
		gen.refs.Add(1)
		if b.current.Load() == gen {
			return gen
		}
		// Lost a race with a rebuild; drop the stale generation and retry.
		b.release(gen)
	}
}

func (b *BleveDB) release(gen *generation) error {
	if gen.refs.Add(-1) != 0 {
		return nil
	}
	if !gen.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := gen.index.Close(); err != nil {
		b.logger.Error("could not close search index", "err", err.Error(), "path", gen.dir)
		return err
	}

	if gen.retired.Load() {
		if err := os.RemoveAll(gen.dir); err != nil {
			b.logger.Warn("could not remove retired index generation", "err", err.Error(), "path", gen.dir)
		}
	}

	return nil
}

func (b *BleveDB) createInitialGeneration() error {
	genName := generationName(1)
	genDir := filepath.Join(b.baseDir, genName)

	if err := os.RemoveAll(genDir); err != nil {
		b.logger.Error("could not clear generation directory", "err", err.Error(), "path", genDir)
		return fmt.Errorf("%w: could not clear generation directory: %s", ErrIndexWrite, err)
	}

	idx, err := bleve.New(genDir, buildIndexMapping())
	if err != nil {
		b.logger.Error("could not create index", "err", err.Error(), "path", genDir)
		return fmt.Errorf("%w: %s", ErrIndexWrite, err)
	}

	if err := b.writeCurrentMarker(genName); err != nil {
		idx.Close()
		os.RemoveAll(genDir)
		return err
	}

	gen := &generation{index: idx, dir: genDir}
	gen.refs.Store(1)
	b.current.Store(gen)
	b.genSeq = 1

	b.sweepStaleFiles(genName)

	return nil
}

// sweepStaleFiles removes generation directories left behind by interrupted
// rebuilds, plus any half-written marker file.
func (b *BleveDB) sweepStaleFiles(currentName string) {
	_ = os.Remove(filepath.Join(b.baseDir, currentMarkerTmp))

	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		b.logger.Warn("could not scan index directory for stale generations", "err", err.Error(), "path", b.baseDir)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == currentName || !entry.IsDir() || !strings.HasPrefix(name, generationPrefix) {
			continue
		}

		staleDir := filepath.Join(b.baseDir, name)
		b.logger.Warn("removing stale index generation", "path", staleDir)
		if err := os.RemoveAll(staleDir); err != nil {
			b.logger.Warn("could not remove stale index generation", "err", err.Error(), "path", staleDir)
		}
	}
}

func (b *BleveDB) writeCurrentMarker(genName string) error {
	tmpPath := filepath.Join(b.baseDir, currentMarkerTmp)
	if err := os.WriteFile(tmpPath, []byte(genName+"\n"), 0644); err != nil {
		b.logger.Error("could not write index marker", "err", err.Error())
		return fmt.Errorf("%w: could not write index marker: %s", ErrIndexWrite, err)
	}

	if err := os.Rename(tmpPath, filepath.Join(b.baseDir, currentMarkerFile)); err != nil {
		b.logger.Error("could not commit index marker", "err", err.Error())
		return fmt.Errorf("%w: could not commit index marker: %s", ErrIndexWrite, err)
	}

	return nil
}

func readCurrentMarker(baseDir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(baseDir, currentMarkerFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: could not read index marker: %s", ErrIndexRead, err)
	}

	return strings.TrimSpace(string(raw)), nil
}

func generationName(seq uint64) string {
	return fmt.Sprintf("%s%08d", generationPrefix, seq)
}

func parseGenerationName(name string) (uint64, error) {
	if !strings.HasPrefix(name, generationPrefix) {
		return 0, fmt.Errorf("not a generation name: %s", name)
	}

	return strconv.ParseUint(strings.TrimPrefix(name, generationPrefix), 10, 64)
}

func indexDocuments(idx bleve.Index, documents []Document) error {
	batch := idx.NewBatch()

	for i, doc := range documents {
		// Zero-padded ordinals keep lexicographic document ID order equal to
		// insertion order.
		if err := batch.Index(fmt.Sprintf("%08d", i), doc); err != nil {
			return err
		}

		// Execute batch when it reaches the batch size
		if (i+1)%indexingBatchSize == 0 {
			if err := idx.Batch(batch); err != nil {
				return err
			}
			batch = idx.NewBatch()
		}
	}

	if batch.Size() > 0 {
		return idx.Batch(batch)
	}

	return nil
}

func buildIndexMapping() mapping.IndexMapping {

	indexMapping := bleve.NewIndexMapping()
	indexMapping.ScoringModel = index.BM25Scoring

	docMapping := bleve.NewDocumentMapping()

	// Title - analyzed, stored for result rendering, searched by default
	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = standard.Name
	titleFieldMapping.Store = true
	titleFieldMapping.IncludeInAll = true
	docMapping.AddFieldMappingsAt(indexFieldTitle, titleFieldMapping)

	// Company - stored and indexed, but matched only through explicit
	// company: field queries, so kept out of the _all composite
	companyFieldMapping := bleve.NewTextFieldMapping()
	companyFieldMapping.Analyzer = standard.Name
	companyFieldMapping.Store = true
	companyFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(indexFieldCompany, companyFieldMapping)

	// Description - analyzed for full-text search, never stored or returned
	descriptionFieldMapping := bleve.NewTextFieldMapping()
	descriptionFieldMapping.Analyzer = standard.Name
	descriptionFieldMapping.Store = false
	descriptionFieldMapping.IncludeInAll = true
	docMapping.AddFieldMappingsAt(indexFieldDescription, descriptionFieldMapping)

	// Salary floor - numeric range filters only
	salaryFieldMapping := bleve.NewNumericFieldMapping()
	salaryFieldMapping.Store = false
	salaryFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt(indexFieldSalaryMin, salaryFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

// validateSchema compares the mapping persisted in an existing index against
// the mapping this binary builds. Both sides are normalized through a
// marshal/unmarshal round trip before comparing.
func validateSchema(persisted mapping.IndexMapping) error {
	expected, err := canonicalMapping(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIndexRead, err)
	}

	got, err := canonicalMapping(persisted)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIndexRead, err)
	}

	if !bytes.Equal(expected, got) {
		return fmt.Errorf("%w: stored index mapping differs from expected mapping", ErrSchemaMismatch)
	}

	return nil
}

func canonicalMapping(m mapping.IndexMapping) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	parsed := mapping.NewIndexMapping()
	if err := json.Unmarshal(raw, parsed); err != nil {
		return nil, err
	}

	return json.Marshal(parsed)
}

func parseQuery(queryString string) (query.Query, error) {
	queryStringQuery := bleve.NewQueryStringQuery(queryString)
	return queryStringQuery.Parse()
}

func salaryFloorQuery(minSalary int64) query.Query {
	floor := float64(minSalary)
	inclusive := true
	rangeQuery := bleve.NewNumericRangeInclusiveQuery(&floor, nil, &inclusive, nil)
	rangeQuery.SetField(indexFieldSalaryMin)
	return rangeQuery
}

func emptyResponse(start time.Time, parseFailed bool) *Response {
	return &Response{
		Results:     []Result{},
		SearchTime:  time.Since(start).String(),
		ParseFailed: parseFailed,
	}
}
