package searchdb

import "errors"

var (
	// ErrSchemaMismatch means an existing index on disk was built with a
	// different field schema than this binary expects. The index must be
	// rebuilt before it can be used.
	ErrSchemaMismatch = errors.New("index schema mismatch")

	// ErrIndexWrite wraps failures while building or committing an index
	// generation.
	ErrIndexWrite = errors.New("index write failed")

	// ErrIndexRead wraps failures while reading from the live index. Query
	// parse failures are not read errors; they yield an empty result set.
	ErrIndexRead = errors.New("index read failed")
)

type DB interface {
	// Rebuild replaces the entire index contents with the given documents in
	// one atomic step and returns the number of documents indexed. Searches
	// running during a rebuild see the previous contents.
	Rebuild(documents []Document) (int, error)

	// Search runs a free-text query against the index. minSalary > 0 restricts
	// results to documents whose salary_min is at least that value. A query
	// that fails to parse returns an empty Response with ParseFailed set, not
	// an error.
	Search(queryString string, limit int, minSalary int64) (*Response, error)

	DocCount() (uint64, error)
	Close() error
}
