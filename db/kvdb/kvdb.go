package kvdb

// Bucket names. JobsBucket maps job URL -> serialized job. RequestsBucket
// maps rebuild request ID -> serialized request status.
const (
	JobsBucket     = "jobs"
	RequestsBucket = "requests"
)

type DB interface {
	Set(bucket string, key string, value string) error
	Get(bucket string, key string) (string, error)
	GetAll(bucket string) (map[string]string, error)
	ReplaceAll(bucket string, entries map[string]string) error
	Delete(bucket string, key string) error
	Close() error
}
