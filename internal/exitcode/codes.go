package exitcode

// Exit codes for the bundler CLI.
// Schedulers can use these to decide retry strategy.
const (
	// Success - archive written (and uploaded, if requested)
	Success = 0

	// ConfigError - missing or invalid configuration or flags
	// Don't retry: fix the config first
	ConfigError = 1

	// ResolutionError - metadata service unreachable, failing or without the record
	// Retry with backoff unless the record does not exist
	ResolutionError = 2

	// FetchError - a component could not be downloaded or the archive could not be written
	// Retry with backoff
	FetchError = 3

	// StorageError - failed to write to MinIO/S3
	// Retry with backoff
	StorageError = 4

	// DataError - the identifier cannot name an archive
	// Don't retry: fix the input
	DataError = 5
)
