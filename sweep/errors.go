package sweep

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrSweeperRequired is returned when an inline image sweeper is not provided.
	ErrSweeperRequired = errors.New("inline image sweeper required")

	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrStateRequired is returned when a sweep state is not provided.
	ErrStateRequired = errors.New("sweep state required")

	// ErrAlreadyRunning is returned when a sweep is started twice.
	ErrAlreadyRunning = errors.New("sweep already running")
)
