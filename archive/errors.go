package archive

import "errors"

var (
	// ErrChatStoreRequired indicates a missing chat store.
	ErrChatStoreRequired = errors.New("chat store is required")

	// ErrBlobStoreRequired indicates a missing blob store.
	ErrBlobStoreRequired = errors.New("blob store is required")

	// ErrInvalidArchive indicates an archive that cannot be decoded.
	ErrInvalidArchive = errors.New("invalid archive")
)
