package thumbnail

import "errors"

var (
	// ErrMediaIndexRequired is returned when a media index is not provided.
	ErrMediaIndexRequired = errors.New("media index required")

	// ErrNotDataURL indicates an image that is not a base64 data URL.
	ErrNotDataURL = errors.New("image is not a base64 data URL")

	// ErrDecodeFailed indicates image data that could not be decoded.
	ErrDecodeFailed = errors.New("image decode failed")

	// ErrInvalidSize indicates a non-positive short edge or quality.
	ErrInvalidSize = errors.New("invalid thumbnail size")
)
