package types

import "errors"

// Domain errors for record validation
var (
	ErrMissingRepository = errors.New("repository ID is required")
	ErrMissingFilePath   = errors.New("file path is required")
	ErrInvalidChunkIndex = errors.New("chunk index must be >= 0")
	ErrMissingEmbedding  = errors.New("embedding is required")
	ErrEmptyContent      = errors.New("content cannot be empty")
)
