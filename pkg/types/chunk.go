package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// LanguageText is the language tag for files with an unrecognized extension
const LanguageText = "text"

// Chunk is a contiguous, line-addressed slice of a file's text sized for embedding
type Chunk struct {
	Content     string
	FilePath    string // Relative to repository root, slash-separated
	Index       int    // Zero-based position within the file
	StartLine   int    // 1-based, inclusive
	EndLine     int    // 1-based, inclusive
	Language    string
	ContentHash string // Hex SHA-256 of Content
}

// Key returns the chunk's identity within a repository
func (c *Chunk) Key() ChunkKey {
	return ChunkKey{FilePath: c.FilePath, Index: c.Index}
}

// ComputeContentHash sets ContentHash from Content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = HashContent(c.Content)
}

// LineCount returns the number of source lines covered by the chunk
func (c *Chunk) LineCount() int {
	if c.EndLine < c.StartLine {
		return 0
	}
	return c.EndLine - c.StartLine + 1
}

// Validate checks the chunk's addressing and hash
func (c *Chunk) Validate() error {
	if c.FilePath == "" {
		return errors.New("file path is required")
	}

	if c.Index < 0 {
		return errors.New("chunk index must be non-negative")
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	if c.ContentHash != HashContent(c.Content) {
		return errors.New("content hash does not match content")
	}

	return nil
}

// ChunkKey identifies a chunk position within one repository
type ChunkKey struct {
	FilePath string
	Index    int
}

// HashContent returns the hex-encoded SHA-256 of content
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
