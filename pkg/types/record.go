package types

import "time"

// IndexedChunk is a persisted chunk together with its embedding.
// Identity is (RepositoryID, FilePath, ChunkIndex).
type IndexedChunk struct {
	ID           int64
	RepositoryID string
	FilePath     string
	ChunkIndex   int
	ContentHash  string
	Content      string
	Language     string
	StartLine    int
	EndLine      int
	Embedding    []float32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIndexedChunk builds a record for chunk c in the given repository
func NewIndexedChunk(repositoryID string, c Chunk, embedding []float32) *IndexedChunk {
	return &IndexedChunk{
		RepositoryID: repositoryID,
		FilePath:     c.FilePath,
		ChunkIndex:   c.Index,
		ContentHash:  c.ContentHash,
		Content:      c.Content,
		Language:     c.Language,
		StartLine:    c.StartLine,
		EndLine:      c.EndLine,
		Embedding:    embedding,
	}
}

// Key returns the record's identity within its repository
func (r *IndexedChunk) Key() ChunkKey {
	return ChunkKey{FilePath: r.FilePath, Index: r.ChunkIndex}
}

// Validate checks that the record can be persisted
func (r *IndexedChunk) Validate() error {
	if r.RepositoryID == "" {
		return ErrMissingRepository
	}
	if r.FilePath == "" {
		return ErrMissingFilePath
	}
	if r.ChunkIndex < 0 {
		return ErrInvalidChunkIndex
	}
	if len(r.Embedding) == 0 {
		return ErrMissingEmbedding
	}
	return nil
}

// ScoredChunk is one entry of a retrieval result.
// Distance is cosine distance to the query vector; lower is more similar.
type ScoredChunk struct {
	IndexedChunk
	Distance float64
}

// Similarity converts Distance back to cosine similarity
func (s ScoredChunk) Similarity() float64 {
	return 1 - s.Distance
}
