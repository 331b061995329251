// Package types provides shared type definitions for reporag.
//
// These types form the contract between the chunker, the indexing pipeline,
// the vector index and the retrieval path.
//
// # Core Types
//
// Chunk is the ephemeral output of the chunker: a line-addressed span of one
// file together with a SHA-256 content hash:
//
//	chunk := types.Chunk{
//	    FilePath:  "internal/auth/token.go",
//	    Index:     0,
//	    StartLine: 1,
//	    EndLine:   42,
//	    Language:  "go",
//	}
//	chunk.ComputeContentHash()
//
// IndexedChunk is the persisted record. It is keyed by
// (RepositoryID, FilePath, ChunkIndex); re-indexing the same key overwrites
// rather than duplicates.
//
// ScoredChunk is one entry of a retrieval result, carrying the cosine distance
// to the query vector (lower is more similar).
//
// # Indexing Results
//
// An indexing run reports a Summary built from one BatchResult per sub-batch:
//
//	summary := engine.Index(ctx, repoID, root)
//	for _, b := range summary.FailedBatches() {
//	    log.Printf("batch %d (%d chunks) failed: %v", b.Index, b.Count, b.Err)
//	}
//
// The absence of an error never implies full coverage; check Summary.Complete.
package types
