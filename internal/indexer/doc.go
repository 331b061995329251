// Package indexer coordinates the end-to-end indexing pipeline for a source
// repository.
//
// # Basic Usage
//
//	idx := indexer.New(store, emb, indexer.DefaultConfig(), logger)
//	summary := idx.Index(ctx, repo.ID, "/path/to/repo")
//	fmt.Printf("committed %d chunks, %d failed\n",
//	    summary.ChunksCommitted(), summary.ChunksFailed())
//
// # Pipeline
//
//  1. Discovery: walk the root in lexical order, skip .git/.hg/.svn and
//     files outside the extension allow-list
//  2. Chunking: read and chunk files on a bounded errgroup pool; results are
//     reassembled in walk order so the run is deterministic
//  3. Change detection: drop chunks whose stored hash for the same
//     (path, index) key already matches
//  4. Embedding: one GenerateBatch call per sub-batch of BatchSize chunks
//  5. Storage: upsert every chunk of the sub-batch in one transaction
//
// # Failure Policy
//
// Index never returns an error. A file that cannot be read, or is not valid
// UTF-8, is logged and counted in Summary.FilesSkipped. A sub-batch whose
// embedding call or any upsert fails is rolled back, recorded as a failed
// types.BatchResult, and the run moves on. Sub-batches run strictly in
// sequence, and a later run re-embeds only what is still missing or changed.
//
// # Locking
//
// The pipeline takes no locks. RepoLocks offers a per-repository try-lock
// for service layers that want to reject overlapping runs.
package indexer
