// Package storage persists repositories and their embedded code chunks and
// answers nearest-neighbour queries over them.
//
// # Schema
//
// Tables:
//   - repositories: registered source trees (UUID, unique name, root path)
//   - code_chunks: one row per (repository_id, file_path, chunk_index),
//     holding the chunk text, its content hash, line span and embedding
//   - schema_version: applied migrations
//
// # Idempotent Writes
//
// UpsertChunk writes with INSERT ... ON CONFLICT on the chunk key, so
// re-indexing overwrites records in place and concurrent writers of the
// same key resolve to last-writer-wins:
//
//	rec := types.NewIndexedChunk(repo.ID, chunk, vector)
//	if err := db.UpsertChunk(ctx, rec); err != nil {
//	    return err
//	}
//
// Indexers commit one sub-batch per transaction:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//	for _, rec := range batch {
//	    if err := tx.UpsertChunk(ctx, rec); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// The SQLite pool holds a single connection. While a transaction is open,
// all calls must go through the Tx.
//
// # Nearest-Neighbour Search
//
//	results, err := db.SearchNearest(ctx, repo.ID, queryVector, 5)
//	for _, r := range results {
//	    fmt.Printf("%s#%d %.3f\n", r.FilePath, r.ChunkIndex, r.Distance)
//	}
//
// Only records whose dimension equals len(queryVector) are candidates.
// Results are ordered by ascending cosine distance, ties by record ID.
//
// # Backends
//
// SQLite stores vectors as little-endian float32 blobs. With the sqlite_vec
// build tag (mattn/go-sqlite3, CGO) every connection loads the sqlite-vec
// shared library ("vec0" on the loader path, or SQLITE_VEC_PATH) and distance
// is computed in SQL; opening the database fails if it cannot be loaded. The
// default pure Go build (modernc.org/sqlite) scores in Go.
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec"
//	CGO_ENABLED=0 go build
//
// PostgreSQL (lib/pq) stores vectors with pgvector and orders by the <=>
// operator. Select it with Config{Driver: "postgres", DSN: ...}.
package storage
