package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/reporag/pkg/types"
)

// searchNearestSQLite performs nearest-neighbour search over a repository's chunks
func searchNearestSQLite(ctx context.Context, q querier, repositoryID string, queryVector []float32, k int) ([]types.ScoredChunk, error) {
	if k <= 0 || len(queryVector) == 0 {
		return []types.ScoredChunk{}, nil
	}
	// Use SQL distance when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchNearestOptimized(ctx, q, repositoryID, queryVector, k)
	}
	// Fall back to Go-based computation for purego builds
	return searchNearestFallback(ctx, q, repositoryID, queryVector, k)
}

// searchNearestOptimized computes cosine distance with sqlite-vec and lets SQL order and limit
func searchNearestOptimized(ctx context.Context, q querier, repositoryID string, queryVector []float32, k int) ([]types.ScoredChunk, error) {
	query := `
		SELECT ` + chunkColumns + `,
			vec_distance_cosine(embedding, ?) AS distance
		FROM code_chunks
		WHERE repository_id = ? AND dimension = ?
		ORDER BY distance ASC, id ASC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, serializeVector(queryVector), repositoryID, len(queryVector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]types.ScoredChunk, 0, k)
	for rows.Next() {
		var r types.ScoredChunk
		dest := append(chunkScanDest(&r.IndexedChunk), &r.Distance)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// searchNearestFallback scores every stored vector in Go, then loads the top k records.
// Vectors are scanned first and the rows closed before the second query, since
// the SQLite pool holds a single connection.
func searchNearestFallback(ctx context.Context, q querier, repositoryID string, queryVector []float32, k int) ([]types.ScoredChunk, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, embedding FROM code_chunks WHERE repository_id = ? AND dimension = ?",
		repositoryID, len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}

	candidates, err := computeDistances(rows, queryVector)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	candidates = topCandidates(candidates, k)
	if len(candidates) == 0 {
		return []types.ScoredChunk{}, nil
	}

	ids := make([]interface{}, len(candidates))
	placeholders := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
		placeholders[i] = "?"
	}

	recRows, err := q.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM code_chunks WHERE id IN ("+strings.Join(placeholders, ",")+")", ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer func() { _ = recRows.Close() }()

	byID := make(map[int64]*types.IndexedChunk, len(candidates))
	for recRows.Next() {
		var c types.IndexedChunk
		if err := recRows.Scan(chunkScanDest(&c)...); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		byID[c.ID] = &c
	}
	if err := recRows.Err(); err != nil {
		return nil, err
	}

	results := make([]types.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := byID[c.id]
		if !ok {
			continue
		}
		results = append(results, types.ScoredChunk{IndexedChunk: *rec, Distance: c.distance})
	}
	return results, nil
}

// candidate is a record ID with its distance to the query
type candidate struct {
	id       int64
	distance float64
}

// computeDistances reads (id, embedding) rows and scores them against queryVector
func computeDistances(rows *sql.Rows, queryVector []float32) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue
		}

		candidates = append(candidates, candidate{id: id, distance: cosineDistance(queryVector, vector)})
	}

	return candidates, rows.Err()
}

// topCandidates sorts by ascending distance, then ID, and truncates to k
func topCandidates(candidates []candidate, k int) []candidate {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].id < candidates[j].id
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths and zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dotProduct / math.Sqrt(normA*normB)
	return math.Max(-1, math.Min(1, sim))
}

// cosineDistance is 1 - cosine similarity, in [0, 2]
func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineDistance is an exported helper for testing
func CosineDistance(a, b []float32) float64 {
	return cosineDistance(a, b)
}
