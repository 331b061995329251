package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/dshills/reporag/pkg/types"
)

// pqUniqueViolation is the SQLSTATE for unique_violation
const pqUniqueViolation = "23505"

// PostgresStorage implements the Storage interface on PostgreSQL with pgvector.
// Distance ordering runs in the database via the <=> operator.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects to dsn and applies pending migrations
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := ApplyMigrations(ctx, db, DialectPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx, storage: s}, nil
}

type postgresTx struct {
	tx      *sql.Tx
	storage *PostgresStorage
}

func (t *postgresTx) Commit() error   { return t.tx.Commit() }
func (t *postgresTx) Rollback() error { return t.tx.Rollback() }

func isPQUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// pgChunkDest scans chunkColumns, reading the embedding through pgvector
func pgChunkDest(c *types.IndexedChunk, vec *pgvector.Vector) []interface{} {
	return []interface{}{
		&c.ID, &c.RepositoryID, &c.FilePath, &c.ChunkIndex, &c.ContentHash, &c.Content,
		&c.Language, &c.StartLine, &c.EndLine, vec, &c.CreatedAt, &c.UpdatedAt,
	}
}

func (s *PostgresStorage) createRepositoryWithQuerier(ctx context.Context, q querier, repo *Repository) error {
	if err := repo.Validate(); err != nil {
		return err
	}
	if repo.ID == "" {
		repo.ID = uuid.New().String()
	}

	err := q.QueryRowContext(ctx,
		`INSERT INTO repositories (id, name, root_path) VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		repo.ID, repo.Name, repo.RootPath,
	).Scan(&repo.CreatedAt, &repo.UpdatedAt)
	if isPQUniqueViolation(err) {
		return fmt.Errorf("repository %q: %w", repo.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	return nil
}

func (s *PostgresStorage) getRepositoryWithQuerier(ctx context.Context, q querier, column, value string) (*Repository, error) {
	repo, err := scanRepository(q.QueryRowContext(ctx,
		"SELECT "+repositoryColumns+" FROM repositories WHERE "+column+" = $1", value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

func (s *PostgresStorage) getRepositoryByIDWithQuerier(ctx context.Context, q querier, id string) (*Repository, error) {
	// Non-UUID identifiers can never match and would otherwise fail the cast
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.getRepositoryWithQuerier(ctx, q, "id", id)
}

func (s *PostgresStorage) listRepositoriesWithQuerier(ctx context.Context, q querier) ([]*Repository, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+repositoryColumns+" FROM repositories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

func (s *PostgresStorage) touchRepositoryWithQuerier(ctx context.Context, q querier, id string, indexedAt time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := q.ExecContext(ctx,
		"UPDATE repositories SET last_indexed_at = $1, updated_at = now() WHERE id = $2",
		indexedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) upsertChunkWithQuerier(ctx context.Context, q querier, chunk *types.IndexedChunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO code_chunks (
			repository_id, file_path, chunk_index, chunk_hash, content, language,
			start_line, end_line, embedding, dimension
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (repository_id, file_path, chunk_index)
		DO UPDATE SET
			chunk_hash = EXCLUDED.chunk_hash,
			content = EXCLUDED.content,
			language = EXCLUDED.language,
			start_line = EXCLUDED.start_line,
			end_line = EXCLUDED.end_line,
			embedding = EXCLUDED.embedding,
			dimension = EXCLUDED.dimension,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	err := q.QueryRowContext(ctx, query,
		chunk.RepositoryID, chunk.FilePath, chunk.ChunkIndex, chunk.ContentHash, chunk.Content, chunk.Language,
		chunk.StartLine, chunk.EndLine, pgvector.NewVector(chunk.Embedding), len(chunk.Embedding),
	).Scan(&chunk.ID, &chunk.CreatedAt, &chunk.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

func (s *PostgresStorage) getChunkWithQuerier(ctx context.Context, q querier, repositoryID, filePath string, chunkIndex int) (*types.IndexedChunk, error) {
	if _, err := uuid.Parse(repositoryID); err != nil {
		return nil, ErrNotFound
	}
	var c types.IndexedChunk
	var vec pgvector.Vector
	err := q.QueryRowContext(ctx,
		"SELECT "+chunkColumns+" FROM code_chunks WHERE repository_id = $1 AND file_path = $2 AND chunk_index = $3",
		repositoryID, filePath, chunkIndex,
	).Scan(pgChunkDest(&c, &vec)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	c.Embedding = vec.Slice()
	return &c, nil
}

func (s *PostgresStorage) listChunksWithQuerier(ctx context.Context, q querier, repositoryID string) ([]*types.IndexedChunk, error) {
	if _, err := uuid.Parse(repositoryID); err != nil {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM code_chunks WHERE repository_id = $1 ORDER BY file_path, chunk_index",
		repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*types.IndexedChunk
	for rows.Next() {
		var c types.IndexedChunk
		var vec pgvector.Vector
		if err := rows.Scan(pgChunkDest(&c, &vec)...); err != nil {
			return nil, err
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *PostgresStorage) chunkHashesWithQuerier(ctx context.Context, q querier, repositoryID string) (map[types.ChunkKey]string, error) {
	hashes := make(map[types.ChunkKey]string)
	if _, err := uuid.Parse(repositoryID); err != nil {
		return hashes, nil
	}
	rows, err := q.QueryContext(ctx,
		"SELECT file_path, chunk_index, chunk_hash FROM code_chunks WHERE repository_id = $1", repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key types.ChunkKey
		var hash string
		if err := rows.Scan(&key.FilePath, &key.Index, &hash); err != nil {
			return nil, err
		}
		hashes[key] = hash
	}
	return hashes, rows.Err()
}

func (s *PostgresStorage) deleteRepositoryChunksWithQuerier(ctx context.Context, q querier, repositoryID string) (int64, error) {
	if _, err := uuid.Parse(repositoryID); err != nil {
		return 0, nil
	}
	res, err := q.ExecContext(ctx, "DELETE FROM code_chunks WHERE repository_id = $1", repositoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return res.RowsAffected()
}

// searchNearestWithQuerier orders by pgvector cosine distance. Rows of another
// dimension are excluded before the operator sees them.
func (s *PostgresStorage) searchNearestWithQuerier(ctx context.Context, q querier, repositoryID string, vector []float32, k int) ([]types.ScoredChunk, error) {
	if k <= 0 || len(vector) == 0 {
		return []types.ScoredChunk{}, nil
	}
	if _, err := uuid.Parse(repositoryID); err != nil {
		return []types.ScoredChunk{}, nil
	}

	query := `
		SELECT ` + chunkColumns + `, embedding <=> $2 AS distance
		FROM code_chunks
		WHERE repository_id = $1 AND dimension = $3
		ORDER BY distance ASC, id ASC
		LIMIT $4
	`
	rows, err := q.QueryContext(ctx, query, repositoryID, pgvector.NewVector(vector), len(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]types.ScoredChunk, 0, k)
	for rows.Next() {
		var r types.ScoredChunk
		var vec pgvector.Vector
		var distance sql.NullFloat64
		dest := append(pgChunkDest(&r.IndexedChunk, &vec), &distance)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Embedding = vec.Slice()
		// pgvector yields NaN/NULL for zero vectors; treat as orthogonal
		r.Distance = 1
		if distance.Valid {
			r.Distance = distance.Float64
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStorage) getStatusWithQuerier(ctx context.Context, q querier, repositoryID string) (*RepositoryStatus, error) {
	repo, err := s.getRepositoryByIDWithQuerier(ctx, q, repositoryID)
	if err != nil {
		return nil, err
	}

	status := &RepositoryStatus{Repository: repo, LastIndexedAt: repo.LastIndexedAt}

	err = q.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT file_path) FROM code_chunks WHERE repository_id = $1", repositoryID,
	).Scan(&status.ChunksCount, &status.FilesCount)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		"SELECT DISTINCT dimension FROM code_chunks WHERE repository_id = $1 ORDER BY dimension", repositoryID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var dim int
		if err := rows.Scan(&dim); err != nil {
			_ = rows.Close()
			return nil, err
		}
		status.Dimensions = append(status.Dimensions, dim)
	}
	_ = rows.Close()

	var sizeBytes int64
	if err := q.QueryRowContext(ctx, "SELECT pg_total_relation_size('code_chunks')").Scan(&sizeBytes); err == nil {
		status.IndexSizeMB = float64(sizeBytes) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.ChunksCount > 0,
		VectorExtension:     true,
	}
	return status, nil
}

// Storage methods

func (s *PostgresStorage) CreateRepository(ctx context.Context, repo *Repository) error {
	return s.createRepositoryWithQuerier(ctx, s.db, repo)
}

func (s *PostgresStorage) GetRepository(ctx context.Context, id string) (*Repository, error) {
	return s.getRepositoryByIDWithQuerier(ctx, s.db, id)
}

func (s *PostgresStorage) GetRepositoryByName(ctx context.Context, name string) (*Repository, error) {
	return s.getRepositoryWithQuerier(ctx, s.db, "name", name)
}

func (s *PostgresStorage) ListRepositories(ctx context.Context) ([]*Repository, error) {
	return s.listRepositoriesWithQuerier(ctx, s.db)
}

func (s *PostgresStorage) TouchRepository(ctx context.Context, id string, indexedAt time.Time) error {
	return s.touchRepositoryWithQuerier(ctx, s.db, id, indexedAt)
}

func (s *PostgresStorage) UpsertChunk(ctx context.Context, chunk *types.IndexedChunk) error {
	return s.upsertChunkWithQuerier(ctx, s.db, chunk)
}

func (s *PostgresStorage) GetChunk(ctx context.Context, repositoryID, filePath string, chunkIndex int) (*types.IndexedChunk, error) {
	return s.getChunkWithQuerier(ctx, s.db, repositoryID, filePath, chunkIndex)
}

func (s *PostgresStorage) ListChunks(ctx context.Context, repositoryID string) ([]*types.IndexedChunk, error) {
	return s.listChunksWithQuerier(ctx, s.db, repositoryID)
}

func (s *PostgresStorage) ChunkHashes(ctx context.Context, repositoryID string) (map[types.ChunkKey]string, error) {
	return s.chunkHashesWithQuerier(ctx, s.db, repositoryID)
}

func (s *PostgresStorage) DeleteRepositoryChunks(ctx context.Context, repositoryID string) (int64, error) {
	return s.deleteRepositoryChunksWithQuerier(ctx, s.db, repositoryID)
}

func (s *PostgresStorage) SearchNearest(ctx context.Context, repositoryID string, vector []float32, k int) ([]types.ScoredChunk, error) {
	return s.searchNearestWithQuerier(ctx, s.db, repositoryID, vector, k)
}

func (s *PostgresStorage) GetStatus(ctx context.Context, repositoryID string) (*RepositoryStatus, error) {
	return s.getStatusWithQuerier(ctx, s.db, repositoryID)
}

// Transaction methods

func (t *postgresTx) CreateRepository(ctx context.Context, repo *Repository) error {
	return t.storage.createRepositoryWithQuerier(ctx, t.tx, repo)
}

func (t *postgresTx) GetRepository(ctx context.Context, id string) (*Repository, error) {
	return t.storage.getRepositoryByIDWithQuerier(ctx, t.tx, id)
}

func (t *postgresTx) GetRepositoryByName(ctx context.Context, name string) (*Repository, error) {
	return t.storage.getRepositoryWithQuerier(ctx, t.tx, "name", name)
}

func (t *postgresTx) ListRepositories(ctx context.Context) ([]*Repository, error) {
	return t.storage.listRepositoriesWithQuerier(ctx, t.tx)
}

func (t *postgresTx) TouchRepository(ctx context.Context, id string, indexedAt time.Time) error {
	return t.storage.touchRepositoryWithQuerier(ctx, t.tx, id, indexedAt)
}

func (t *postgresTx) UpsertChunk(ctx context.Context, chunk *types.IndexedChunk) error {
	return t.storage.upsertChunkWithQuerier(ctx, t.tx, chunk)
}

func (t *postgresTx) GetChunk(ctx context.Context, repositoryID, filePath string, chunkIndex int) (*types.IndexedChunk, error) {
	return t.storage.getChunkWithQuerier(ctx, t.tx, repositoryID, filePath, chunkIndex)
}

func (t *postgresTx) ListChunks(ctx context.Context, repositoryID string) ([]*types.IndexedChunk, error) {
	return t.storage.listChunksWithQuerier(ctx, t.tx, repositoryID)
}

func (t *postgresTx) ChunkHashes(ctx context.Context, repositoryID string) (map[types.ChunkKey]string, error) {
	return t.storage.chunkHashesWithQuerier(ctx, t.tx, repositoryID)
}

func (t *postgresTx) DeleteRepositoryChunks(ctx context.Context, repositoryID string) (int64, error) {
	return t.storage.deleteRepositoryChunksWithQuerier(ctx, t.tx, repositoryID)
}

func (t *postgresTx) SearchNearest(ctx context.Context, repositoryID string, vector []float32, k int) ([]types.ScoredChunk, error) {
	return t.storage.searchNearestWithQuerier(ctx, t.tx, repositoryID, vector, k)
}

func (t *postgresTx) GetStatus(ctx context.Context, repositoryID string) (*RepositoryStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.tx, repositoryID)
}

func (t *postgresTx) Close() error { return nil }

func (t *postgresTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}
