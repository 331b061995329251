package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/reporag/pkg/types"
)

// busyTimeoutMillis bounds how long a writer waits on another process's lock
const busyTimeoutMillis = 5000

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}

	// WAL lets readers proceed while a sub-batch transaction is open
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; this also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db, DialectSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction. While it is open it holds the only
// connection, so every call must go through the returned Tx.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// isUniqueViolation matches both the mattn and modernc constraint messages
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Repository operations

const repositoryColumns = "id, name, root_path, last_indexed_at, created_at, updated_at"

func scanRepository(row interface{ Scan(...interface{}) error }) (*Repository, error) {
	var repo Repository
	var lastIndexedAt sql.NullTime
	if err := row.Scan(&repo.ID, &repo.Name, &repo.RootPath, &lastIndexedAt, &repo.CreatedAt, &repo.UpdatedAt); err != nil {
		return nil, err
	}
	if lastIndexedAt.Valid {
		repo.LastIndexedAt = lastIndexedAt.Time
	}
	return &repo, nil
}

// createRepositoryWithQuerier assigns a UUID when repo.ID is empty
func (s *SQLiteStorage) createRepositoryWithQuerier(ctx context.Context, q querier, repo *Repository) error {
	if err := repo.Validate(); err != nil {
		return err
	}
	if repo.ID == "" {
		repo.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	_, err := q.ExecContext(ctx,
		"INSERT INTO repositories (id, name, root_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		repo.ID, repo.Name, repo.RootPath, now, now)
	if isUniqueViolation(err) {
		return fmt.Errorf("repository %q: %w", repo.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}

	repo.CreatedAt = now
	repo.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateRepository(ctx context.Context, repo *Repository) error {
	return s.createRepositoryWithQuerier(ctx, s.querier(), repo)
}

func (s *SQLiteStorage) getRepositoryWithQuerier(ctx context.Context, q querier, column, value string) (*Repository, error) {
	repo, err := scanRepository(q.QueryRowContext(ctx,
		"SELECT "+repositoryColumns+" FROM repositories WHERE "+column+" = ?", value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

func (s *SQLiteStorage) GetRepository(ctx context.Context, id string) (*Repository, error) {
	return s.getRepositoryWithQuerier(ctx, s.querier(), "id", id)
}

func (s *SQLiteStorage) GetRepositoryByName(ctx context.Context, name string) (*Repository, error) {
	return s.getRepositoryWithQuerier(ctx, s.querier(), "name", name)
}

func (s *SQLiteStorage) listRepositoriesWithQuerier(ctx context.Context, q querier) ([]*Repository, error) {
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

func (s *SQLiteStorage) ListRepositories(ctx context.Context) ([]*Repository, error) {
	return s.listRepositoriesWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) touchRepositoryWithQuerier(ctx context.Context, q querier, id string, indexedAt time.Time) error {
	res, err := q.ExecContext(ctx,
		"UPDATE repositories SET last_indexed_at = ?, updated_at = ? WHERE id = ?",
		indexedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) TouchRepository(ctx context.Context, id string, indexedAt time.Time) error {
	return s.touchRepositoryWithQuerier(ctx, s.querier(), id, indexedAt)
}

// Chunk operations

const chunkColumns = "id, repository_id, file_path, chunk_index, chunk_hash, content, language, start_line, end_line, embedding, created_at, updated_at"

// blobVector scans a little-endian float32 blob into a slice
type blobVector struct {
	dst *[]float32
}

func (b blobVector) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		*b.dst = deserializeVector(v)
	case nil:
		*b.dst = nil
	default:
		return fmt.Errorf("unexpected embedding type %T", src)
	}
	return nil
}

func chunkScanDest(c *types.IndexedChunk) []interface{} {
	return []interface{}{
		&c.ID, &c.RepositoryID, &c.FilePath, &c.ChunkIndex, &c.ContentHash, &c.Content,
		&c.Language, &c.StartLine, &c.EndLine, blobVector{&c.Embedding}, &c.CreatedAt, &c.UpdatedAt,
	}
}

// upsertChunkWithQuerier uses INSERT ... ON CONFLICT so that concurrent writers
// of the same key resolve to last-writer-wins without a read-modify-write.
func (s *SQLiteStorage) upsertChunkWithQuerier(ctx context.Context, q querier, chunk *types.IndexedChunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO code_chunks (
			repository_id, file_path, chunk_index, chunk_hash, content, language,
			start_line, end_line, embedding, dimension, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, file_path, chunk_index)
		DO UPDATE SET
			chunk_hash = excluded.chunk_hash,
			content = excluded.content,
			language = excluded.language,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now().UTC()
	err := q.QueryRowContext(ctx, query,
		chunk.RepositoryID, chunk.FilePath, chunk.ChunkIndex, chunk.ContentHash, chunk.Content, chunk.Language,
		chunk.StartLine, chunk.EndLine, serializeVector(chunk.Embedding), len(chunk.Embedding), now, now,
	).Scan(&chunk.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}

	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = now
	}
	chunk.UpdatedAt = now

	return nil
}

func (s *SQLiteStorage) UpsertChunk(ctx context.Context, chunk *types.IndexedChunk) error {
	return s.upsertChunkWithQuerier(ctx, s.querier(), chunk)
}

func (s *SQLiteStorage) getChunkWithQuerier(ctx context.Context, q querier, repositoryID, filePath string, chunkIndex int) (*types.IndexedChunk, error) {
	var c types.IndexedChunk
	err := q.QueryRowContext(ctx,
		"SELECT "+chunkColumns+" FROM code_chunks WHERE repository_id = ? AND file_path = ? AND chunk_index = ?",
		repositoryID, filePath, chunkIndex,
	).Scan(chunkScanDest(&c)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, repositoryID, filePath string, chunkIndex int) (*types.IndexedChunk, error) {
	return s.getChunkWithQuerier(ctx, s.querier(), repositoryID, filePath, chunkIndex)
}

func (s *SQLiteStorage) listChunksWithQuerier(ctx context.Context, q querier, repositoryID string) ([]*types.IndexedChunk, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM code_chunks WHERE repository_id = ? ORDER BY file_path, chunk_index",
		repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*types.IndexedChunk
	for rows.Next() {
		var c types.IndexedChunk
		if err := rows.Scan(chunkScanDest(&c)...); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStorage) ListChunks(ctx context.Context, repositoryID string) ([]*types.IndexedChunk, error) {
	return s.listChunksWithQuerier(ctx, s.querier(), repositoryID)
}

func (s *SQLiteStorage) chunkHashesWithQuerier(ctx context.Context, q querier, repositoryID string) (map[types.ChunkKey]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT file_path, chunk_index, chunk_hash FROM code_chunks WHERE repository_id = ?", repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[types.ChunkKey]string)
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

func (s *SQLiteStorage) ChunkHashes(ctx context.Context, repositoryID string) (map[types.ChunkKey]string, error) {
	return s.chunkHashesWithQuerier(ctx, s.querier(), repositoryID)
}

func (s *SQLiteStorage) deleteRepositoryChunksWithQuerier(ctx context.Context, q querier, repositoryID string) (int64, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM code_chunks WHERE repository_id = ?", repositoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) DeleteRepositoryChunks(ctx context.Context, repositoryID string) (int64, error) {
	return s.deleteRepositoryChunksWithQuerier(ctx, s.querier(), repositoryID)
}

func (s *SQLiteStorage) SearchNearest(ctx context.Context, repositoryID string, vector []float32, k int) ([]types.ScoredChunk, error) {
	return searchNearestSQLite(ctx, s.querier(), repositoryID, vector, k)
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier, repositoryID string) (*RepositoryStatus, error) {
	repo, err := s.getRepositoryWithQuerier(ctx, q, "id", repositoryID)
	if err != nil {
		return nil, err
	}

	status := &RepositoryStatus{
		Repository:    repo,
		LastIndexedAt: repo.LastIndexedAt,
	}

	err = q.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT file_path) FROM code_chunks WHERE repository_id = ?", repositoryID,
	).Scan(&status.ChunksCount, &status.FilesCount)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		"SELECT DISTINCT dimension FROM code_chunks WHERE repository_id = ? ORDER BY dimension", repositoryID)
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

	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.ChunksCount > 0,
		VectorExtension:     VectorExtensionAvailable,
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context, repositoryID string) (*RepositoryStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier(), repositoryID)
}

// Transaction implementations: every call runs on the transaction's querier

func (t *sqliteTx) CreateRepository(ctx context.Context, repo *Repository) error {
	return t.storage.createRepositoryWithQuerier(ctx, t.querier(), repo)
}

func (t *sqliteTx) GetRepository(ctx context.Context, id string) (*Repository, error) {
	return t.storage.getRepositoryWithQuerier(ctx, t.querier(), "id", id)
}

func (t *sqliteTx) GetRepositoryByName(ctx context.Context, name string) (*Repository, error) {
	return t.storage.getRepositoryWithQuerier(ctx, t.querier(), "name", name)
}

func (t *sqliteTx) ListRepositories(ctx context.Context) ([]*Repository, error) {
	return t.storage.listRepositoriesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) TouchRepository(ctx context.Context, id string, indexedAt time.Time) error {
	return t.storage.touchRepositoryWithQuerier(ctx, t.querier(), id, indexedAt)
}

func (t *sqliteTx) UpsertChunk(ctx context.Context, chunk *types.IndexedChunk) error {
	return t.storage.upsertChunkWithQuerier(ctx, t.querier(), chunk)
}

func (t *sqliteTx) GetChunk(ctx context.Context, repositoryID, filePath string, chunkIndex int) (*types.IndexedChunk, error) {
	return t.storage.getChunkWithQuerier(ctx, t.querier(), repositoryID, filePath, chunkIndex)
}

func (t *sqliteTx) ListChunks(ctx context.Context, repositoryID string) ([]*types.IndexedChunk, error) {
	return t.storage.listChunksWithQuerier(ctx, t.querier(), repositoryID)
}

func (t *sqliteTx) ChunkHashes(ctx context.Context, repositoryID string) (map[types.ChunkKey]string, error) {
	return t.storage.chunkHashesWithQuerier(ctx, t.querier(), repositoryID)
}

func (t *sqliteTx) DeleteRepositoryChunks(ctx context.Context, repositoryID string) (int64, error) {
	return t.storage.deleteRepositoryChunksWithQuerier(ctx, t.querier(), repositoryID)
}

func (t *sqliteTx) SearchNearest(ctx context.Context, repositoryID string, vector []float32, k int) ([]types.ScoredChunk, error) {
	return searchNearestSQLite(ctx, t.querier(), repositoryID, vector, k)
}

func (t *sqliteTx) GetStatus(ctx context.Context, repositoryID string) (*RepositoryStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier(), repositoryID)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}
