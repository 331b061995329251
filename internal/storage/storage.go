package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/reporag/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrNestedTx is returned by BeginTx on a transaction
	ErrNestedTx = errors.New("nested transactions not supported")
	// ErrUnknownDriver is returned by New for an unsupported driver tag
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Storage persists repositories and their embedded chunks and answers
// nearest-neighbour queries over them.
type Storage interface {
	// Repository operations
	CreateRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, id string) (*Repository, error)
	GetRepositoryByName(ctx context.Context, name string) (*Repository, error)
	ListRepositories(ctx context.Context) ([]*Repository, error)
	TouchRepository(ctx context.Context, id string, indexedAt time.Time) error

	// Chunk operations
	// UpsertChunk inserts or overwrites the record keyed by
	// (RepositoryID, FilePath, ChunkIndex) and sets its ID and timestamps.
	UpsertChunk(ctx context.Context, chunk *types.IndexedChunk) error
	GetChunk(ctx context.Context, repositoryID, filePath string, chunkIndex int) (*types.IndexedChunk, error)
	ListChunks(ctx context.Context, repositoryID string) ([]*types.IndexedChunk, error)
	ChunkHashes(ctx context.Context, repositoryID string) (map[types.ChunkKey]string, error)
	DeleteRepositoryChunks(ctx context.Context, repositoryID string) (int64, error)

	// SearchNearest returns up to k chunks of the repository ordered by
	// ascending cosine distance to vector. Ties are broken by record ID.
	SearchNearest(ctx context.Context, repositoryID string, vector []float32, k int) ([]types.ScoredChunk, error)

	// Status operations
	GetStatus(ctx context.Context, repositoryID string) (*RepositoryStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Repository is a registered source tree
type Repository struct {
	ID            string // UUID
	Name          string // Unique, e.g. "owner/repo"
	RootPath      string
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks required fields before insert
func (r *Repository) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("repository name is required")
	}
	return nil
}

// RepositoryStatus contains statistics about an indexed repository
type RepositoryStatus struct {
	Repository    *Repository
	FilesCount    int
	ChunksCount   int
	Dimensions    []int // Distinct embedding dimensions present
	IndexSizeMB   float64
	LastIndexedAt time.Time
	Health        HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	VectorExtension     bool // Distance computed in the database rather than in Go
}

// Drivers accepted by New
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures the storage backend
type Config struct {
	Driver string // "sqlite" (default) or "postgres"
	Path   string // SQLite database file; ":memory:" for an in-memory database
	DSN    string // Postgres connection string
}

// New opens the backend named by cfg.Driver and applies pending migrations
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverSQLite, "":
		return NewSQLiteStorage(cfg.Path)
	case DriverPostgres:
		return NewPostgresStorage(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
