package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Dialect selects the SQL flavour a migration set is written in
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// Migrations holds the ordered migration set for each dialect
var Migrations = map[Dialect][]Migration{
	DialectSQLite: {
		{Version: "1.0.0", Up: sqliteV1Up, Down: sqliteV1Down},
		{Version: "1.1.0", Up: sqliteV11Up, Down: sqliteV11Down},
	},
	DialectPostgres: {
		{Version: "1.0.0", Up: postgresV1Up, Down: postgresV1Down},
		{Version: "1.1.0", Up: postgresV11Up, Down: postgresV11Down},
	},
}

const sqliteV1Up = `
CREATE TABLE IF NOT EXISTS repositories (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    root_path TEXT NOT NULL DEFAULT '',
    last_indexed_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS code_chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    chunk_hash TEXT NOT NULL,
    content TEXT NOT NULL,
    language TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    embedding BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE,
    UNIQUE(repository_id, file_path, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_code_chunks_repository ON code_chunks(repository_id);
`

const sqliteV1Down = `
DROP TABLE IF EXISTS code_chunks;
DROP TABLE IF EXISTS repositories;
`

const sqliteV11Up = `
CREATE INDEX IF NOT EXISTS idx_code_chunks_repository_dimension ON code_chunks(repository_id, dimension);
CREATE INDEX IF NOT EXISTS idx_code_chunks_file ON code_chunks(repository_id, file_path);
`

const sqliteV11Down = `
DROP INDEX IF EXISTS idx_code_chunks_file;
DROP INDEX IF EXISTS idx_code_chunks_repository_dimension;
`

// The embedding column is declared without a fixed dimension so one database
// can hold repositories indexed with different models.
const postgresV1Up = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repositories (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    root_path TEXT NOT NULL DEFAULT '',
    last_indexed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS code_chunks (
    id BIGSERIAL PRIMARY KEY,
    repository_id UUID NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    file_path TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    chunk_hash TEXT NOT NULL,
    content TEXT NOT NULL,
    language TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    embedding vector NOT NULL,
    dimension INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (repository_id, file_path, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_code_chunks_repository ON code_chunks(repository_id);
`

const postgresV1Down = `
DROP TABLE IF EXISTS code_chunks;
DROP TABLE IF EXISTS repositories;
`

const postgresV11Up = `
CREATE INDEX IF NOT EXISTS idx_code_chunks_repository_dimension ON code_chunks(repository_id, dimension);
CREATE INDEX IF NOT EXISTS idx_code_chunks_file ON code_chunks(repository_id, file_path);
`

const postgresV11Down = `
DROP INDEX IF EXISTS idx_code_chunks_file;
DROP INDEX IF EXISTS idx_code_chunks_repository_dimension;
`

const createSchemaVersion = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

func bindVar(d Dialect) string {
	if d == DialectPostgres {
		return "$1"
	}
	return "?"
}

// SchemaVersion returns the highest applied migration version, or 0.0.0
func SchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	if _, err := db.ExecContext(ctx, createSchemaVersion); err != nil {
		return nil, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}

	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations for the dialect, each in its own transaction
func ApplyMigrations(ctx context.Context, db *sql.DB, d Dialect) error {
	migrations, ok := Migrations[d]
	if !ok {
		return fmt.Errorf("no migrations for dialect %s", d)
	}

	currentVersion, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if err := runMigration(ctx, db, migration.Up,
			"INSERT INTO schema_version (version) VALUES ("+bindVar(d)+")", migration.Version); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB, d Dialect) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i, m := range Migrations[d] {
		if v, err := semver.NewVersion(m.Version); err == nil && v.Equal(current) {
			migration = &Migrations[d][i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if err := runMigration(ctx, db, migration.Down,
		"DELETE FROM schema_version WHERE version = "+bindVar(d), migration.Version); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	return nil
}

func runMigration(ctx context.Context, db *sql.DB, script, record, version string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		return err
	}
	return tx.Commit()
}
