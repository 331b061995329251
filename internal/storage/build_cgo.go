//go:build sqlite_vec

package storage

// Built with CGO_ENABLED=1 and -tags sqlite_vec. Every connection loads the
// sqlite-vec extension so SearchNearest can rank rows in SQL with
// vec_distance_cosine. The shared library is found by SQLite's loader under
// the name "vec0" unless SQLITE_VEC_PATH points at it.

import (
	"database/sql"
	"fmt"
	"os"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver registered below
	DriverName = "sqlite3_vec"

	// VectorExtensionAvailable reports whether distance is computed in SQL
	VectorExtensionAvailable = true

	// BuildMode is reported by "reporag version"
	BuildMode = "cgo"
)

// VecExtensionEnv overrides the sqlite-vec library path
const VecExtensionEnv = "SQLITE_VEC_PATH"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		Extensions: []string{vecExtensionPath()},
	})
}

func vecExtensionPath() string {
	if p := os.Getenv(VecExtensionEnv); p != "" {
		return p
	}
	return "vec0"
}

// sqliteDSN appends the busy timeout in mattn's parameter syntax
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	return fmt.Sprintf("%s?_busy_timeout=%d", path, busyTimeoutMillis)
}
