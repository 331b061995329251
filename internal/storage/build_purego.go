//go:build !sqlite_vec

package storage

// Default build, no C toolchain needed. Cosine distance is computed in Go over
// the repository's stored vectors.

import (
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver registered by modernc.org/sqlite
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether distance is computed in SQL
	VectorExtensionAvailable = false

	// BuildMode is reported by "reporag version"
	BuildMode = "purego"
)

// sqliteDSN appends the busy timeout as a modernc _pragma parameter
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busyTimeoutMillis)
}
