// Package migrations resolves the embedded token-store schema per SQL
// dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	larkauth "github.com/goliatone/go-larkauth"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	TokenEntriesTable = "larkauth_token_entries"

	rootPath = "data/sql/migrations"
)

// tokenEntriesFiles must exist for every dialect.
var tokenEntriesFiles = []string{
	"00001_larkauth_token_entries.up.sql",
	"00001_larkauth_token_entries.down.sql",
}

// Source is the migration directory of one dialect.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc hands a dialect's migrations to the persistence layer.
type RegisterFunc func(ctx context.Context, source Source) error

// ForDialect returns the embedded migrations for dialect. Postgres files sit
// at the root, sqlite overrides under sqlite/.
func ForDialect(dialect string) (Source, error) {
	dialect = strings.TrimSpace(strings.ToLower(dialect))
	path := rootPath
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		path = rootPath + "/" + DialectSQLite
	default:
		return Source{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	fsys, err := fs.Sub(larkauth.GetMigrationsFS(), path)
	if err != nil {
		return Source{}, fmt.Errorf("migrations: resolve %s filesystem: %w", dialect, err)
	}
	for _, name := range tokenEntriesFiles {
		if _, err := fs.Stat(fsys, name); err != nil {
			return Source{}, fmt.Errorf("migrations: %s is missing %s: %w", dialect, name, err)
		}
	}
	return Source{Dialect: dialect, Path: path, FS: fsys}, nil
}

// Register resolves dialect and passes its migrations to registerFn.
func Register(ctx context.Context, dialect string, registerFn RegisterFunc) (Source, error) {
	if registerFn == nil {
		return Source{}, fmt.Errorf("migrations: register function is required")
	}
	source, err := ForDialect(dialect)
	if err != nil {
		return Source{}, err
	}
	if err := registerFn(ctx, source); err != nil {
		return source, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
	}
	return source, nil
}
