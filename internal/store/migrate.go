package store

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// RunMigrations executes the dialect's SQL files in alphabetical order.
// Each file is executed in a single transaction and must be idempotent.
func RunMigrations(ctx context.Context, db *sqlx.DB, dialect string) error {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return errors.Wrapf(err, "read migrations for %q", dialect)
	}
	// ensure deterministic order: 001_..., 002_..., etc.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		sqlBytes, err := fs.ReadFile(migrationsFS, path.Join(dir, e.Name()))
		if err != nil {
			return err
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, e.Name())
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
