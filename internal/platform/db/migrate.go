package db

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"kpi/internal/platform/querier"
)

// Migrate applies every *.sql file in migrationsDir that schema_migrations
// has not recorded yet, in file name order, one transaction per file.
func Migrate(ctx context.Context, db querier.Querier, migrationsDir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return eris.Wrapf(err, "db: read migrations dir %s", migrationsDir)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		version := strings.TrimSuffix(file, ".sql")
		applied, err := migrationApplied(ctx, db, version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		sqlBytes, err := os.ReadFile(filepath.Join(migrationsDir, file))
		if err != nil {
			return eris.Wrapf(err, "db: read migration %s", file)
		}
		if err := apply(ctx, db, version, string(sqlBytes)); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db querier.Querier, version, sql string) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return eris.Wrap(err, "db: begin migration")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "db: migration %s failed", version)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return eris.Wrapf(err, "db: record migration %s", version)
	}
	return eris.Wrapf(tx.Commit(ctx), "db: commit migration %s", version)
}

func ensureMigrationsTable(ctx context.Context, db querier.Querier) error {
	_, err := db.Exec(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())")
	return eris.Wrap(err, "db: ensure schema_migrations")
}

func migrationApplied(ctx context.Context, db querier.Querier, version string) (bool, error) {
	var count int
	err := db.QueryRow(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = $1", version).Scan(&count)
	if err != nil {
		return false, eris.Wrapf(err, "db: check migration %s", version)
	}
	return count > 0, nil
}
