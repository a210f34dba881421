// Package db owns schema migrations and the tenant change listener.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/dbpool"
)

// RunMigrations brings the schema up to the newest migration in fsys. Replicas
// starting together serialize on a Postgres advisory lock, so only one of
// them applies each file.
func RunMigrations(ctx context.Context, pool *dbpool.Pool, log *logrus.Logger, fsys fs.FS) error {
	sqlDB, err := sql.Open("pgx", pool.ConnString())
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer sqlDB.Close()

	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return fmt.Errorf("creating migration lock: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys, goose.WithSessionLocker(locker))
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	started := time.Now()

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrating from version %d: %w", current, err)
	}

	applied := current
	for _, r := range results {
		log.WithFields(logrus.Fields{
			"version":  r.Source.Version,
			"file":     r.Source.Path,
			"duration": r.Duration,
		}).Info("migration applied")

		applied = r.Source.Version
	}

	log.WithFields(logrus.Fields{
		"from":    current,
		"to":      applied,
		"applied": len(results),
		"elapsed": time.Since(started).Round(time.Millisecond),
	}).Info("schema ready")

	return nil
}
