// Package migrations wires golang-migrate execution for the trade ledger schema.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	dbmigrations "github.com/coachpo/tradelink/db/migrations"
	"github.com/coachpo/tradelink/internal/infra/telemetry"
	"github.com/coachpo/tradelink/internal/observability"
)

var (
	errNotDirectory = errors.New("migrations path must be a directory")

	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

const embeddedPath = "embedded"

// Apply brings the Postgres instance reachable via dsn up to the latest migration.
// An empty migrationsDir uses the migrations embedded in the binary.
func Apply(ctx context.Context, dsn, migrationsDir string, logger *zap.Logger) error {
	logger = observability.OrNop(logger)
	return withMigrator(ctx, dsn, migrationsDir, logger, func(m *migrate.Migrate, path string) error {
		logger.Info("running database migrations", zap.String("path", path))
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				recordMigrationMetric(ctx, "noop", path)
				logger.Info("database migrations up-to-date")
				return nil
			}
			recordMigrationMetric(ctx, "failed", path)
			return fmt.Errorf("apply migrations: %w", err)
		}
		recordMigrationMetric(ctx, "applied", path)
		logger.Info("database migrations applied")
		return nil
	})
}

// Rollback reverts the given number of migrations.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int, logger *zap.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	logger = observability.OrNop(logger)
	return withMigrator(ctx, dsn, migrationsDir, logger, func(m *migrate.Migrate, path string) error {
		logger.Info("rolling back database migrations", zap.String("path", path), zap.Int("steps", steps))
		if err := m.Steps(-steps); err != nil {
			recordMigrationMetric(ctx, "rollback_failed", path)
			return fmt.Errorf("rollback migrations: %w", err)
		}
		recordMigrationMetric(ctx, "rolled_back", path)
		return nil
	})
}

func withMigrator(ctx context.Context, dsn, migrationsDir string, logger *zap.Logger, fn func(*migrate.Migrate, string) error) error {
	src, path, err := openSource(migrationsDir)
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Warn("database migrations close", zap.Error(cerr))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		_ = src.Close()
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, err := migrate.NewWithInstance("source", src, "pgx5", driver)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			logger.Warn("database migrations source close", zap.Error(sourceErr))
		}
		if dbErr != nil {
			logger.Warn("database migrations db close", zap.Error(dbErr))
		}
	}()

	return fn(m, path)
}

func openSource(migrationsDir string) (source.Driver, string, error) {
	if strings.TrimSpace(migrationsDir) == "" {
		src, err := iofs.New(dbmigrations.Files, ".")
		if err != nil {
			return nil, "", fmt.Errorf("open embedded migrations: %w", err)
		}
		return src, embeddedPath, nil
	}
	resolved, err := resolveDir(migrationsDir)
	if err != nil {
		return nil, "", err
	}
	src, err := source.Open(fileURL(resolved))
	if err != nil {
		return nil, "", fmt.Errorf("open migrations directory: %w", err)
	}
	return src, resolved, nil
}

func resolveDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", errors.New("migrations path required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("migrations directory: %w", err)
	case err != nil:
		return "", fmt.Errorf("stat migrations directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("migrations directory %s: %w", abs, errNotDirectory)
	}
	return abs, nil
}

// fileURL renders an absolute path as a file:// source URL, including Windows drive paths.
func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}

func recordMigrationMetric(ctx context.Context, result, path string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("persistence.migrations")
		counter, err := meter.Int64Counter("tradelink_db_migrations_total",
			metric.WithDescription("Migration runs executed via golang-migrate"),
			metric.WithUnit("{run}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("environment", telemetry.Environment()),
		attribute.String("result", result),
	}
	if path != "" {
		attrs = append(attrs, attribute.String("migrations_path", path))
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
