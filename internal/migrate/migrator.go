// Package migrate applies versioned SQL migrations to a PostgreSQL database.
// It is the protected workload solorun guards with the distributed lock, but
// knows nothing about locking itself.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool operations the migrator needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Migration is one versioned migration file.
type Migration struct {
	Version int
	Name    string
	Path    string
}

// Migrator applies pending migrations from a directory of NNN_name.sql
// files, each in its own transaction, recording applied versions in a
// schema_migrations table.
type Migrator struct {
	db       DB
	dir      string
	recorder MetricsRecorder
}

// MigratorOption configures optional Migrator behavior.
type MigratorOption func(*Migrator)

// WithMetricsRecorder persists a per-run outcome record for later analysis.
func WithMetricsRecorder(r MetricsRecorder) MigratorOption {
	return func(m *Migrator) {
		m.recorder = r
	}
}

// NewMigrator creates a Migrator reading migration files from dir.
func NewMigrator(db DB, dir string, opts ...MigratorOption) *Migrator {
	m := &Migrator{db: db, dir: dir}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run applies all pending migrations. It satisfies lock.Workload.
func (m *Migrator) Run(ctx context.Context) error {
	started := time.Now()

	from, to, applied, err := m.apply(ctx)
	if m.recorder != nil {
		var metric *RunMetric
		if err != nil {
			metric = NewFailureMetric(started, from, to, applied, err)
		} else {
			metric = NewSuccessMetric(started, from, to, applied)
		}
		if rerr := m.recorder.Record(ctx, metric); rerr != nil {
			slog.Warn("failed to record migration run metric", "error", rerr)
		}
	}
	return err
}

// apply returns the starting version, the final version reached, and how many
// migrations were applied before returning.
func (m *Migrator) apply(ctx context.Context) (from, to, applied int, err error) {
	if err := m.ensureSchema(ctx); err != nil {
		return 0, 0, 0, err
	}

	migrations, err := LoadMigrations(m.dir)
	if err != nil {
		return 0, 0, 0, err
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	from, to = current, current

	pending := make([]Migration, 0, len(migrations))
	for _, mig := range migrations {
		if mig.Version > current {
			pending = append(pending, mig)
		}
	}
	if len(pending) == 0 {
		slog.Info("schema is up to date", "version", current)
		return from, to, 0, nil
	}

	slog.Info("applying migrations",
		"current", current, "pending", len(pending),
		"target", pending[len(pending)-1].Version)

	for _, mig := range pending {
		if err := m.applyOne(ctx, mig); err != nil {
			return from, to, applied, fmt.Errorf("applying migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		applied++
		to = mig.Version
		slog.Info("migration applied", "version", mig.Version, "name", mig.Name)
	}
	return from, to, applied, nil
}

func (m *Migrator) ensureSchema(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    integer PRIMARY KEY,
			name       text NOT NULL,
			applied_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading current schema version: %w", err)
	}
	return version, nil
}

// applyOne runs a single migration and its bookkeeping insert in one
// transaction, so a failed statement leaves no trace of the version.
func (m *Migrator) applyOne(ctx context.Context, mig Migration) error {
	sqlBytes, err := os.ReadFile(mig.Path)
	if err != nil {
		return fmt.Errorf("reading migration file: %w", err)
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
		mig.Version, mig.Name); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}
	return tx.Commit(ctx)
}

// LoadMigrations reads dir and returns its migrations sorted by version.
// Files must be named NNN_description.sql; other extensions are ignored.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir %s: %w", dir, err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()
		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			Path:    filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseMigrationName(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok {
		return 0, "", fmt.Errorf("migration %s: name must be NNN_description.sql", filename)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: version prefix must be a positive integer", filename)
	}
	return version, name, nil
}
