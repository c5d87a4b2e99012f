package migrate

import (
	"context"
	"fmt"
)

// PostgresMetricsStore persists run metrics to a solorun_migration_runs
// table in the target database, next to the data the migrations touch.
type PostgresMetricsStore struct {
	db DB
}

// NewPostgresMetricsStore creates a metrics store writing through db.
func NewPostgresMetricsStore(db DB) *PostgresMetricsStore {
	return &PostgresMetricsStore{db: db}
}

// EnsureSchema creates the metrics table if missing.
func (s *PostgresMetricsStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS solorun_migration_runs (
			id           bigserial PRIMARY KEY,
			started_at   timestamptz NOT NULL,
			completed_at timestamptz NOT NULL,
			duration_sec double precision NOT NULL,
			from_version integer NOT NULL,
			to_version   integer NOT NULL,
			applied      integer NOT NULL,
			status       text NOT NULL,
			error        text NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("creating migration runs table: %w", err)
	}
	return nil
}

// Record implements MetricsRecorder.
func (s *PostgresMetricsStore) Record(ctx context.Context, metric *RunMetric) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO solorun_migration_runs
			(started_at, completed_at, duration_sec, from_version, to_version, applied, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, metric.StartedAt, metric.CompletedAt, metric.DurationSec,
		metric.FromVersion, metric.ToVersion, metric.Applied, metric.Status, metric.Error)
	if err != nil {
		return fmt.Errorf("recording migration run: %w", err)
	}
	return nil
}
