package migrate

import (
	"context"
	"time"
)

// RunMetric records the outcome of a single migration run.
type RunMetric struct {
	StartedAt   time.Time
	CompletedAt time.Time
	DurationSec float64
	FromVersion int
	ToVersion   int
	Applied     int
	Status      string // "success" or "failed"
	Error       string
}

// MetricsRecorder persists run metrics for later analysis.
type MetricsRecorder interface {
	Record(ctx context.Context, metric *RunMetric) error
}

// NewSuccessMetric creates a metric for a successful run.
func NewSuccessMetric(started time.Time, from, to, applied int) *RunMetric {
	now := time.Now().UTC()
	return &RunMetric{
		StartedAt:   started.UTC(),
		CompletedAt: now,
		DurationSec: now.Sub(started.UTC()).Seconds(),
		FromVersion: from,
		ToVersion:   to,
		Applied:     applied,
		Status:      "success",
	}
}

// NewFailureMetric creates a metric for a failed run.
func NewFailureMetric(started time.Time, from, to, applied int, err error) *RunMetric {
	now := time.Now().UTC()
	return &RunMetric{
		StartedAt:   started.UTC(),
		CompletedAt: now,
		DurationSec: now.Sub(started.UTC()).Seconds(),
		FromVersion: from,
		ToVersion:   to,
		Applied:     applied,
		Status:      "failed",
		Error:       err.Error(),
	}
}
