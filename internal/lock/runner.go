package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Workload is the protected job the runner executes while holding the lock.
// Its failure is opaque to the lock core: never caught, classified or
// suppressed, only guaranteed to propagate after Release has run.
type Workload func(ctx context.Context) error

// Runner executes a workload on at most one instance of a fleet at a time.
// Each Run is strictly sequential: acquire, execute, release. Contention is
// handled entirely inside the runner and never surfaces as an error to the
// caller; it is normal operation in a multi-replica deployment.
type Runner struct {
	name     string
	strategy Strategy
	workload Workload
}

// NewRunner creates a runner for the named job.
func NewRunner(name string, strategy Strategy, workload Workload) *Runner {
	return &Runner{
		name:     name,
		strategy: strategy,
		workload: workload,
	}
}

// Run attempts a single protected execution. When the lock is unavailable it
// logs a warning and returns nil without invoking the workload; the next
// scheduled invocation will try again. Once acquired, Release executes on
// every exit path, and a release failure is logged but never masks the
// workload's own outcome.
func (r *Runner) Run(ctx context.Context) error {
	token, acquired, err := r.strategy.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring %s lock: %w", r.name, err)
	}
	if !acquired {
		slog.Warn("lock held by another instance, skipping run",
			"job", r.name, "key", r.strategy.Key())
		return nil
	}

	slog.Info("lock acquired",
		"job", r.name, "key", token.Key, "holder", token.Holder,
		"version", token.Version)

	started := time.Now()
	defer func() {
		elapsed := time.Since(started)
		if rerr := r.strategy.Release(ctx, token); rerr != nil {
			if errors.Is(rerr, ErrNotHeld) && !token.ExpiresAt.IsZero() {
				slog.Error("lease already gone at release, likely expired during the run",
					"job", r.name, "key", token.Key, "holder", token.Holder,
					"expires_at", token.ExpiresAt, "duration", elapsed)
			} else {
				slog.Error("failed to release lock, manual intervention may be required",
					"job", r.name, "key", token.Key, "holder", token.Holder,
					"error", rerr)
			}
		} else {
			slog.Info("lock released", "job", r.name, "key", token.Key, "duration", elapsed)
		}
		if !token.ExpiresAt.IsZero() && time.Now().After(token.ExpiresAt) {
			// Known gap: the lease is never renewed mid-run, so another
			// instance may have acquired the lock while this run was still
			// executing.
			slog.Warn("workload outlived the lease TTL, mutual exclusion may have been violated",
				"job", r.name, "key", token.Key, "expired_at", token.ExpiresAt,
				"duration", elapsed)
		}
	}()

	slog.Info("workload starting", "job", r.name, "key", token.Key)
	if err := r.workload(ctx); err != nil {
		return fmt.Errorf("%s workload: %w", r.name, err)
	}
	return nil
}
