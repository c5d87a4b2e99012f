package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/solorun/solorun/internal/config"
	"github.com/solorun/solorun/internal/coord"
	"github.com/solorun/solorun/internal/lock"
	"github.com/solorun/solorun/internal/migrate"
	"github.com/solorun/solorun/internal/util"
)

func main() {
	configPath := flag.String("config", "solorun.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run the migration once and exit (ignore schedule)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	util.SetupLogger(cfg.Logging.Level)

	slog.Info("solorun starting",
		"store", cfg.Store.Backend,
		"strategy", cfg.Lock.Strategy,
		"key", cfg.Lock.Key,
		"ttl", cfg.LockTTL(),
		"migrations", cfg.Migration.Dir,
	)

	ctx := context.Background()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize coordination store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	pool, err := pgxpool.New(ctx, cfg.Migration.DSN)
	if err != nil {
		slog.Error("failed to connect to migration target database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	metricsStore := migrate.NewPostgresMetricsStore(pool)
	if err := metricsStore.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare metrics table", "error", err)
		os.Exit(1)
	}

	migrator := migrate.NewMigrator(pool, cfg.Migration.Dir,
		migrate.WithMetricsRecorder(metricsStore),
	)
	runner := lock.NewRunner("migration", buildStrategy(store, cfg), migrator.Run)

	if *once {
		if err := runner.Run(ctx); err != nil {
			slog.Error("migration run failed", "error", err)
			os.Exit(1)
		}
		slog.Info("run completed, exiting")
		return
	}

	if !cfg.Migration.Enabled {
		slog.Info("migration is disabled, nothing to schedule")
		return
	}

	// Run on a cron schedule.
	c := cron.New()
	_, err = c.AddFunc(cfg.Migration.Schedule, func() {
		if err := runner.Run(context.Background()); err != nil {
			slog.Error("scheduled migration run failed", "error", err)
		}
	})
	if err != nil {
		slog.Error("invalid cron schedule", "schedule", cfg.Migration.Schedule, "error", err)
		os.Exit(1)
	}

	// Postgres has no expiry reaper, so purge expired lease rows periodically.
	if ps, ok := store.(*coord.PostgresStore); ok {
		_, err = c.AddFunc("@hourly", func() {
			removed, err := ps.Cleanup(context.Background())
			if err != nil {
				slog.Error("lock cleanup failed", "error", err)
				return
			}
			if removed > 0 {
				slog.Info("purged expired lock records", "removed", removed)
			}
		})
		if err != nil {
			slog.Error("failed to schedule lock cleanup", "error", err)
			os.Exit(1)
		}
	}

	c.Start()
	slog.Info("migration scheduler started", "schedule", cfg.Migration.Schedule)

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down...")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	slog.Info("solorun stopped")
}

func buildStore(ctx context.Context, cfg *config.Config) (coord.Store, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		tlsConfig, err := util.NewTLSConfig(cfg.Store.Redis.TLS)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:      cfg.Store.Redis.Addr,
			Username:  cfg.Store.Redis.Username,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			TLSConfig: tlsConfig,
		})
		var opts []coord.RedisOption
		if cfg.Store.Redis.DurableAcks > 0 {
			opts = append(opts, coord.WithDurableAcks(cfg.Store.Redis.DurableAcks, cfg.RedisAckTimeout()))
		}
		store := coord.NewRedisStore(client, opts...)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("pinging redis: %w", err)
		}
		return store, func() { _ = client.Close() }, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to coordination database: %w", err)
		}
		store := coord.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func buildStrategy(store coord.Store, cfg *config.Config) lock.Strategy {
	if cfg.Lock.Strategy == "cas" {
		return lock.NewCASLock(store, cfg.Lock.Key)
	}
	return lock.NewLeaseLock(store, cfg.Lock.Key, lock.WithTTL(cfg.LockTTL()))
}
