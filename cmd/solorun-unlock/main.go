// Command solorun-unlock force-clears an orphaned lock record.
//
// A compare-and-swap lock left behind by a crashed holder blocks every
// future run until an operator removes it; this is that manual intervention.
// Lease locks normally self-heal at expiry, but the tool works on them too.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/solorun/solorun/internal/config"
	"github.com/solorun/solorun/internal/coord"
	"github.com/solorun/solorun/internal/util"
)

// forceDeleter is the operator-only store surface; it is deliberately not
// part of the coordination contract the lock strategies consume.
type forceDeleter interface {
	ForceDelete(ctx context.Context, key string) (bool, error)
}

func main() {
	configPath := flag.String("config", "solorun.yaml", "path to configuration file")
	key := flag.String("key", "", "lock key to clear (defaults to lock.key from the config)")
	force := flag.Bool("force", false, "actually delete the lock record")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	util.SetupLogger(cfg.Logging.Level)

	lockKey := cfg.Lock.Key
	if *key != "" {
		lockKey = *key
	}

	if !*force {
		fmt.Fprintf(os.Stderr, "refusing to clear lock %q without -force\n", lockKey)
		fmt.Fprintln(os.Stderr, "force-clearing a lock held by a live instance breaks mutual exclusion")
		os.Exit(2)
	}

	ctx := context.Background()
	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize coordination store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	removed, err := store.ForceDelete(ctx, lockKey)
	if err != nil {
		slog.Error("failed to clear lock", "key", lockKey, "error", err)
		os.Exit(1)
	}
	if !removed {
		slog.Info("no lock record found", "key", lockKey)
		return
	}
	slog.Info("lock record cleared", "key", lockKey, "store", cfg.Store.Backend)
}

func buildStore(ctx context.Context, cfg *config.Config) (forceDeleter, func(), error) {
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
		store := coord.NewRedisStore(client)
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
