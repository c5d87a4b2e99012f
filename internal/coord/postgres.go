package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against a PostgreSQL table. Versions come
// from a sequence so they increase monotonically across the lifetime of the
// database. Postgres has no TTL reaper, so expired lease rows are treated as
// absent: PutLease revives them in the same atomic statement, and Cleanup
// purges them for housekeeping.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed coordination store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the locks table and version sequence if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE SEQUENCE IF NOT EXISTS solorun_lock_versions;
		CREATE TABLE IF NOT EXISTS solorun_locks (
			key         text PRIMARY KEY,
			value       text NOT NULL,
			holder      text NOT NULL DEFAULT '',
			version     bigint NOT NULL DEFAULT nextval('solorun_lock_versions'),
			acquired_at timestamptz NOT NULL DEFAULT now(),
			expires_at  timestamptz
		);
	`)
	if err != nil {
		return fmt.Errorf("creating locks schema: %w", err)
	}
	return nil
}

// PutIfAbsent implements Store.PutIfAbsent. The INSERT either creates the row
// and returns its sequence-assigned version, or conflicts and returns no row.
// An existing row blocks creation even if it carries an elapsed lease expiry;
// the compare-and-swap variant has no notion of expiry.
func (s *PostgresStore) PutIfAbsent(ctx context.Context, key, value string) (int64, bool, error) {
	var version int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO solorun_locks (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
		RETURNING version
	`, key, value).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres put-if-absent %s: %w", key, err)
	}
	return version, true, nil
}

// DeleteIfVersion implements Store.DeleteIfVersion.
func (s *PostgresStore) DeleteIfVersion(ctx context.Context, key string, version int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM solorun_locks WHERE key = $1 AND version = $2
	`, key, version)
	if err != nil {
		return false, fmt.Errorf("postgres delete-if-version %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// PutLease implements Store.PutLease. A single statement either inserts the
// lease or takes over a row whose expiry has already elapsed; an unexpired
// row conflicts and returns no row.
func (s *PostgresStore) PutLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	expiresAt := time.Now().UTC().Add(ttl)

	var returned string
	err := s.db.QueryRow(ctx, `
		INSERT INTO solorun_locks (key, value, holder, expires_at)
		VALUES ($1, $2, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    holder = EXCLUDED.holder,
		    acquired_at = now(),
		    expires_at = EXCLUDED.expires_at,
		    version = nextval('solorun_lock_versions')
		WHERE solorun_locks.expires_at IS NOT NULL AND solorun_locks.expires_at <= now()
		RETURNING key
	`, key, holder, expiresAt).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres put-lease %s: %w", key, err)
	}
	return true, nil
}

// Delete implements Store.Delete: the record is removed only if holder still
// owns it and the lease has not expired out from under them.
func (s *PostgresStore) Delete(ctx context.Context, key, holder string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM solorun_locks
		WHERE key = $1 AND holder = $2
		  AND (expires_at IS NULL OR expires_at > now())
	`, key, holder)
	if err != nil {
		return false, fmt.Errorf("postgres delete %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ForceDelete unconditionally removes the lock record for key. This is the
// manual intervention for a compare-and-swap lock orphaned by a crashed
// holder.
func (s *PostgresStore) ForceDelete(ctx context.Context, key string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM solorun_locks WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("postgres force-delete %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cleanup removes all expired lease rows. Intended to run periodically; the
// store stays correct without it because PutLease revives expired rows on
// its own.
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM solorun_locks
		WHERE expires_at IS NOT NULL AND expires_at <= now()
	`)
	if err != nil {
		return 0, fmt.Errorf("postgres lock cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping verifies connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
