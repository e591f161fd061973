package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidfriends/toptop/internal/db"
	"github.com/vidfriends/toptop/internal/logging"
)

const (
	schemaMaxRetries  = 3
	schemaBaseBackoff = 100 * time.Millisecond
	schemaMaxBackoff  = 3 * time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS client_sessions (
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (namespace, key)
)`

// PostgresStore persists session values in the client_sessions table, scoped
// by namespace so several profiles can share one database.
type PostgresStore struct {
	pool      db.Pool
	namespace string
}

// NewPostgresStore constructs a Store backed by PostgreSQL.
func NewPostgresStore(pool db.Pool, namespace string) *PostgresStore {
	if namespace == "" {
		namespace = "default"
	}
	return &PostgresStore{pool: pool, namespace: namespace}
}

// EnsureSchema creates the client_sessions table when it is missing. Transient
// serialization failures are retried with exponential backoff.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	logger := logging.FromContext(ctx)

	var attempt int
	for attempt = 0; attempt < schemaMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := schemaBaseBackoff << (attempt - 1)
			if backoff > schemaMaxBackoff {
				backoff = schemaMaxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		_, err := conn.Exec(ctx, createSessionsTable)
		if err == nil {
			return nil
		}
		if shouldRetry(err) && attempt < schemaMaxRetries-1 {
			logger.Warn("transient error creating session table",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		return fmt.Errorf("create client_sessions: %w", err)
	}

	return fmt.Errorf("create client_sessions: exceeded max retries (%d)", attempt)
}

// Get loads the value stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var value string
	err = conn.QueryRow(ctx, `
        SELECT value
        FROM client_sessions
        WHERE namespace = $1 AND key = $2
    `, s.namespace, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("select session value: %w", err)
	}
	return value, nil
}

// Set stores or replaces the value under key.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO client_sessions (namespace, key, value, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (namespace, key)
        DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
    `, s.namespace, key, value)
	if err != nil {
		return fmt.Errorf("upsert session value: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `
        DELETE FROM client_sessions
        WHERE namespace = $1 AND key = $2
    `, s.namespace, key); err != nil {
		return fmt.Errorf("delete session value: %w", err)
	}
	return nil
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}
	return false
}
