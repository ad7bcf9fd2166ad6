package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the LISTEN/NOTIFY channel used by PostgresStore.
const NotifyChannel = "orderfeed_credentials"

const unlistenTimeout = 5 * time.Second

const createCredentialsTable = `
CREATE TABLE IF NOT EXISTS credentials (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps credentials in a table and signals changes with
// NOTIFY, carrying the changed key as payload.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a store on pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "pg_credential_store"),
	}
}

// EnsureSchema creates the credentials table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createCredentialsTable); err != nil {
		return fmt.Errorf("create credentials table: %w", err)
	}
	return nil
}

// Get returns the value for key.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM credentials WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get credential: %w", err)
	}
	return value, nil
}

// Set upserts value and notifies listeners in the same transaction.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO credentials (key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			key, value)
		if err != nil {
			return fmt.Errorf("set credential: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, key); err != nil {
			return fmt.Errorf("notify credential change: %w", err)
		}
		return nil
	})
}

// Delete removes key and notifies listeners.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM credentials WHERE key = $1`, key)
		if err != nil {
			return fmt.Errorf("delete credential: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, key); err != nil {
			return fmt.Errorf("notify credential change: %w", err)
		}
		return nil
	})
}

// Watch holds a dedicated pool connection in LISTEN mode until ctx is done.
// A lost listener is re-established with backoff, after which the current
// value is delivered since notifications sent in between are gone.
func (s *PostgresStore) Watch(ctx context.Context, key string) (<-chan string, error) {
	conn, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan string, watchBuffer)
	go s.watchLoop(ctx, conn, key, ch)
	return ch, nil
}

func (s *PostgresStore) watchLoop(ctx context.Context, conn *pgxpool.Conn, key string, ch chan<- string) {
	defer close(ch)

	for {
		err := s.forward(ctx, conn, key, ch)
		s.unlisten(conn)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("credential listener lost", "error", err)

		delay := listenRetryMin
		for {
			var ok bool
			if delay, ok = sleepBackoff(ctx, delay); !ok {
				return
			}
			if conn, err = s.listen(ctx); err == nil {
				break
			}
			s.logger.Warn("credential listener resubscribe failed", "error", err, "retry_in", delay)
		}
		s.logger.Info("credential listener resubscribed")

		if !s.emit(ctx, key, ch) {
			s.unlisten(conn)
			return
		}
	}
}

// forward relays notifications for key until the connection fails or ctx
// is done.
func (s *PostgresStore) forward(ctx context.Context, conn *pgxpool.Conn, key string, ch chan<- string) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Payload != key {
			continue
		}
		if !s.emit(ctx, key, ch) {
			return ctx.Err()
		}
	}
}

// emit reads key and sends it on ch. It returns false when ctx is done.
func (s *PostgresStore) emit(ctx context.Context, key string, ch chan<- string) bool {
	value, err := s.Get(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read changed credential", "error", err)
		return ctx.Err() == nil
	}
	select {
	case ch <- value:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *PostgresStore) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	return conn, nil
}

// unlisten returns conn to the pool without subscriptions. A connection
// that cannot be cleaned is closed instead.
func (s *PostgresStore) unlisten(conn *pgxpool.Conn) {
	if conn.Conn().IsClosed() {
		conn.Release()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), unlistenTimeout)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		s.logger.Debug("unlisten failed, closing connection", "error", err)
		raw := conn.Hijack()
		raw.Close(ctx)
		return
	}
	conn.Release()
}
