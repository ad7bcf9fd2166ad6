package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ChangeChannel is the pub/sub channel used by RedisStore.
const ChangeChannel = "orderfeed:credentials"

// RedisStore keeps credentials as plain string keys and publishes the
// changed key on ChangeChannel.
type RedisStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a store on rdb.
func NewRedisStore(rdb *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		rdb:    rdb,
		logger: logger.With("component", "redis_credential_store"),
	}
}

// NewRedisStoreFromURL parses a redis:// URL and creates a store.
func NewRedisStoreFromURL(rawURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), logger), nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Get returns the value for key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get credential: %w", err)
	}
	return value, nil
}

// Set stores value and publishes the change.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return s.publish(ctx, key)
}

// Delete removes key and publishes the change.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, key)
}

func (s *RedisStore) publish(ctx context.Context, key string) error {
	if err := s.rdb.Publish(ctx, ChangeChannel, key).Err(); err != nil {
		return fmt.Errorf("publish credential change: %w", err)
	}
	return nil
}

// Watch subscribes to ChangeChannel until ctx is done.
func (s *RedisStore) Watch(ctx context.Context, key string) (<-chan string, error) {
	pubsub := s.rdb.Subscribe(ctx, ChangeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ChangeChannel, err)
	}

	ch := make(chan string, watchBuffer)
	go func() {
		defer close(ch)
		defer pubsub.Close()

		delay := listenRetryMin
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// The pubsub reconnects on the next receive; changes published
				// meanwhile are recovered by re-reading the key.
				s.logger.Warn("credential subscription interrupted", "error", err, "retry_in", delay)
				var ok bool
				if delay, ok = sleepBackoff(ctx, delay); !ok {
					return
				}
				if !s.emit(ctx, key, ch) {
					return
				}
				continue
			}
			delay = listenRetryMin
			if msg.Payload != key {
				continue
			}
			if !s.emit(ctx, key, ch) {
				return
			}
		}
	}()

	return ch, nil
}

// emit reads key and sends it on ch. It returns false when ctx is done.
func (s *RedisStore) emit(ctx context.Context, key string, ch chan<- string) bool {
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
