package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/orderfeed/internal/config"
	"github.com/rickgao/orderfeed/internal/credential"
	"github.com/rickgao/orderfeed/internal/database"
)

// OpenStore builds the configured credential store and seeds it with the
// configured token, if any. The returned func releases the store.
func OpenStore(ctx context.Context, cfg config.FeedConfig, logger *slog.Logger) (credential.Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store   credential.Store
		closeFn = func() {}
	)

	switch cfg.Credential.Store {
	case "", "memory":
		store = credential.NewMemoryStore()

	case "postgres":
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect credential database: %w", err)
		}
		pg := credential.NewPostgresStore(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		store, closeFn = pg, pool.Close

	case "redis":
		rs, err := credential.NewRedisStoreFromURL(cfg.Redis.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		store, closeFn = rs, func() { rs.Close() }

	default:
		return nil, nil, fmt.Errorf("unknown credential store %q", cfg.Credential.Store)
	}

	if cfg.Credential.Token != "" {
		if err := store.Set(ctx, cfg.Credential.Key, cfg.Credential.Token); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("seed credential: %w", err)
		}
	}

	logger.Info("credential store ready", "store", cfg.Credential.Store, "key", cfg.Credential.Key)
	return store, closeFn, nil
}
