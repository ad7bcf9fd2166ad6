package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *FeedConfig) Validate() error {
	if c.Tenant.ID == "" {
		return errors.New("tenant.id is required")
	}

	if err := validateURL("primary.url", c.Primary.URL, "ws", "wss"); err != nil {
		return err
	}
	if c.Primary.MaxReconnectAttempts < 1 {
		return errors.New("primary.max_reconnect_attempts must be >= 1")
	}
	if c.Primary.HeartbeatInterval <= 0 {
		return errors.New("primary.heartbeat_interval must be > 0")
	}
	if c.Primary.ActionTimeout <= 0 {
		return errors.New("primary.action_timeout must be > 0")
	}
	if c.Primary.InitialOrdersLimit < 1 {
		return errors.New("primary.initial_orders_limit must be >= 1")
	}

	if c.Fallback.Enabled {
		if err := validateURL("fallback.url", c.Fallback.URL, "http", "https"); err != nil {
			return err
		}
	}

	switch c.Credential.Store {
	case "memory":
	case "postgres":
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required for the redis credential store")
		}
	default:
		return fmt.Errorf("credential.store must be one of memory, postgres, redis, got %q", c.Credential.Store)
	}
	if c.Credential.MinRecheck <= 0 {
		return errors.New("credential.min_recheck must be > 0")
	}

	if c.Dedup.WindowSize < 1 {
		return errors.New("dedup.window_size must be >= 1")
	}
	if c.Dedup.TTL < 0 {
		return errors.New("dedup.ttl must be >= 0")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %v, got %q", field, schemes, u.Scheme)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
