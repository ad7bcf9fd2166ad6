package config

import "time"

// FeedConfig is the root configuration for an order feed instance.
type FeedConfig struct {
	Tenant     TenantConfig     `yaml:"tenant"`
	Primary    PrimaryConfig    `yaml:"primary"`
	Fallback   FallbackConfig   `yaml:"fallback"`
	Credential CredentialConfig `yaml:"credential"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Database   DBConfig         `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// TenantConfig identifies the store whose orders are followed.
type TenantConfig struct {
	ID string `yaml:"id"` // Store slug
}

// PrimaryConfig holds the bidirectional websocket channel settings.
type PrimaryConfig struct {
	URL                  string        `yaml:"url"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 or unset means the default
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ActionTimeout        time.Duration `yaml:"action_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	InitialOrdersLimit   int           `yaml:"initial_orders_limit"`
}

// FallbackConfig holds the server-sent events stream settings.
type FallbackConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Retry   time.Duration `yaml:"retry"` // Reconnect pacing until the server sends retry:
}

// CredentialConfig holds credential storage and re-check settings.
type CredentialConfig struct {
	Store         string        `yaml:"store"` // "memory", "postgres" or "redis"
	Key           string        `yaml:"key"`
	Token         string        `yaml:"token"` // Seeded into the store on startup when set
	MinRecheck    time.Duration `yaml:"min_recheck"`
	RefreshLead   time.Duration `yaml:"refresh_lead"`
	RedirectDelay time.Duration `yaml:"redirect_delay"`
	LoginURL      string        `yaml:"login_url"`
}

// DedupConfig sizes the duplicate suppression window.
type DedupConfig struct {
	WindowSize int           `yaml:"window_size"`
	TTL        time.Duration `yaml:"ttl"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the Redis connection used by the redis credential store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // Rotated log file, empty = stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}
