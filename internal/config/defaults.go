package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPrimaryURL           = "ws://localhost:3001/orders"
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 3 * time.Second
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultActionTimeout        = 10 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultInitialOrdersLimit   = 50
	DefaultFallbackRetry        = 5 * time.Second
	DefaultCredentialStore      = "memory"
	DefaultCredentialKey        = "auth_token"
	DefaultMinRecheck           = 60 * time.Second
	DefaultRefreshLead          = 300 * time.Second
	DefaultRedirectDelay        = 1 * time.Second
	DefaultLoginURL             = "/login"
	DefaultDedupWindowSize      = 256
	DefaultDedupTTL             = 2 * time.Minute
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogMaxSizeMB         = 50
	DefaultLogMaxBackups        = 3
)

func (c *FeedConfig) applyDefaults() {
	// Primary channel defaults
	if c.Primary.URL == "" {
		c.Primary.URL = DefaultPrimaryURL
	}
	if c.Primary.MaxReconnectAttempts == 0 {
		c.Primary.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Primary.ReconnectDelay == 0 {
		c.Primary.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Primary.HeartbeatInterval == 0 {
		c.Primary.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Primary.ActionTimeout == 0 {
		c.Primary.ActionTimeout = DefaultActionTimeout
	}
	if c.Primary.HandshakeTimeout == 0 {
		c.Primary.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Primary.WriteTimeout == 0 {
		c.Primary.WriteTimeout = DefaultWriteTimeout
	}
	if c.Primary.InitialOrdersLimit == 0 {
		c.Primary.InitialOrdersLimit = DefaultInitialOrdersLimit
	}

	// Fallback stream defaults
	if c.Fallback.Retry == 0 {
		c.Fallback.Retry = DefaultFallbackRetry
	}

	// Credential defaults
	if c.Credential.Store == "" {
		c.Credential.Store = DefaultCredentialStore
	}
	if c.Credential.Key == "" {
		c.Credential.Key = DefaultCredentialKey
	}
	if c.Credential.MinRecheck == 0 {
		c.Credential.MinRecheck = DefaultMinRecheck
	}
	if c.Credential.RefreshLead == 0 {
		c.Credential.RefreshLead = DefaultRefreshLead
	}
	if c.Credential.RedirectDelay == 0 {
		c.Credential.RedirectDelay = DefaultRedirectDelay
	}
	if c.Credential.LoginURL == "" {
		c.Credential.LoginURL = DefaultLoginURL
	}

	// Dedup defaults
	if c.Dedup.WindowSize == 0 {
		c.Dedup.WindowSize = DefaultDedupWindowSize
	}
	if c.Dedup.TTL == 0 {
		c.Dedup.TTL = DefaultDedupTTL
	}

	// Database defaults (only used by the postgres credential store)
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
}
