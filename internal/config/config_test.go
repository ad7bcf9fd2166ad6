package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
tenant:
  id: pizza-place
primary:
  url: wss://api.example.com/orders
  max_reconnect_attempts: 7
  reconnect_delay: 2s
fallback:
  enabled: true
  url: https://app.example.com/api/orders/stream
credential:
  store: memory
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tenant.ID != "pizza-place" {
		t.Errorf("Tenant.ID = %q, want %q", cfg.Tenant.ID, "pizza-place")
	}
	if cfg.Primary.URL != "wss://api.example.com/orders" {
		t.Errorf("Primary.URL = %q, want %q", cfg.Primary.URL, "wss://api.example.com/orders")
	}
	if cfg.Primary.MaxReconnectAttempts != 7 {
		t.Errorf("Primary.MaxReconnectAttempts = %d, want 7", cfg.Primary.MaxReconnectAttempts)
	}
	if cfg.Primary.ReconnectDelay != 2*time.Second {
		t.Errorf("Primary.ReconnectDelay = %v, want 2s", cfg.Primary.ReconnectDelay)
	}
	if !cfg.Fallback.Enabled {
		t.Error("Fallback.Enabled = false, want true")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FEED_TOKEN", "header.payload.sig")

	yaml := `
tenant:
  id: pizza-place
credential:
  token: ${TEST_FEED_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Credential.Token != "header.payload.sig" {
		t.Errorf("Credential.Token = %q, want %q", cfg.Credential.Token, "header.payload.sig")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("TEST_FEED_TENANT=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("TEST_FEED_TENANT") })

	if err := LoadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}

	path := writeTempFile(t, "tenant:\n  id: ${TEST_FEED_TENANT}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tenant.ID != "from-dotenv" {
		t.Errorf("Tenant.ID = %q, want %q", cfg.Tenant.ID, "from-dotenv")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
tenant:
  id: pizza-place
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Primary.URL != DefaultPrimaryURL {
		t.Errorf("Primary.URL = %q, want default %q", cfg.Primary.URL, DefaultPrimaryURL)
	}
	if cfg.Primary.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Primary.MaxReconnectAttempts = %d, want default %d", cfg.Primary.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Primary.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("Primary.HeartbeatInterval = %v, want default %v", cfg.Primary.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Primary.ActionTimeout != DefaultActionTimeout {
		t.Errorf("Primary.ActionTimeout = %v, want default %v", cfg.Primary.ActionTimeout, DefaultActionTimeout)
	}
	if cfg.Credential.MinRecheck != DefaultMinRecheck {
		t.Errorf("Credential.MinRecheck = %v, want default %v", cfg.Credential.MinRecheck, DefaultMinRecheck)
	}
	if cfg.Credential.RefreshLead != DefaultRefreshLead {
		t.Errorf("Credential.RefreshLead = %v, want default %v", cfg.Credential.RefreshLead, DefaultRefreshLead)
	}
	if cfg.Credential.Key != DefaultCredentialKey {
		t.Errorf("Credential.Key = %q, want default %q", cfg.Credential.Key, DefaultCredentialKey)
	}
	if cfg.Dedup.WindowSize != DefaultDedupWindowSize {
		t.Errorf("Dedup.WindowSize = %d, want default %d", cfg.Dedup.WindowSize, DefaultDedupWindowSize)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() FeedConfig {
		cfg := FeedConfig{Tenant: TenantConfig{ID: "pizza-place"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*FeedConfig)
		wantErr string
	}{
		{
			name:    "missing tenant id",
			mutate:  func(c *FeedConfig) { c.Tenant.ID = "" },
			wantErr: "tenant.id is required",
		},
		{
			name:    "primary url wrong scheme",
			mutate:  func(c *FeedConfig) { c.Primary.URL = "http://example.com" },
			wantErr: `primary.url scheme must be one of [ws wss], got "http"`,
		},
		{
			name: "fallback enabled without url",
			mutate: func(c *FeedConfig) {
				c.Fallback.Enabled = true
			},
			wantErr: "fallback.url is required",
		},
		{
			name:    "zero reconnect attempts",
			mutate:  func(c *FeedConfig) { c.Primary.MaxReconnectAttempts = 0 },
			wantErr: "primary.max_reconnect_attempts must be >= 1",
		},
		{
			name:    "negative reconnect attempts",
			mutate:  func(c *FeedConfig) { c.Primary.MaxReconnectAttempts = -1 },
			wantErr: "primary.max_reconnect_attempts must be >= 1",
		},
		{
			name:    "unknown credential store",
			mutate:  func(c *FeedConfig) { c.Credential.Store = "cookie" },
			wantErr: `credential.store must be one of memory, postgres, redis, got "cookie"`,
		},
		{
			name:    "postgres store without host",
			mutate:  func(c *FeedConfig) { c.Credential.Store = "postgres" },
			wantErr: "database.host is required",
		},
		{
			name: "postgres min_conns exceeds max_conns",
			mutate: func(c *FeedConfig) {
				c.Credential.Store = "postgres"
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 2, MinConns: 5}
			},
			wantErr: "database.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "redis store without url",
			mutate:  func(c *FeedConfig) { c.Credential.Store = "redis" },
			wantErr: "redis.url is required for the redis credential store",
		},
		{
			name:    "bad metrics port",
			mutate:  func(c *FeedConfig) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "valid config",
			mutate:  func(c *FeedConfig) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
