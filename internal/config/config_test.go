// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  shutdown_timeout: "5s"

database:
  path: "./test.db"

auth:
  jwt_secret: "secret"
  issuer: "mimrai"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/internal/metrics"

streams:
  namespace: "staging"
  retention: "30m"
  sweep_interval: "30s"
  heartbeat_interval: "10s"

dedupe:
  ttl: "2m"
  max_entries: 50

routing:
  confidence_threshold: 0.6
  fallback_agent: "projects"
  history_turns: 5

executor:
  max_rounds: 4
  history_limit: 10
  tool_timeout: "12s"

generation:
  provider: "anthropic"
  model: "claude-sonnet-4-5"
  api_key: "sk-test"
  max_tokens: 2048
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if !cfg.Auth.Enabled() || cfg.Auth.Issuer != "mimrai" {
		t.Errorf("Auth = %+v, want enabled with issuer mimrai", cfg.Auth)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/internal/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if cfg.Streams.Namespace != "staging" {
		t.Errorf("Streams.Namespace = %q, want staging", cfg.Streams.Namespace)
	}
	if cfg.Streams.Retention != 30*time.Minute {
		t.Errorf("Streams.Retention = %v, want 30m", cfg.Streams.Retention)
	}
	if cfg.Streams.SweepInterval != 30*time.Second {
		t.Errorf("Streams.SweepInterval = %v, want 30s", cfg.Streams.SweepInterval)
	}
	if cfg.Streams.HeartbeatInterval != 10*time.Second {
		t.Errorf("Streams.HeartbeatInterval = %v, want 10s", cfg.Streams.HeartbeatInterval)
	}
	if cfg.Dedupe.TTL != 2*time.Minute || cfg.Dedupe.MaxEntries != 50 {
		t.Errorf("Dedupe = %+v", cfg.Dedupe)
	}
	if cfg.Routing.ConfidenceThreshold != 0.6 || cfg.Routing.FallbackAgent != "projects" || cfg.Routing.HistoryTurns != 5 {
		t.Errorf("Routing = %+v", cfg.Routing)
	}
	if cfg.Executor.MaxRounds != 4 || cfg.Executor.HistoryLimit != 10 || cfg.Executor.ToolTimeout != 12*time.Second {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
	if cfg.Generation.Provider != "anthropic" || cfg.Generation.MaxTokens != 2048 {
		t.Errorf("Generation = %+v", cfg.Generation)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
path = "mimrai.db"

[streams]
retention = "1h"

[routing]
confidence_threshold = 0.75
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Streams.Retention != time.Hour {
		t.Errorf("Streams.Retention = %v, want 1h", cfg.Streams.Retention)
	}
	if cfg.Routing.ConfidenceThreshold != 0.75 {
		t.Errorf("Routing.ConfidenceThreshold = %v, want 0.75", cfg.Routing.ConfidenceThreshold)
	}
	if cfg.Generation.Provider != "echo" {
		t.Errorf("Generation.Provider = %q, want echo default", cfg.Generation.Provider)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: ":8080"
database:
  path: "test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout, 10 * time.Second},
		{"auth.enabled", cfg.Auth.Enabled(), false},
		{"auth.public_scope", cfg.Auth.PublicScope, "public"},
		{"logging.level", cfg.Logging.Level, "info"},
		{"logging.format", cfg.Logging.Format, "text"},
		{"metrics.path", cfg.Metrics.Path, "/metrics"},
		{"streams.namespace", cfg.Streams.Namespace, "mimrai"},
		{"streams.retention", cfg.Streams.Retention, 15 * time.Minute},
		{"streams.sweep_interval", cfg.Streams.SweepInterval, time.Minute},
		{"streams.heartbeat_interval", cfg.Streams.HeartbeatInterval, 15 * time.Second},
		{"dedupe.ttl", cfg.Dedupe.TTL, 10 * time.Minute},
		{"dedupe.max_entries", cfg.Dedupe.MaxEntries, 10000},
		{"routing.confidence_threshold", cfg.Routing.ConfidenceThreshold, 0.5},
		{"routing.fallback_agent", cfg.Routing.FallbackAgent, "tasks"},
		{"routing.history_turns", cfg.Routing.HistoryTurns, 3},
		{"executor.max_rounds", cfg.Executor.MaxRounds, 6},
		{"executor.history_limit", cfg.Executor.HistoryLimit, 20},
		{"executor.tool_timeout", cfg.Executor.ToolTimeout, 30 * time.Second},
		{"generation.provider", cfg.Generation.Provider, "echo"},
		{"mcp.enabled", cfg.MCP.Enabled, false},
		{"mcp.path", cfg.MCP.Path, "/mcp"},
		{"mcp.session_ttl", cfg.MCP.SessionTTL, time.Hour},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("MIMRAI_TEST_DB", "/var/lib/mimrai/gateway.db")
	t.Setenv("MIMRAI_TEST_KEY", "sk-from-env")

	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: ":8080"
database:
  path: "${MIMRAI_TEST_DB}"
generation:
  provider: anthropic
  api_key: "${MIMRAI_TEST_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/var/lib/mimrai/gateway.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Generation.APIKey != "sk-from-env" {
		t.Errorf("Generation.APIKey = %q", cfg.Generation.APIKey)
	}
}

func TestExpandEnvVars_Unset(t *testing.T) {
	t.Setenv("MIMRAI_SET", "x")
	got := expandEnvVars("a=${MIMRAI_SET} b=${MIMRAI_DEFINITELY_UNSET_VAR}")
	if got != "a=x b=" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: ":8080"
database:
  path: "test.db"
streams:
  retention: "forever"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "streams.retention") {
		t.Errorf("error = %v, want mention of streams.retention", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidSyntax(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}

	path = writeConfig(t, "gateway.toml", "[server\nhttp_addr = 1")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for invalid TOML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Server:   ServerConfig{HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: "test.db"},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
		{"namespace separator", func(c *Config) { c.Streams.Namespace = "a:b" }, "streams.namespace"},
		{"public scope separator", func(c *Config) { c.Auth.PublicScope = "a:b" }, "auth.public_scope"},
		{"threshold above one", func(c *Config) { c.Routing.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"negative rounds", func(c *Config) { c.Executor.MaxRounds = -1 }, "max_rounds"},
		{"unknown provider", func(c *Config) { c.Generation.Provider = "llama" }, "generation.provider"},
		{"anthropic without key", func(c *Config) { c.Generation.Provider = "anthropic" }, "generation.api_key"},
		{"relative mcp path", func(c *Config) { c.MCP.Path = "mcp" }, "mcp.path"},
		{"mcp over api", func(c *Config) { c.MCP.Enabled = true; c.MCP.Path = "/api/mcp" }, "collides"},
		{"mcp over metrics", func(c *Config) { c.MCP.Enabled = true; c.MCP.Path = "/metrics" }, "collides"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
