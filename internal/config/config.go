// ABOUTME: Configuration loading and parsing for mimrai-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete mimrai-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Streams    StreamsConfig    `yaml:"streams" toml:"streams"`
	Dedupe     DedupeConfig     `yaml:"dedupe" toml:"dedupe"`
	Routing    RoutingConfig    `yaml:"routing" toml:"routing"`
	Executor   ExecutorConfig   `yaml:"executor" toml:"executor"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	MCP        MCPConfig        `yaml:"mcp" toml:"mcp"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration.
// Auth is disabled when JWTSecret is empty; every request then uses PublicScope.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer      string `yaml:"issuer" toml:"issuer"`
	PublicScope string `yaml:"public_scope" toml:"public_scope"`
}

// Enabled reports whether bearer tokens are required.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// StreamsConfig holds stream buffer and session lifecycle configuration
type StreamsConfig struct {
	Namespace         string        `yaml:"namespace" toml:"namespace"`
	Retention         time.Duration `yaml:"-" toml:"-"`
	SweepInterval     time.Duration `yaml:"-" toml:"-"`
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RetentionRaw         string `yaml:"retention" toml:"retention"`
	SweepIntervalRaw     string `yaml:"sweep_interval" toml:"sweep_interval"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
}

// DedupeConfig holds the idempotency window for re-posted messages
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// RoutingConfig holds triage policy
type RoutingConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" toml:"confidence_threshold"`
	FallbackAgent       string  `yaml:"fallback_agent" toml:"fallback_agent"`
	HistoryTurns        int     `yaml:"history_turns" toml:"history_turns"`
}

// ExecutorConfig holds agent execution limits
type ExecutorConfig struct {
	MaxRounds    int           `yaml:"max_rounds" toml:"max_rounds"`
	HistoryLimit int           `yaml:"history_limit" toml:"history_limit"`
	ToolTimeout  time.Duration `yaml:"-" toml:"-"`

	ToolTimeoutRaw string `yaml:"tool_timeout" toml:"tool_timeout"`
}

// GenerationConfig selects the language model backend
type GenerationConfig struct {
	Provider  string `yaml:"provider" toml:"provider"`
	Model     string `yaml:"model" toml:"model"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	MaxTokens int64  `yaml:"max_tokens" toml:"max_tokens"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
}

// MCPConfig controls the MCP endpoint that exposes workspace tools to external agents
type MCPConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled"`
	Path       string        `yaml:"path" toml:"path"`
	SessionTTL time.Duration `yaml:"-" toml:"-"`

	SessionTTLRaw string `yaml:"session_ttl" toml:"session_ttl"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, formatOf(path))
}

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, defaults and validates configuration data.
func Parse(data []byte, format Format) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills every optional field left empty.
func (c *Config) ApplyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Auth.PublicScope == "" {
		c.Auth.PublicScope = "public"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Streams.Namespace == "" {
		c.Streams.Namespace = "mimrai"
	}
	if c.Streams.Retention == 0 {
		c.Streams.Retention = 15 * time.Minute
	}
	if c.Streams.SweepInterval == 0 {
		c.Streams.SweepInterval = time.Minute
	}
	if c.Streams.HeartbeatInterval == 0 {
		c.Streams.HeartbeatInterval = 15 * time.Second
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 10 * time.Minute
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 10000
	}
	if c.Routing.ConfidenceThreshold == 0 {
		c.Routing.ConfidenceThreshold = 0.5
	}
	if c.Routing.FallbackAgent == "" {
		c.Routing.FallbackAgent = "tasks"
	}
	if c.Routing.HistoryTurns == 0 {
		c.Routing.HistoryTurns = 3
	}
	if c.Executor.MaxRounds == 0 {
		c.Executor.MaxRounds = 6
	}
	if c.Executor.HistoryLimit == 0 {
		c.Executor.HistoryLimit = 20
	}
	if c.Executor.ToolTimeout == 0 {
		c.Executor.ToolTimeout = 30 * time.Second
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = "echo"
	}
	if c.MCP.Path == "" {
		c.MCP.Path = "/mcp"
	}
	if c.MCP.SessionTTL == 0 {
		c.MCP.SessionTTL = time.Hour
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if strings.Contains(c.Auth.PublicScope, ":") {
		return fmt.Errorf("auth.public_scope must not contain ':'")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/'")
	}

	if !strings.HasPrefix(c.MCP.Path, "/") {
		return fmt.Errorf("mcp.path must start with '/'")
	}
	if c.MCP.Enabled && (c.MCP.Path == c.Metrics.Path || strings.HasPrefix(c.MCP.Path, "/api/") || strings.HasPrefix(c.MCP.Path, "/health")) {
		return fmt.Errorf("mcp.path %q collides with another route", c.MCP.Path)
	}

	if strings.Contains(c.Streams.Namespace, ":") {
		return fmt.Errorf("streams.namespace must not contain ':'")
	}
	if c.Streams.Retention < 0 || c.Streams.SweepInterval < 0 || c.Streams.HeartbeatInterval < 0 {
		return fmt.Errorf("streams durations must not be negative")
	}

	if c.Routing.ConfidenceThreshold < 0 || c.Routing.ConfidenceThreshold > 1 {
		return fmt.Errorf("routing.confidence_threshold must be between 0 and 1")
	}

	if c.Executor.MaxRounds < 0 {
		return fmt.Errorf("executor.max_rounds must not be negative")
	}

	switch c.Generation.Provider {
	case "echo":
	case "anthropic":
		if c.Generation.APIKey == "" {
			return fmt.Errorf("generation.api_key is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("generation.provider must be echo or anthropic, got %q", c.Generation.Provider)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"streams.retention", cfg.Streams.RetentionRaw, &cfg.Streams.Retention},
		{"streams.sweep_interval", cfg.Streams.SweepIntervalRaw, &cfg.Streams.SweepInterval},
		{"streams.heartbeat_interval", cfg.Streams.HeartbeatIntervalRaw, &cfg.Streams.HeartbeatInterval},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
		{"executor.tool_timeout", cfg.Executor.ToolTimeoutRaw, &cfg.Executor.ToolTimeout},
		{"mcp.session_ttl", cfg.MCP.SessionTTLRaw, &cfg.MCP.SessionTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
