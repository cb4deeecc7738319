// ABOUTME: Entry point for mimrai-gateway chat streaming server
// ABOUTME: Serves the chat API and provides config, token, and health subcommands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/mimrai-org/mimrai-sub005/internal/auth"
	"github.com/mimrai-org/mimrai-sub005/internal/config"
	"github.com/mimrai-org/mimrai-sub005/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
           _                     _                                   
 _ __ ___ (_)_ __ ___  _ __ __ _(_)       __ _  __ _| |_ _____      ____ _ _   _
| '_ ' _ \| | '_ ' _ \| '__/ _' | |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | | | | | | | | | | | | (_| | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_| |_| |_|_|_| |_| |_|_|  \__,_|_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                         |___/                             |___/
`

// defaultTokenTTL is the lifetime of tokens minted by the token command.
const defaultTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the gateway config file.
// Priority: MIMRAI_CONFIG env var > XDG_CONFIG_HOME/mimrai/gateway.yaml > ~/.config/mimrai/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MIMRAI_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mimrai", "gateway.yaml")
}

// getDataPath returns the path to the mimrai data directory.
// Priority: XDG_DATA_HOME/mimrai > ~/.local/share/mimrai
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "mimrai")
}

func usage() {
	fmt.Println("Usage: mimrai-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                      Start the gateway server")
	fmt.Println("  init                       Create a new config file interactively")
	fmt.Println("  token --sub SCOPE [--ttl]  Mint a bearer token for a scope")
	fmt.Println("  health                     Check gateway health")
	fmt.Println("  ready                      Check gateway readiness")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Generation: ")
	cyan.Print(cfg.Generation.Provider)
	if cfg.Generation.Model != "" {
		gray.Printf(" (%s)", cfg.Generation.Model)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Auth:       ")
	if cfg.Auth.Enabled() {
		fmt.Println("bearer JWT")
	} else {
		yellow.Printf("disabled (scope %q)\n", cfg.Auth.PublicScope)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:    %s\n", cfg.Metrics.Path)
	}
	if cfg.MCP.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("MCP:        %s\n", cfg.MCP.Path)
	}

	fmt.Println()

	logger.Info("starting mimrai-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"namespace", cfg.Streams.Namespace,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runProbe(ctx context.Context, path string) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to the probe endpoint with context
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// tokenArgs are the flags of the token command.
type tokenArgs struct {
	subject string
	ttl     time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value" formats.
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: defaultTokenTTL}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--sub", "--ttl":
			if !hasValue {
				if i+1 >= len(args) {
					return out, fmt.Errorf("%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
		default:
			if strings.HasPrefix(arg, "-") {
				return out, fmt.Errorf("unknown flag: %s", arg)
			}
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}

		if name == "--sub" {
			out.subject = strings.TrimSpace(value)
			continue
		}
		ttl, err := time.ParseDuration(value)
		if err != nil || ttl <= 0 {
			return out, fmt.Errorf("--ttl must be a positive duration, got %q", value)
		}
		out.ttl = ttl
	}

	if out.subject == "" {
		return out, errors.New("--sub flag is required")
	}
	if strings.Contains(out.subject, ":") {
		return out, errors.New("--sub must not contain ':'")
	}
	return out, nil
}

// runToken mints a bearer token whose subject becomes the stream scope.
func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Auth.Enabled() {
		return fmt.Errorf("jwt_secret not configured in %s (auth is disabled)", configPath)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	token, err := verifier.Generate(parsed.subject, parsed.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(os.Stderr, "  scope %s, expires %s\n", parsed.subject,
		time.Now().Add(parsed.ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

// generateSecret returns a random base64 JWT secret.
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// initAnswers are the values collected by the init command.
type initAnswers struct {
	HTTPAddr   string
	DBPath     string
	JWTSecret  string
	Provider   string
	Model      string
	LogLevel   string
	LogFormat  string
	Metrics    bool
	MCP        bool
	Namespace  string
	MaxRounds  string
	Retention  string
	APIKeyFrom string
}

// renderConfig writes the YAML config for answers.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# mimrai-gateway configuration\n")
	cfg.WriteString("# Generated by mimrai-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString("  shutdown_timeout: \"10s\"\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", a.DBPath))

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", a.JWTSecret))
	cfg.WriteString("  public_scope: \"public\"\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n\n", a.LogFormat))

	cfg.WriteString("metrics:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.Metrics))
	cfg.WriteString("  path: \"/metrics\"\n\n")

	cfg.WriteString("streams:\n")
	cfg.WriteString(fmt.Sprintf("  namespace: %q\n", a.Namespace))
	cfg.WriteString(fmt.Sprintf("  retention: %q\n", a.Retention))
	cfg.WriteString("  sweep_interval: \"1m\"\n")
	cfg.WriteString("  heartbeat_interval: \"15s\"\n\n")

	cfg.WriteString("dedupe:\n")
	cfg.WriteString("  ttl: \"10m\"\n")
	cfg.WriteString("  max_entries: 10000\n\n")

	cfg.WriteString("routing:\n")
	cfg.WriteString("  confidence_threshold: 0.5\n")
	cfg.WriteString("  fallback_agent: \"tasks\"\n")
	cfg.WriteString("  history_turns: 3\n\n")

	cfg.WriteString("executor:\n")
	cfg.WriteString(fmt.Sprintf("  max_rounds: %s\n", a.MaxRounds))
	cfg.WriteString("  history_limit: 20\n")
	cfg.WriteString("  tool_timeout: \"30s\"\n\n")

	cfg.WriteString("mcp:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.MCP))
	cfg.WriteString("  path: \"/mcp\"\n")
	cfg.WriteString("  session_ttl: \"1h\"\n\n")

	cfg.WriteString("generation:\n")
	cfg.WriteString(fmt.Sprintf("  provider: %q\n", a.Provider))
	if a.Provider == "anthropic" {
		cfg.WriteString(fmt.Sprintf("  model: %q\n", a.Model))
		cfg.WriteString(fmt.Sprintf("  api_key: \"${%s}\"\n", a.APIKeyFrom))
		cfg.WriteString("  max_tokens: 4096\n")
	}
	return cfg.String()
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("mimrai-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDBPath := filepath.Join(getDataPath(), "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", defaultDBPath)

	fmt.Println("\n--- Auth Configuration ---")
	if yes(prompt(reader, "Require bearer tokens?", "yes")) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		a.JWTSecret = secret
	}

	fmt.Println("\n--- Generation Configuration ---")
	a.Provider = prompt(reader, "Provider (echo/anthropic)", "echo")
	if a.Provider == "anthropic" {
		a.Model = prompt(reader, "Model", "claude-sonnet-4-5")
		a.APIKeyFrom = prompt(reader, "Environment variable holding the API key", "ANTHROPIC_API_KEY")
	}
	a.MaxRounds = prompt(reader, "Max generation rounds per turn", "6")

	fmt.Println("\n--- Streams Configuration ---")
	a.Namespace = prompt(reader, "Stream key namespace", "mimrai")
	a.Retention = prompt(reader, "Retention of finished streams", "15m")

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")
	a.Metrics = yes(prompt(reader, "Expose Prometheus metrics?", "no"))
	a.MCP = yes(prompt(reader, "Expose workspace tools over MCP?", "no"))

	content := renderConfig(a)

	// The API key reference is only resolved at serve time
	check := content
	if a.APIKeyFrom != "" {
		check = strings.ReplaceAll(check, "${"+a.APIKeyFrom+"}", "unresolved")
	}
	if _, err := config.Parse([]byte(check), config.FormatYAML); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Config holds the JWT secret
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  mimrai-gateway serve\n")
	if a.JWTSecret != "" {
		fmt.Println("\nTo mint a token:")
		fmt.Printf("  mimrai-gateway token --sub <user-id>\n")
	}

	return nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
