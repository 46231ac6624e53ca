// ABOUTME: Entry point for the veil-gateway server
// ABOUTME: Serves the auth and session API and runs the cleanup sweeps

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/veilchat/veil-gateway/internal/challenge"
	"github.com/veilchat/veil-gateway/internal/cleanup"
	"github.com/veilchat/veil-gateway/internal/config"
	"github.com/veilchat/veil-gateway/internal/gateway"
	"github.com/veilchat/veil-gateway/internal/store"
	"github.com/veilchat/veil-gateway/internal/synapse"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _ _                 _
 __   _____(_) |       __ _ __ _| |_ _____      ____ _ _   _
 \ \ / / _ \ | |_____ / _' / _' | __/ _ \ \ /\ / / _' | | | |
  \ V /  __/ | |_____| (_| (_| | ||  __/\ V  V / (_| | |_| |
   \_/ \___|_|_|      \__, \__,_|\__\___| \_/\_/ \__,_|\__, |
                      |___/                            |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: VEIL_CONFIG env var > XDG_CONFIG_HOME/veil/gateway.yaml > ~/.config/veil/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VEIL_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "veil", "gateway.yaml")
}

// getDataPath returns the path to the veil data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "veil")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: veil-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  cleanup  Run all reconciliation sweeps once")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "cleanup":
		err = runCleanup(ctx)
	case "health":
		err = runHealth(ctx)
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
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Synapse:   %s", cfg.Synapse.BaseURL)
	gray.Printf(" (%s)\n", cfg.Synapse.ServerName)

	fmt.Println()

	logger.Info("starting veil-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"synapse", cfg.Synapse.BaseURL,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runCleanup runs every reconciliation sweep once and prints the tallies.
// Useful for cron-driven deployments and for repairing drift by hand.
func runCleanup(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	dbPath := cfg.Database.Path
	if envPath := os.Getenv("VEIL_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	prov, err := synapse.NewClient(cfg.Synapse.BaseURL, cfg.Synapse.ServerName, cfg.Synapse.AdminToken, logger)
	if err != nil {
		return fmt.Errorf("creating synapse client: %w", err)
	}

	challenges := challenge.New(cfg.Auth.ChallengeTTL)
	defer challenges.Close()

	engine := cleanup.NewEngine(st, prov, challenges, cleanup.Intervals{
		ExpiredKeys:      cfg.Cleanup.ExpiredKeysInterval,
		InactiveSessions: cfg.Cleanup.InactiveSessionsInterval,
		Orphans:          cfg.Cleanup.OrphansInterval,
		SessionIdle:      cfg.Sessions.IdleTimeout,
	}, logger)

	counts := engine.RunFullCleanup(ctx)

	green := color.New(color.FgGreen)
	green.Print("  ✓ ")
	fmt.Printf("expired keys deleted:    %d\n", counts.ExpiredKeys)
	green.Print("  ✓ ")
	fmt.Printf("sessions deactivated:    %d\n", counts.DeactivatedSessions)
	green.Print("  ✓ ")
	fmt.Printf("identities reclaimed:    %d\n", counts.ReclaimedIdentities)
	green.Print("  ✓ ")
	fmt.Printf("challenges swept:        %d\n", counts.SweptChallenges)

	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("veil-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Synapse
	fmt.Println("\n--- Synapse Configuration ---")
	synapseURL := prompt(reader, "Synapse base URL", "http://localhost:8008")
	serverName := prompt(reader, "Matrix server name", "veil.local")
	adminToken := prompt(reader, "Synapse admin token (or ${VEIL_SYNAPSE_TOKEN})", "${VEIL_SYNAPSE_TOKEN}")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate a random JWT secret for credential signing
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# veil-gateway configuration\n")
	cfg.WriteString("# Generated by veil-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("  challenge_ttl: \"5m\"\n")
	cfg.WriteString("  credential_ttl: \"24h\"\n")
	cfg.WriteString("  key_lifetime: \"168h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("synapse:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", synapseURL))
	cfg.WriteString(fmt.Sprintf("  server_name: \"%s\"\n", serverName))
	cfg.WriteString(fmt.Sprintf("  admin_token: \"%s\"\n", adminToken))
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  idle_timeout: \"1h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("cleanup:\n")
	cfg.WriteString("  expired_keys_interval: \"1h\"\n")
	cfg.WriteString("  inactive_sessions_interval: \"30m\"\n")
	cfg.WriteString("  orphans_interval: \"24h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file (contains the JWT secret, keep it private)
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  veil-keygen generate   # register a client key")
	fmt.Println("  veil-gateway serve     # start the server")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
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
