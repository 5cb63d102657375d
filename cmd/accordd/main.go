// ABOUTME: Entry point for the accordd fleet coordination daemon
// ABOUTME: Runs the supervisor loop and exposes init/status tooling

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/accordlabs/accord/internal/config"
	"github.com/accordlabs/accord/internal/conflict"
	"github.com/accordlabs/accord/internal/store"
	"github.com/accordlabs/accord/internal/supervisor"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   __ _  ___ ___ ___  _ __ __| |
  / _' |/ __/ __/ _ \| '__/ _' |
 | (_| | (_| (_| (_) | | | (_| |
  \__,_|\___\___\___/|_|  \__,_|
`

// getConfigPath returns the path to the accordd config file.
// Priority: ACCORD_CONFIG env var > XDG_CONFIG_HOME/accord/accordd.yaml > ~/.config/accord/accordd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ACCORD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "accordd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "accord", "accordd.yaml")
}

// getDataPath returns the path to the accord data directory.
// Priority: XDG_DATA_HOME/accord > ~/.local/share/accord
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "accord")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: accordd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the coordination supervisor")
		fmt.Println("  init      Create a default config file")
		fmt.Println("  status    Show recent resolution activity from the audit ledger")
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
	case "status":
		err = runStatus(ctx)
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

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Strategy: %s\n", cfg.Coordinator.Strategy)
	if cfg.Database.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Ledger:   %s\n", cfg.Database.Path)
	}
	fmt.Println()

	logger.Info("starting accordd",
		"config", configPath,
		"strategy", cfg.Coordinator.Strategy,
	)

	var ledger *store.SQLiteStore
	if cfg.Database.Enabled {
		ledger, err = store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening audit ledger: %w", err)
		}
		defer ledger.Close()
	}

	strategy, err := conflict.ParseStrategy(cfg.Coordinator.Strategy)
	if err != nil {
		return err
	}

	sup := supervisor.New(supervisor.Params{
		Strategy:         strategy,
		HandlerName:      cfg.Coordinator.CustomHandler,
		HeartbeatTimeout: cfg.Fleet.HeartbeatTimeout,
		SweepInterval:    cfg.Fleet.SweepInterval,
		Store:            ledger,
		Logger:           logger,
	})

	if err := sup.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "accord.db")

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# accordd configuration
# Generated by accordd init

coordinator:
  strategy: "auto_merge"

fleet:
  heartbeat_interval: "30s"
  heartbeat_timeout: "90s"
  sweep_interval: "15s"

database:
  enabled: true
  path: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath)

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("\nTo start the supervisor:")
	fmt.Println("  accordd serve")
	return nil
}

func runStatus(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("audit ledger disabled; nothing to show")
	}

	ledger, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening audit ledger: %w", err)
	}
	defer ledger.Close()

	records, err := ledger.ListConflictRecords(ctx, 20)
	if err != nil {
		return fmt.Errorf("listing conflict records: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("no resolution activity recorded")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	fmt.Println("recent resolution attempts (newest first):")
	for _, rec := range records {
		outcome := green.Sprint("ok  ")
		if !rec.Success {
			outcome = red.Sprint("fail")
		}
		fmt.Printf("  %s  %s  %-16s %-14s %4dms  %s\n",
			rec.CreatedAt.Format(time.RFC3339),
			outcome,
			rec.Strategy,
			rec.ConflictType,
			rec.DurationMS,
			rec.ConflictID,
		)
	}
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
