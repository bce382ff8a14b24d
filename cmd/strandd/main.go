// ABOUTME: Entry point for the strandd session daemon
// ABOUTME: Hosts thread runners over a persistent store and manages their lifecycle

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

	"github.com/fatih/color"

	"github.com/strandhq/strand/internal/config"
	"github.com/strandhq/strand/internal/repo"
	"github.com/strandhq/strand/internal/runner"
	"github.com/strandhq/strand/internal/session"
	"github.com/strandhq/strand/internal/thread"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _                        _     _
 ___| |_ _ __ __ _ _ __   __| | __| |
/ __| __| '__/ _' | '_ \ / _' |/ _' |
\__ \ |_| | | (_| | | | | (_| | (_| |
|___/\__|_|  \__,_|_| |_|\__,_|\__,_|
`

// getConfigPath returns the path to the strandd config file.
// Priority: STRAND_CONFIG env var > XDG_CONFIG_HOME/strand/strandd.yaml > ~/.config/strand/strandd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("STRAND_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "strandd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "strand", "strandd.yaml")
}

// getDataPath returns the path to the strand data directory.
// Priority: XDG_DATA_HOME/strand > ~/.local/share/strand
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "strand")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: strandd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the session daemon")
		fmt.Println("  init      Create a starter config file")
		fmt.Println("  version   Print build version")
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
	case "version":
		fmt.Println(version)
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
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting strandd",
		"config", configPath,
		"db_path", cfg.Database.Path,
	)

	store, err := repo.NewSQLiteRepository(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	registry := session.NewRegistry(store, echoPipelineFactory(), session.Config{
		DisconnectGrace:       cfg.Sessions.DisconnectGrace,
		InactivityInteractive: cfg.Sessions.InactivityInteractive,
		InactivityOneshot:     cfg.Sessions.InactivityOneshot,
		HeartbeatInterval:     cfg.Sessions.HeartbeatInterval,
		InviteWait:            cfg.Runner.InviteWait,
	}, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	registry.Shutdown()
	return nil
}

// echoPipelineFactory is a placeholder pipeline until a real agent backend is
// attached. TODO: replace with the agent dispatch pipeline once the transport
// surface lands.
func echoPipelineFactory() session.PipelineFactory {
	return func(string) runner.Pipeline { return echoPipeline{} }
}

type echoPipeline struct{}

func (echoPipeline) RunTurn(_ context.Context, t *thread.Thread, turn string) (bool, error) {
	t.AddAgentMessage("echo", turn)
	return true, nil
}

func (echoPipeline) Release() {}

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	dbPath := filepath.Join(getDataPath(), "strand.db")
	starter := fmt.Sprintf(`database:
  path: "%s"

sessions:
  disconnect_grace: "5m"
  inactivity_interactive: "8h"
  inactivity_oneshot: "30m"
  heartbeat_interval: "30s"

runner:
  invite_wait: "1s"

logging:
  level: "info"
  format: "text"
`, dbPath)

	if err := os.WriteFile(configPath, []byte(starter), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Created %s\n", configPath)
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
