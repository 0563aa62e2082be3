// ABOUTME: Entry point for coven-assistant
// ABOUTME: Dispatches subcommands: serve, chat, tools, token, health and version

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-assistant/internal/auth"
	"github.com/2389/coven-assistant/internal/builtins"
	"github.com/2389/coven-assistant/internal/config"
	"github.com/2389/coven-assistant/internal/schema"
)

// Set by goreleaser at build time.
var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

const banner = `
                                                _     _              _
  ___ _____   _____ _ __          __ _ ___ ___(_)___| |_ __ _ _ __ | |_
 / __/ _ \ \ / / _ \ '_ \ _____  / _' / __/ __| / __| __/ _' | '_ \| __|
| (_| (_) \ V /  __/ | | |_____|| (_| \__ \__ \ \__ \ || (_| | | | | |_
 \___\___/ \_/ \___|_| |_|       \__,_|___/___/_|___/\__\__,_|_| |_|\__|
`

// getConfigPath returns the path to the config file.
// Priority: COVEN_ASSISTANT_CONFIG env var > XDG_CONFIG_HOME/coven-assistant/config.toml > ~/.config/coven-assistant/config.toml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_ASSISTANT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-assistant", "config.toml")
}

func usage() {
	fmt.Println("Usage: coven-assistant <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve             Run every enabled platform (default)")
	fmt.Println("  chat              Chat in the terminal")
	fmt.Println("  tools             Print the registered tools and their schemas")
	fmt.Println("  token SUBJECT     Mint a bearer token for the HTTP API")
	fmt.Println("  health            Check a running HTTP API")
	fmt.Println("  version           Print build information")
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "chat":
		err = runChat(ctx)
	case "tools":
		err = runTools(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		runVersion()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	printStartup(cfg, configPath)
	logger.Info("starting coven-assistant",
		"config", configPath,
		"identity", cfg.Assistant.Identity,
		"storage", cfg.Storage.Backend)

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Serve(ctx)
}

func printStartup(cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("Identity", cfg.Assistant.Identity)
	line("Model", cfg.LLM.OpenAI.Model+" via "+cfg.LLM.OpenAI.API)
	line("Storage", cfg.Storage.Backend)
	if cfg.Platform.CLI.Enabled {
		line("CLI", "enabled")
	}
	if m := cfg.Platform.Matrix; m.Enabled {
		line("Matrix", m.Homeserver+" as "+m.Username)
		if m.Encryption || m.RecoveryKey != "" {
			green.Print("    ▶ ")
			fmt.Println("Encryption: enabled")
		}
	}
	if h := cfg.Platform.HTTP; h.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", "HTTP:")
		if cfg.Tailscale.Enabled {
			fmt.Print("tailnet ")
			color.New(color.FgCyan).Print(cfg.Tailscale.Hostname)
			if cfg.Tailscale.Ephemeral {
				gray.Print(" (ephemeral)")
			}
		} else {
			fmt.Print(h.Addr)
		}
		if h.JWTSecret == "" {
			yellow.Print(" [no auth]")
		}
		fmt.Println()
	}
	fmt.Println()
}

func runChat(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	// Keep the terminal for the conversation; only warnings reach stderr.
	logCfg := cfg.Logging
	if logCfg.Level == "" || logCfg.Level == "info" || logCfg.Level == "debug" {
		logCfg.Level = "warn"
	}
	logger := setupLogger(logCfg, os.Stderr)

	color.New(color.FgCyan).Print(banner)
	fmt.Println()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.newREPL().Run(ctx)
}

func runTools(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(config.LoggingConfig{Level: "warn"}, os.Stderr)

	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	type toolJSON struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	var out []toolJSON
	for _, d := range engine.Tools() {
		params, err := schema.Wire(d.Parameters)
		if err != nil {
			return err
		}
		out = append(out, toolJSON{Name: d.Name, Description: d.Description, Parameters: params})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runToken(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: coven-assistant token SUBJECT")
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Platform.HTTP.JWTSecret == "" {
		return errors.New("platform.http.jwt_secret is not set")
	}

	token, err := mintToken(cfg.Platform.HTTP, args[0])
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func mintToken(cfg config.HTTPConfig, subject string) (string, error) {
	return auth.NewJWTVerifier([]byte(cfg.JWTSecret)).Generate(subject, cfg.TokenTTL)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health", cfg.Platform.HTTP.Addr)
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

func runVersion() {
	info := builtins.ResolveBuildInfo(version, commit, buildTime)
	fmt.Printf("coven-assistant %s\n", info.Version)
	if info.Commit != "" {
		fmt.Printf("  commit: %s\n", info.Commit)
	}
	if info.BuildTime != "" {
		fmt.Printf("  built:  %s\n", info.BuildTime)
	}
}
