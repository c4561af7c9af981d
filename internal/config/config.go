package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for solara-sync.
type Config struct {
	// Deployed spreadsheet endpoint (the /exec URL). Receives photo
	// submissions as POST and serves classification data as GET.
	ScriptURL string `env:"SOLARA_SCRIPT_URL"`

	// Path to the bbolt database holding the photo queue. Defaults to
	// ~/.solara-sync/state.db.
	StatePath string `env:"SOLARA_STATE_PATH"`

	// Per-request timeout for a single delivery attempt. Expiry counts
	// as a failed delivery and the photo stays queued.
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"60s"`

	// Reachability probing. PROBE_URL defaults to the script URL.
	ProbeURL      string        `env:"PROBE_URL"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"15s"`
	ProbeTimeout  time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`

	// Watch folder. Empty disables the inbox watcher.
	InboxDir string `env:"INBOX_DIR"`

	// Image downscaling before encoding. 0 disables it.
	ImageMaxDimension int `env:"IMAGE_MAX_DIMENSION" envDefault:"1920"`
	ImageQuality      int `env:"IMAGE_QUALITY" envDefault:"85"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// MCP server settings
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:"127.0.0.1:8090"`
	MCPAPIKeys    string `env:"MCP_API_KEYS"`
}

const (
	// minProbeInterval keeps the poll loop from hammering the endpoint.
	minProbeInterval = time.Second

	// maxImageQuality is the JPEG encoder's upper bound.
	maxImageQuality = 100
)

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the API key hashes to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.ScriptURL
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		p, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = p
	}

	absState, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	cfg.StatePath = absState

	if cfg.InboxDir != "" {
		absInbox, err := filepath.Abs(cfg.InboxDir)
		if err != nil {
			return nil, fmt.Errorf("resolving inbox dir to absolute path: %w", err)
		}

		cfg.InboxDir = absInbox
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ScriptURL == "" {
		return fmt.Errorf("SOLARA_SCRIPT_URL is required")
	}

	if err := validateHTTPURL("SOLARA_SCRIPT_URL", c.ScriptURL); err != nil {
		return err
	}

	if err := validateHTTPURL("PROBE_URL", c.ProbeURL); err != nil {
		return err
	}

	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT must be positive")
	}

	if c.ProbeInterval < minProbeInterval {
		return fmt.Errorf("PROBE_INTERVAL must be at least %s", minProbeInterval)
	}

	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive")
	}

	if c.ImageMaxDimension < 0 {
		return fmt.Errorf("IMAGE_MAX_DIMENSION must not be negative")
	}

	if c.ImageQuality < 1 || c.ImageQuality > maxImageQuality {
		return fmt.Errorf("IMAGE_QUALITY must be between 1 and %d", maxImageQuality)
	}

	if c.EnableMCP && c.MCPAPIKeys == "" {
		return fmt.Errorf("MCP_API_KEYS is required when MCP is enabled")
	}

	return nil
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL", name)
	}

	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", name)
	}

	return nil
}

// DefaultStatePath returns ~/.solara-sync/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".solara-sync", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// APIKeyEntry holds a key name and the bcrypt hash of the key, parsed
// from MCP_API_KEYS. Raw keys never appear in configuration.
type APIKeyEntry struct {
	Name string
	Hash string
}

// ParseMCPAPIKeys parses the MCP_API_KEYS string.
// Format: "name1:$2a$10$...,name2:$2a$10$..."
func (c *Config) ParseMCPAPIKeys() ([]APIKeyEntry, error) {
	if c.MCPAPIKeys == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var entries []APIKeyEntry

	for _, pair := range strings.Split(c.MCPAPIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		// bcrypt hashes use '$' separators, so the first colon is
		// always the name delimiter.
		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		name := pair[:idx]

		hash := pair[idx+1:]
		if name == "" || hash == "" {
			return nil, fmt.Errorf("empty name or hash in entry %d", len(entries)+1)
		}

		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("API key hash in entry %d is not a bcrypt hash (run `solara-sync hash-key`)", len(entries)+1)
		}

		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate name %q in MCP_API_KEYS", name)
		}

		seen[name] = struct{}{}
		entries = append(entries, APIKeyEntry{Name: name, Hash: hash})
	}

	return entries, nil
}
