// Package config loads and resolves noted-sync configuration from a TOML
// file, environment variables, and CLI flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the TOML-file shape. Zero values are filled from defaults;
// the client id is the only setting with no usable default — device-flow
// authentication refuses to start without it.
type Config struct {
	ClientID   string `toml:"client_id"`
	Tenant     string `toml:"tenant"`
	TokenPath  string `toml:"token_path"`
	NotesPath  string `toml:"notes_path"`
	LedgerPath string `toml:"ledger_path"`
	LogLevel   string `toml:"log_level"`
	ListenAddr string `toml:"listen_addr"`
}

// Defaults.
const (
	defaultTenant     = "common"
	defaultLogLevel   = "info"
	defaultListenAddr = "127.0.0.1:8765"
)

// DefaultConfig returns a Config populated with all default values.
// Paths live under the user config/data directories.
func DefaultConfig() *Config {
	return &Config{
		Tenant:     defaultTenant,
		TokenPath:  filepath.Join(configDir(), "token.json"),
		NotesPath:  filepath.Join(dataDir(), "notes.json"),
		LedgerPath: filepath.Join(dataDir(), "ledger.db"),
		LogLevel:   defaultLogLevel,
		ListenAddr: defaultListenAddr,
	}
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.toml")
}

func configDir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "noted-sync")
	}

	return ".noted-sync"
}

func dataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "noted-sync")
	}

	return ".noted-sync"
}

// Load reads and parses a TOML config file and validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values so first runs need no file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Validate checks field values that have a closed set of valid inputs.
func Validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.Tenant == "" {
		return errors.New("tenant must not be empty")
	}

	return nil
}
