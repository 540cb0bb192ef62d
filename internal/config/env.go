package config

import "os"

// Environment variable names for overrides. NOTED_CLIENT_ID matches the
// variable the desktop and web clients already use, so one registration
// works across all surfaces.
const (
	EnvClientID  = "NOTED_CLIENT_ID"
	EnvConfig    = "NOTED_SYNC_CONFIG"
	EnvTokenPath = "NOTED_SYNC_TOKEN_PATH"
	EnvNotesPath = "NOTED_SYNC_NOTES_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ClientID   string
	ConfigPath string
	TokenPath  string
	NotesPath  string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ClientID:   os.Getenv(EnvClientID),
		ConfigPath: os.Getenv(EnvConfig),
		TokenPath:  os.Getenv(EnvTokenPath),
		NotesPath:  os.Getenv(EnvNotesPath),
	}
}

// CLIOverrides holds values supplied as command-line flags.
// Flags are the highest-precedence layer.
type CLIOverrides struct {
	ConfigPath string
	ClientID   string
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.ClientID != "" {
		cfg.ClientID = env.ClientID
	}

	if env.TokenPath != "" {
		cfg.TokenPath = env.TokenPath
	}

	if env.NotesPath != "" {
		cfg.NotesPath = env.NotesPath
	}

	if cli.ClientID != "" {
		cfg.ClientID = cli.ClientID
	}

	return cfg, nil
}
