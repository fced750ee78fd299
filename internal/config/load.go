package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal — silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. Supports running without a
// config file when everything needed arrives via flags.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies CLI overrides on top, returning
// a validated Config ready for use.
func Resolve(cli CLIOverrides) (*Config, error) {
	cfgPath := cli.ConfigPath
	if cfgPath == "" {
		cfgPath = DefaultConfigPath()
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if cli.CampID != "" {
		cfg.CampID = cli.CampID
	}

	if cli.Scheduler != "" {
		cfg.Identity.Scheduler = cli.Scheduler
	}

	if cli.DataDir != nil {
		cfg.DataDir = *cli.DataDir
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// DefaultConfigPath returns the default location of the config file,
// honoring XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	return filepath.Join(configHome(), "campsync", "config.toml")
}

// DefaultDataDir returns the default data directory (local cache database,
// token cache), honoring XDG_DATA_HOME.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "campsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "campsync-data"
	}

	return filepath.Join(home, ".local", "share", "campsync")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config")
}
