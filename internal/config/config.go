// Package config implements TOML configuration loading, validation, and
// live-reload watching for campsync. Configuration follows a three-layer
// override chain (defaults -> config file -> CLI flags); unknown keys in
// the file are fatal errors so typos never silently fall back to defaults.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	CampID   string         `toml:"camp_id"`
	DataDir  string         `toml:"data_dir"`
	Store    StoreConfig    `toml:"store"`
	Identity IdentityConfig `toml:"identity"`
	Sync     SyncConfig     `toml:"sync"`
	Logging  LoggingConfig  `toml:"logging"`
}

// StoreConfig controls access to the authoritative remote store.
type StoreConfig struct {
	BaseURL        string `toml:"base_url"`
	TokenFile      string `toml:"token_file"`
	ConnectTimeout string `toml:"connect_timeout"`
	RealtimeURL    string `toml:"realtime_url"` // empty = derive from base_url
}

// IdentityConfig names the local scheduler and optionally overrides the
// role and division assignment resolved from the access token.
type IdentityConfig struct {
	Scheduler string   `toml:"scheduler"`
	Role      string   `toml:"role"`      // admin | scheduler | viewer; empty = resolve from token
	Divisions []string `toml:"divisions"` // empty = resolve from token / settings registry
}

// SyncConfig controls engine timing: the settings debounce window, the
// verified-save dedup window and retry policy, and realtime reconnection.
type SyncConfig struct {
	Debounce       string `toml:"debounce"`
	DedupWindow    string `toml:"dedup_window"`
	SaveRetries    int    `toml:"save_retries"`
	SaveRetryDelay string `toml:"save_retry_delay"`
	PollInterval   string `toml:"poll_interval"`
	Websocket      bool   `toml:"websocket"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // auto | text | json
}

// CLIOverrides holds values from CLI flags that override config file
// settings. Pointer fields distinguish "not specified" (nil) from
// "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	CampID     string // --camp flag
	Scheduler  string // --as flag
	DataDir    *string
}

// Default values for configuration options. Chosen so the engine works
// without a config file given a camp ID and token.
const (
	defaultConnectTimeout = "10s"
	defaultDebounce       = "500ms"
	defaultDedupWindow    = "3s"
	defaultSaveRetries    = 3
	defaultSaveRetryDelay = "2s"
	defaultPollInterval   = "5m"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values. Used
// both as the starting point for TOML decoding (unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			ConnectTimeout: defaultConnectTimeout,
		},
		Sync: SyncConfig{
			Debounce:       defaultDebounce,
			DedupWindow:    defaultDedupWindow,
			SaveRetries:    defaultSaveRetries,
			SaveRetryDelay: defaultSaveRetryDelay,
			PollInterval:   defaultPollInterval,
			Websocket:      true,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
