package config

import (
	"fmt"
	"net/url"
	"time"
)

// Valid role override values. Empty means "resolve from the access token".
var validRoles = map[string]bool{
	"":          true,
	"admin":     true,
	"scheduler": true,
	"viewer":    true,
}

// Validate checks a Config for structural errors: malformed durations,
// unknown role names, and an unparseable store URL. CampID and Scheduler
// are checked at wiring time instead, because status-style commands can
// run without them.
func Validate(cfg *Config) error {
	if !validRoles[cfg.Identity.Role] {
		return fmt.Errorf("config: unknown role %q (want admin, scheduler or viewer)", cfg.Identity.Role)
	}

	if cfg.Store.BaseURL != "" {
		if _, err := url.Parse(cfg.Store.BaseURL); err != nil {
			return fmt.Errorf("config: store.base_url: %w", err)
		}
	}

	durations := []struct {
		name  string
		value string
	}{
		{"store.connect_timeout", cfg.Store.ConnectTimeout},
		{"sync.debounce", cfg.Sync.Debounce},
		{"sync.dedup_window", cfg.Sync.DedupWindow},
		{"sync.save_retry_delay", cfg.Sync.SaveRetryDelay},
		{"sync.poll_interval", cfg.Sync.PollInterval},
	}

	for _, d := range durations {
		if d.value == "" {
			continue
		}

		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
	}

	if cfg.Sync.SaveRetries < 0 {
		return fmt.Errorf("config: sync.save_retries must be >= 0, got %d", cfg.Sync.SaveRetries)
	}

	return nil
}

// Duration parses a duration config value, falling back to def when the
// value is empty or malformed. Validate has already rejected malformed
// values from files; the fallback covers programmatically-built configs.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}

	return d
}
