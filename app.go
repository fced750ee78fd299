package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/campwire/campsync/internal/cache"
	"github.com/campwire/campsync/internal/config"
	"github.com/campwire/campsync/internal/engine"
	"github.com/campwire/campsync/internal/identity"
	"github.com/campwire/campsync/internal/remote"
	"github.com/campwire/campsync/internal/tokenfile"
)

// app bundles the wired components every subcommand needs: the local
// cache, the store client, the identity chain, and the engine on top.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *cache.Store
	client *remote.Client
	token  *tokenfile.Source
	engine *engine.Engine
}

// newApp wires an app from the resolved configuration. The caller owns
// Close.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg.CampID == "" {
		return nil, fmt.Errorf("no camp ID configured (set camp_id or pass --camp)")
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	store, err := cache.Open(filepath.Join(dataDir, "cache.db"), logger.With(slog.String("component", "cache")))
	if err != nil {
		return nil, fmt.Errorf("opening local cache: %w", err)
	}

	token := tokenfile.NewSource(cfg.Store.TokenFile)
	client := remote.NewClient(cfg.Store.BaseURL, defaultHTTPClient(), token,
		logger.With(slog.String("component", "remote")))

	// Explicit config wins over token claims; an unauthenticated session
	// falls through to read-only viewer.
	chain := identity.NewChain(logger.With(slog.String("component", "identity")),
		&identity.ConfigProvider{
			Scheduler: cfg.Identity.Scheduler,
			Role:      cfg.Identity.Role,
			Divisions: cfg.Identity.Divisions,
		},
		&identity.TokenClaimsProvider{Token: token},
	)

	eng := engine.New(cfg.CampID, store, client, client, chain.Resolve,
		engine.NewBus(logger.With(slog.String("component", "bus"))),
		logger.With(slog.String("component", "engine")),
		engine.Options{
			Debounce:       config.Duration(cfg.Sync.Debounce, 500*time.Millisecond),
			DedupWindow:    config.Duration(cfg.Sync.DedupWindow, 3*time.Second),
			SaveRetries:    cfg.Sync.SaveRetries,
			SaveRetryDelay: config.Duration(cfg.Sync.SaveRetryDelay, 2*time.Second),
		})

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		client: client,
		token:  token,
		engine: eng,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing cache", slog.String("error", err.Error()))
	}
}

// dataDir returns the effective data directory.
func (a *app) dataDir() string {
	if a.cfg.DataDir != "" {
		return a.cfg.DataDir
	}

	return config.DefaultDataDir()
}

// pidPath is where the run daemon records its PID.
func (a *app) pidPath() string {
	return filepath.Join(a.dataDir(), "campsync.pid")
}

// realtimeURL derives the notification endpoint when the config does
// not name one explicitly.
func (a *app) realtimeURL() string {
	if a.cfg.Store.RealtimeURL != "" {
		return a.cfg.Store.RealtimeURL
	}

	url := a.cfg.Store.BaseURL
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)

	return strings.TrimSuffix(url, "/") + "/realtime"
}
