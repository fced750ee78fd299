package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campwire/campsync/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests that
// poke globals directly must restore them in t.Cleanup.

func withFlags(t *testing.T, verbose, quiet bool) {
	t.Helper()

	oldVerbose, oldQuiet, oldCfg := flagVerbose, flagQuiet, resolvedCfg

	t.Cleanup(func() {
		flagVerbose, flagQuiet, resolvedCfg = oldVerbose, oldQuiet, oldCfg
	})

	flagVerbose = verbose
	flagQuiet = quiet
	resolvedCfg = config.DefaultConfig()
}

func TestBuildLogger_DefaultLevel(t *testing.T) {
	withFlags(t, false, false)

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_VerboseWinsOverConfig(t *testing.T) {
	withFlags(t, true, false)
	resolvedCfg.Logging.Level = "error"

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Quiet(t *testing.T) {
	withFlags(t, false, true)

	logger := buildLogger()

	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestRealtimeURL_DerivedFromBaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     string
		explicit string
		want     string
	}{
		{"https base", "https://store.example.com/rest", "", "wss://store.example.com/rest/realtime"},
		{"http base", "http://localhost:3000", "", "ws://localhost:3000/realtime"},
		{"trailing slash", "https://store.example.com/", "", "wss://store.example.com/realtime"},
		{"explicit wins", "https://store.example.com", "wss://rt.example.com/sub", "wss://rt.example.com/sub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := &app{cfg: config.DefaultConfig()}
			a.cfg.Store.BaseURL = tt.base
			a.cfg.Store.RealtimeURL = tt.explicit

			assert.Equal(t, tt.want, a.realtimeURL())
		})
	}
}

func TestNewApp_RequiresCampID(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	_, err := newApp(cfg, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camp ID")
}

func TestNewApp_WiresEngine(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.CampID = "camp-1"
	cfg.DataDir = t.TempDir()
	cfg.Store.BaseURL = "https://store.example.com"

	a, err := newApp(cfg, slog.Default())
	require.NoError(t, err)

	defer a.Close()

	assert.NotNil(t, a.engine)
	assert.NotNil(t, a.engine.Bus())
	assert.Equal(t, "idle", string(a.engine.Status(context.Background()).State))
}

func TestEraseCmd_RejectsBadDate(t *testing.T) {
	t.Parallel()

	assert.True(t, dateKeyPattern.MatchString("2026-07-04"))
	assert.False(t, dateKeyPattern.MatchString("07/04/2026"))
	assert.False(t, dateKeyPattern.MatchString("2026-7-4"))
	assert.False(t, dateKeyPattern.MatchString("2026-07-04T00:00"))
}
