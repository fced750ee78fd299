package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte("camp_id = \"pinewood\"\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	out, err := Watch(ctx, path, logger)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	if err := os.WriteFile(path, []byte("camp_id = \"cedarhill\"\n"), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-out:
		if cfg.CampID != "cedarhill" {
			t.Errorf("reloaded CampID = %q, want %q", cfg.CampID, "cedarhill")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
}

func TestWatch_InvalidReloadDropped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte("camp_id = \"pinewood\"\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	out, err := Watch(ctx, path, logger)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	// Broken TOML must not produce a config on the channel.
	if err := os.WriteFile(path, []byte("camp_id = \n"), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-out:
		t.Fatalf("received config %+v for invalid file, want none", cfg)
	case <-time.After(1 * time.Second):
		// Expected: reload dropped.
	}
}

func TestWatch_ClosesOnCancel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte("camp_id = \"pinewood\"\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	out, err := Watch(ctx, path, logger)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("received config after cancel, want closed channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed within 5s of cancel")
	}
}
