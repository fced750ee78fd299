package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadSettle is how long the watcher waits after the last filesystem
// event before re-reading the file. Editors typically produce a burst of
// writes (truncate, write, chmod, rename) for a single save.
const reloadSettle = 250 * time.Millisecond

// Watch monitors the config file for changes and sends each successfully
// reloaded Config on the returned channel. A reload that fails validation
// is logged and dropped — the daemon keeps running on its current config.
// The channel is closed when the context is canceled. Watching the parent
// directory (not the file itself) survives rename-based atomic saves.
func Watch(ctx context.Context, path string, logger *slog.Logger) (<-chan *Config, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan *Config, 1)

	go watchLoop(ctx, watcher, path, out, logger)

	return out, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, out chan<- *Config, logger *slog.Logger) {
	defer watcher.Close()
	defer close(out)

	settle := time.NewTimer(reloadSettle)
	settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			settle.Reset(reloadSettle)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-settle.C:
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed, keeping current config",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)

				continue
			}

			logger.Info("config reloaded", slog.String("path", path))

			select {
			case out <- cfg:
			case <-ctx.Done():
				return
			}
		}
	}
}
