package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/campwire/campsync/internal/config"
	"github.com/campwire/campsync/internal/realtime"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: "Hydrates the local cache from the store, then keeps it in sync: " +
			"debounced settings pushes, realtime merge of other editors' schedule " +
			"writes, and periodic outbox replay. SIGHUP forces an immediate full sync.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(parent context.Context) error {
	logger := buildLogger()

	a, err := newApp(resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// One daemon per data directory: two processes sharing the cache
	// would fight over the SQLite writer.
	cleanup, err := writePIDFile(a.pidPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(parent, logger)

	logger.Info("campsync daemon starting",
		slog.String("camp_id", a.cfg.CampID),
		slog.String("version", version),
	)

	// Startup hydration. A failure here is not fatal: the cache serves
	// reads and the engine keeps retrying pushes once connectivity holds.
	if err := a.engine.Hydrate(ctx); err != nil {
		logger.Warn("starting with local state only", slog.String("error", err.Error()))
	}

	if err := a.engine.ReplayOutbox(ctx); err != nil {
		logger.Warn("startup outbox replay failed", slog.String("error", err.Error()))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.engine.Run(ctx)

		return nil
	})

	if a.cfg.Sync.Websocket {
		listener := realtime.New(a.realtimeURL(), a.cfg.CampID, a.token,
			func(ctx context.Context, n realtime.Notification) error {
				return a.engine.OnRemoteChange(ctx, n.DateKey)
			},
			logger.With(slog.String("component", "realtime")),
		)

		g.Go(func() error {
			err := listener.Listen(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	g.Go(func() error {
		return replayLoop(ctx, a, config.Duration(a.cfg.Sync.PollInterval, 5*time.Minute))
	})

	g.Go(func() error {
		return forceSyncOnSIGHUP(ctx, a)
	})

	g.Go(func() error {
		return watchConfig(ctx, a, logger)
	})

	err = g.Wait()

	logger.Info("campsync daemon stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// replayLoop periodically drains the outbox. This is the recovery path
// for saves that failed transiently while the daemon stayed up, and the
// poll fallback when the websocket is disabled.
func replayLoop(ctx context.Context, a *app, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.engine.ReplayOutbox(ctx); err != nil {
				a.logger.Warn("outbox replay failed, will retry next tick",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// forceSyncOnSIGHUP runs a full push cycle whenever the daemon receives
// SIGHUP, so `campsync sync --notify` and operators can force a flush.
func forceSyncOnSIGHUP(ctx context.Context, a *app) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			a.logger.Info("SIGHUP received, forcing full sync")

			if err := a.engine.ForceSync(ctx); err != nil {
				a.logger.Warn("forced sync failed", slog.String("error", err.Error()))
			}

			if err := a.engine.ReplayOutbox(ctx); err != nil {
				a.logger.Warn("forced replay failed", slog.String("error", err.Error()))
			}
		}
	}
}

// watchConfig follows config file edits while the daemon runs. Timing
// and identity changes need a restart; the watcher's job is to say so
// instead of letting a stale daemon surprise the operator.
func watchConfig(ctx context.Context, a *app, logger *slog.Logger) error {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	updates, err := config.Watch(ctx, path, logger.With(slog.String("component", "config")))
	if err != nil {
		// No config file to watch is the flag-driven case, not a failure.
		logger.Debug("config watch unavailable", slog.String("error", err.Error()))

		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-updates:
			if !ok {
				return nil
			}

			if cfg.CampID != a.cfg.CampID {
				logger.Warn("camp_id changed in config, restart required",
					slog.String("current", a.cfg.CampID),
					slog.String("new", cfg.CampID),
				)

				continue
			}

			logger.Info("config file changed, restart to apply engine settings")
		}
	}
}
