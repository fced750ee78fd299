package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var notify bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Force an immediate full sync",
		Long: "Folds the entire cached settings document into one push and drains " +
			"the schedule outbox. With --notify, signals a running daemon to do the " +
			"same instead of syncing in this process.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			a, err := newApp(resolvedCfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if notify {
				if err := sendSIGHUP(a.pidPath()); err != nil {
					return err
				}

				statusf("Sync requested from running daemon\n")

				return nil
			}

			ctx := cmd.Context()

			if err := a.engine.ForceSync(ctx); err != nil {
				return fmt.Errorf("syncing settings: %w", err)
			}

			if err := a.engine.ReplayOutbox(ctx); err != nil {
				return fmt.Errorf("replaying outbox: %w", err)
			}

			statusf("Sync complete\n")

			return nil
		},
	}

	cmd.Flags().BoolVar(&notify, "notify", false, "signal a running daemon instead of syncing here")

	return cmd
}
