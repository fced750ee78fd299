package main

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"
)

var dateKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func newEraseCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "erase <date>",
		Short: "Erase schedule data for a date",
		Long: "Erases your own schedule slice for the date, locally and in the " +
			"store. With --all (admin only), erases every scheduler's data for the date.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dateKey := args[0]
			if !dateKeyPattern.MatchString(dateKey) {
				return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", dateKey)
			}

			logger := buildLogger()

			a, err := newApp(resolvedCfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()

			if all {
				if err := a.engine.EraseDay(ctx, dateKey); err != nil {
					return err
				}

				statusf("Erased all schedules for %s\n", dateKey)

				return nil
			}

			if err := a.engine.EraseMine(ctx, dateKey); err != nil {
				return err
			}

			statusf("Erased your schedule for %s\n", dateKey)

			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "erase every scheduler's data (admin only)")

	return cmd
}
