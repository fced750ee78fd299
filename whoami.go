package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campwire/campsync/internal/identity"
	"github.com/campwire/campsync/internal/tokenfile"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the resolved editor identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			// Same chain the engine uses: config override first, then
			// token claims, then read-only viewer.
			chain := identity.NewChain(logger.With(slog.String("component", "identity")),
				&identity.ConfigProvider{
					Scheduler: resolvedCfg.Identity.Scheduler,
					Role:      resolvedCfg.Identity.Role,
					Divisions: resolvedCfg.Identity.Divisions,
				},
				&identity.TokenClaimsProvider{Token: tokenfile.NewSource(resolvedCfg.Store.TokenFile)},
			)

			id := chain.Resolve(cmd.Context())

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(map[string]any{
					"scheduler": id.Scheduler,
					"role":      string(id.Role),
					"divisions": id.Divisions,
				})
			}

			fmt.Printf("Scheduler: %s\n", id.Scheduler)
			fmt.Printf("Role:      %s\n", id.Role)

			if len(id.Divisions) > 0 {
				fmt.Printf("Divisions: %s\n", strings.Join(id.Divisions, ", "))
			}

			return nil
		},
	}
}
