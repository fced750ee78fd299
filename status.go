package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// statusOutput is the JSON shape of `campsync status --json`.
type statusOutput struct {
	State       string `json:"state"`
	Online      bool   `json:"online"`
	PendingKeys int    `json:"pending_keys"`
	OutboxDepth int    `json:"outbox_depth"`
	LastSync    string `json:"last_sync,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	DaemonPID   int    `json:"daemon_pid,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state, queued work, and daemon liveness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			a, err := newApp(resolvedCfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.engine.Status(cmd.Context())

			out := statusOutput{
				State:       string(st.State),
				Online:      st.Online,
				PendingKeys: st.PendingKeys,
				OutboxDepth: st.OutboxDepth,
				LastError:   st.LastError,
			}

			if !st.LastSync.IsZero() {
				out.LastSync = st.LastSync.Format(time.RFC3339)
			}

			// Best-effort daemon liveness from the PID file.
			if pid, err := readPIDFile(a.pidPath()); err == nil {
				out.DaemonPID = pid
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(out)
			}

			printStatusText(out)

			return nil
		},
	}
}

func printStatusText(out statusOutput) {
	fmt.Printf("State:        %s\n", out.State)
	fmt.Printf("Online:       %v\n", out.Online)
	fmt.Printf("Pending keys: %d\n", out.PendingKeys)
	fmt.Printf("Outbox depth: %d\n", out.OutboxDepth)

	if out.LastSync != "" {
		fmt.Printf("Last sync:    %s\n", out.LastSync)
	}

	if out.LastError != "" {
		fmt.Printf("Last error:   %s\n", out.LastError)
	}

	if out.DaemonPID != 0 {
		fmt.Printf("Daemon:       running (PID %d)\n", out.DaemonPID)
	} else {
		fmt.Printf("Daemon:       not running\n")
	}
}
