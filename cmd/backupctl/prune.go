package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/ipc"
)

var pruneCmd = &cobra.Command{
	Use:   "prune [set]",
	Short: "Apply a backup set's retention policy, removing old snapshots",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		resp, err := callOrFail(cmd, ipc.NewPruneRequest(name))
		if err != nil {
			return err
		}

		if name != "" {
			fmt.Printf("Pruned %q (reclaimed %d bytes)\n", resp.Payload.SetName, resp.Payload.ReclaimedBytes)
			return nil
		}

		for _, s := range resp.Payload.Succeeded {
			fmt.Printf("Pruned %q (reclaimed %d bytes)\n", s.SetName, s.ReclaimedBytes)
		}
		for _, f := range resp.Payload.Failed {
			fmt.Printf("Prune failed for %q: %s\n", f.SetName, f.Error)
		}
		return nil
	},
}
