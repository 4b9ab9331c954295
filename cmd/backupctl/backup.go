package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/ipc"
)

var backupCmd = &cobra.Command{
	Use:   "backup [set]",
	Short: "Trigger an immediate backup, skipping any debounce wait",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		resp, err := callOrFail(cmd, ipc.NewBackupRequest(name))
		if err != nil {
			return err
		}

		if name != "" {
			fmt.Printf("Backup started for %q\n", resp.Payload.SetName)
			return nil
		}

		for _, s := range resp.Payload.Started {
			fmt.Printf("Backup started for %q\n", s)
		}
		for _, f := range resp.Payload.Failed {
			fmt.Printf("Backup failed to start for %q: %s\n", f.SetName, f.Error)
		}
		return nil
	},
}
