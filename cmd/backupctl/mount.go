package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/ipc"
)

var mountCmd = &cobra.Command{
	Use:   "mount SET",
	Short: "Mount a backup set's repository via FUSE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshotID, _ := cmd.Flags().GetString("snapshot")

		resp, err := callOrFail(cmd, ipc.NewMountRequest(args[0], snapshotID))
		if err != nil {
			return err
		}

		fmt.Printf("Mounted %q at %s\n", resp.Payload.SetName, resp.Payload.Path)
		return nil
	},
}

func init() {
	mountCmd.Flags().String("snapshot", "", "Snapshot ID to mount (default: latest)")
}
