package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/ipc"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots SET",
	Short: "List snapshots for a backup set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		var limitPtr *int
		if limit > 0 {
			limitPtr = &limit
		}

		resp, err := callOrFail(cmd, ipc.NewSnapshotsRequest(args[0], limitPtr))
		if err != nil {
			return err
		}

		snaps := resp.Payload.Snapshots
		if len(snaps) == 0 {
			fmt.Println("No snapshots found")
			return nil
		}

		fmt.Printf("%-10s %-20s %s\n", "ID", "DATE", "PATHS")
		for _, s := range snaps {
			fmt.Printf("%-10s %-20s %v\n", s.ShortID, s.Timestamp.Local().Format("2006-01-02 15:04:05"), s.Paths)
		}
		return nil
	},
}

func init() {
	snapshotsCmd.Flags().Int("limit", 0, "Limit number of snapshots shown (0 means no limit)")
}
