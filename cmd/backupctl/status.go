package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every configured backup set",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := callOrFail(cmd, ipc.NewStatusRequest())
		if err != nil {
			return err
		}

		sets := resp.Payload.Sets
		if len(sets) == 0 {
			fmt.Println("No backup sets configured")
			return nil
		}

		fmt.Printf("%-20s %-12s %-10s %s\n", "NAME", "STATE", "MOUNTED", "LAST BACKUP")
		for _, s := range sets {
			state := string(s.State.Kind)
			if s.State.Kind == "debouncing" {
				state = fmt.Sprintf("debounce(%ds)", s.State.RemainingSeconds)
			}
			mounted := "no"
			if s.IsMounted {
				mounted = "yes"
			}
			last := "never"
			if s.LastBackup != nil {
				if s.LastBackup.Success {
					last = s.LastBackup.Timestamp.Local().Format("2006-01-02 15:04:05")
				} else {
					last = "failed: " + s.LastBackup.ErrorMessage
				}
			}
			fmt.Printf("%-20s %-12s %-10s %s\n", s.Name, state, mounted, last)
		}
		return nil
	},
}
