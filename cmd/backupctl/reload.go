package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/ipc"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Force the daemon to reload its configuration file immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := callOrFail(cmd, ipc.NewReloadConfigRequest()); err != nil {
			return err
		}
		fmt.Println("Configuration reloaded")
		return nil
	},
}
