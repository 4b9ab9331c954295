package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/ipc"
)

var unmountCmd = &cobra.Command{
	Use:   "unmount [set]",
	Short: "Unmount a backup set, or every mounted set if none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		if _, err := callOrFail(cmd, ipc.NewUnmountRequest(name)); err != nil {
			return err
		}

		if name != "" {
			fmt.Printf("Unmounted %q\n", name)
		} else {
			fmt.Println("Unmounted all mounted sets")
		}
		return nil
	},
}
