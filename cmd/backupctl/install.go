package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/paths"
	"github.com/cuemby/backupd/internal/setup"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and enable the backupd systemd user service",
	Long: `Install writes a systemd user-unit file pointing at the
currently running backupctl binary's sibling backupd executable, then
prints the systemctl commands needed to enable it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		execPath, _ := cmd.Flags().GetString("exec-path")
		if execPath == "" {
			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("determine backupctl path: %w", err)
			}
			execPath = filepath.Join(filepath.Dir(self), "backupd")
		}

		unitPath := paths.SystemdUnitPath()
		if err := setup.InstallUnit(unitPath, execPath); err != nil {
			return fmt.Errorf("install unit: %w", err)
		}

		fmt.Printf("Installed systemd user unit at %s\n", unitPath)
		fmt.Println("Enable and start it with:")
		fmt.Println("  systemctl --user daemon-reload")
		fmt.Println("  systemctl --user enable --now backupd")
		return nil
	},
}

func init() {
	installCmd.Flags().String("exec-path", "", "Path to the backupd binary (default: sibling of backupctl)")
}
