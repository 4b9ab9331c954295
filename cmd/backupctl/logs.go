package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/paths"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail backupd's log file",
	Long: `Tail backupd's log file (only populated when the daemon was
started with --log-file; otherwise its logs go to stdout, e.g. under
systemd's own journal).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		logPath := paths.LogFilePath()

		if _, err := os.Stat(logPath); err != nil {
			return fmt.Errorf("log file not found at %s (was backupd started with --log-file?)", logPath)
		}

		tailArgs := []string{"-n", "50"}
		if follow {
			tailArgs = append(tailArgs, "-f")
		}
		tailArgs = append(tailArgs, logPath)

		tail := exec.Command("tail", tailArgs...)
		tail.Stdout = os.Stdout
		tail.Stderr = os.Stderr
		return tail.Run()
	},
}

func init() {
	logsCmd.Flags().BoolP("follow", "f", false, "Follow the log file as it grows")
}
