package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/ipc"
	"github.com/cuemby/backupd/internal/paths"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "backupctl",
	Short:   "backupctl - control a running backupd daemon",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("socket", "", "Path to backupd's control socket (default: "+paths.SocketPath()+")")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(logsCmd)
}

func socketPath(cmd *cobra.Command) string {
	s, _ := cmd.Flags().GetString("socket")
	if s != "" {
		return s
	}
	return paths.SocketPath()
}

func dial(cmd *cobra.Command) (*ipc.Client, error) {
	return ipc.Dial(socketPath(cmd))
}

func callOrFail(cmd *cobra.Command, req ipc.Request) (ipc.Response, error) {
	client, err := dial(cmd)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("connect to backupd: %w (is the daemon running?)", err)
	}
	defer client.Close()

	resp, err := client.Call(req)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("call backupd: %w", err)
	}
	if code, msg, ok := resp.ErrorPayload(); ok {
		return ipc.Response{}, fmt.Errorf("%s: %s", code, msg)
	}
	return resp, nil
}
