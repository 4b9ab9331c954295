package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/backupd/internal/config"
	"github.com/cuemby/backupd/internal/engine"
	"github.com/cuemby/backupd/internal/paths"
)

var initCmd = &cobra.Command{
	Use:   "init SET",
	Short: "Initialize the backup repository for a configured set",
	Long: `Initialize runs the engine's repository-init operation directly,
without going through the daemon, since a set's repository must exist
before the daemon can back up to it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = paths.ConfigPath()
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		var target string
		found := false
		for _, s := range cfg.BackupSets {
			if s.Name == name {
				target = s.Target
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("no backup set named %q in %s", name, configPath)
		}

		eng := engine.New()
		if err := eng.Init(context.Background(), target); err != nil {
			return fmt.Errorf("initialize repository: %w", err)
		}

		fmt.Printf("Repository initialized for %q (%s)\n", name, target)
		return nil
	},
}

func init() {
	initCmd.Flags().String("config", "", "Path to config.toml (default: "+paths.ConfigPath()+")")
}
