package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cms-migrate/internal/orchestrate"
)

var rollbackBackup string

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the source database from a backup artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		if cfg.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required (--sqlite-path, SQLITE_PATH or config)")
		}
		if rollbackBackup == "" {
			return fmt.Errorf("--backup is required")
		}

		if err := orchestrate.RestoreBackup(rollbackBackup, cfg.SQLitePath); err != nil {
			return err
		}
		fmt.Printf("✓ Restored %s from %s\n", cfg.SQLitePath, rollbackBackup)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(rollbackCmd)

	rollbackCmd.Flags().StringVar(&rollbackBackup, "backup", "", "backup file created by a previous migrate run")
}
