package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the trigger store schema",
	RunE: withStore(func(*cobra.Command, []string, store.Store) error {
		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
