package main

import (
	"fmt"
	"strings"

	"github.com/phrazzld/pomo-api/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <" + strings.Join(postgres.MigrationCommands, "|") + "> [args]",
		Short:     "Run database migrations",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: postgres.MigrationCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig()
			if err != nil {
				return err
			}
			logger, err := setupAppLogger(cfg)
			if err != nil {
				return err
			}

			db, err := setupAppDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
			}()

			if err := postgres.Migrate(cmd.Context(), db, args[0], logger, args[1:]...); err != nil {
				return fmt.Errorf("migration %s failed: %w", args[0], err)
			}
			logger.Info("migration finished", "command", args[0])
			return nil
		},
	}
}
