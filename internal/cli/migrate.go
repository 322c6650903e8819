package cli

import (
	"github.com/spf13/cobra"

	"github.com/aevon-lab/dimledger/internal/core/storage/postgres"
	"github.com/aevon-lab/dimledger/internal/migrations"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply every pending schema migration to the configured PostgreSQL database,
regardless of database.auto_migrate, and print the resulting schema version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Database.Type != "postgres" {
				return &ExitError{Code: ExitCommandError, Message: "migrate requires database.type=postgres"}
			}

			adapter, err := postgres.NewAdapter(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize database", err)
			}
			defer adapter.Close()

			if err := migrations.RunMigrations(adapter.DB(), true); err != nil {
				return WrapExitError(ExitFailure, "migration failed", err)
			}
			version, dirty, err := migrations.Version(adapter.DB())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read schema version", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"version": version,
				"dirty":   dirty,
			})
		},
	}
}
