package cli

import (
	"github.com/spf13/cobra"
)

// NewAggregateCommand creates the aggregate command.
func NewAggregateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate <transactions-file>",
		Short: "Rebuild the booking fact partition of one business date",
		Long: `Aggregate one transactions batch file into fact_booking_daily, replacing the
whole partition of its business date. Re-running the same file yields the same rows.

Example:
  dimledger aggregate ./batches/bookings-2024-03-01.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			txns, err := a.decoder.LoadTransactions(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read transactions", err)
			}

			res, runErr := a.runner.RunTransactions(cmd.Context(), txns)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if runErr != nil {
				return WrapExitError(ExitFailure, "aggregate "+res.Status, runErr)
			}
			return nil
		},
	}
}
