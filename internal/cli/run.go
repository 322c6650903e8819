package cli

import (
	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	SnapshotFile     string
	TransactionsFile string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Merge a snapshot, then aggregate the same day's transactions",
		Long: `Run the daily pipeline for one business date: the customer snapshot is merged
first and the transactions are aggregated only if the merge succeeded.

Example:
  dimledger run --snapshot customers.yaml --transactions bookings.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.decoder.LoadSnapshot(opts.SnapshotFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read snapshot", err)
			}
			txns, err := a.decoder.LoadTransactions(opts.TransactionsFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read transactions", err)
			}

			sum, runErr := a.runner.Run(cmd.Context(), snap, txns)
			if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
				return err
			}
			if runErr != nil {
				return WrapExitError(ExitFailure, "run "+sum.Status, runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.SnapshotFile, "snapshot", "", "customer snapshot batch file (required)")
	cmd.Flags().StringVar(&opts.TransactionsFile, "transactions", "", "transactions batch file (required)")
	_ = cmd.MarkFlagRequired("snapshot")
	_ = cmd.MarkFlagRequired("transactions")

	return cmd
}
