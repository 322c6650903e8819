package cli

import (
	"github.com/spf13/cobra"
)

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <snapshot-file>",
		Short: "Merge a customer snapshot into the dimension",
		Long: `Merge one customer snapshot batch file (.yaml, .yml or .json) into the
versioned dimension. The batch passes the data quality gate first.

Example:
  dimledger merge ./batches/customers-2024-03-01.yaml`,
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

			snap, err := a.decoder.LoadSnapshot(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read snapshot", err)
			}

			res, runErr := a.runner.RunSnapshot(cmd.Context(), snap)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if runErr != nil {
				return WrapExitError(ExitFailure, "merge "+res.Status, runErr)
			}
			return nil
		},
	}
}
