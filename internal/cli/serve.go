package cli

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aevon-lab/dimledger/internal/ingestion"
	"github.com/aevon-lab/dimledger/internal/projection"
	"github.com/aevon-lab/dimledger/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve batch intake, the read API and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), a.health, cfg.Server.Mode)
			ingestion.NewService(a.decoder, a.runner, cfg.Server.MaxBodySizeMB).RegisterRoutes(srv.Engine)
			projection.NewService(a.dims, a.facts, a.runs).RegisterRoutes(srv.Engine)

			// blocks until the command context is cancelled by a signal
			if err := srv.Run(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "server stopped with error", err)
			}
			slog.Info("[App] Shutdown complete")
			return nil
		},
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
