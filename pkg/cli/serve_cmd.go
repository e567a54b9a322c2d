package cli

import (
	"github.com/spf13/cobra"

	"budget-etl/internal/app"
)

func newServeCmd(g *globals) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := loadConfig(g)
			if err != nil {
				return err
			}
			defer closeLog() //nolint:errcheck
			for _, w := range cfg.Warnings {
				logger.Warn(w)
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			return app.Serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default LISTEN_ADDR or :8080)")
	return cmd
}
