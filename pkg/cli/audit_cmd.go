package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"budget-etl/internal/api"
	"budget-etl/internal/app"
	"budget-etl/internal/config"
	"budget-etl/internal/db/repository"
	"budget-etl/internal/service/audit"
)

func newAuditCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <run-id>",
		Short: "Show a run's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []api.AuditEntry
			err := withBackend(cmd, g, func(b backend) error {
				var err error
				entries, err = b.audit(cmd.Context(), args[0])
				return err
			})
			if err != nil {
				return err
			}
			return printAudit(cmd, entries)
		},
	}
	cmd.AddCommand(newAuditReplayCmd(g))
	return cmd
}

// newAuditReplayCmd replays the audit fallback file into the sink without
// starting the pipeline.
func newAuditReplayCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Write parked audit entries from the fallback file into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.host != "" {
				return fmt.Errorf("audit replay runs against the local database; drop --host")
			}
			cfg, logger, closeLog, err := loadConfig(g)
			if err != nil {
				return err
			}
			defer closeLog() //nolint:errcheck

			res, err := replayFallback(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == outputJSON {
				return PrintJSON(out, map[string]int{
					"replayed":   res.Replayed,
					"duplicates": res.Duplicates,
					"remaining":  res.Remaining,
				})
			}
			PrintDetail(out, map[string]any{
				"fallback":   cfg.AuditFallbackPath,
				"replayed":   res.Replayed,
				"duplicates": res.Duplicates,
				"remaining":  res.Remaining,
			})
			return nil
		},
	}
}

func replayFallback(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.ReplayResult, error) {
	pools, err := app.OpenSink(cfg)
	if err != nil {
		return audit.ReplayResult{}, err
	}
	defer pools.Close() //nolint:errcheck

	repo := repository.NewAuditRepo(pools.Write, pools.Read)
	return audit.NewRecorder(repo, cfg.AuditFallbackPath, logger).Replay(ctx)
}
