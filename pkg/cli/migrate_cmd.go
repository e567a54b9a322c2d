package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"budget-etl/internal/app"
	internaldb "budget-etl/internal/db"
)

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the budget database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.host != "" {
				return fmt.Errorf("migrate runs against the local database; drop --host")
			}
			cfg, _, closeLog, err := loadConfig(g)
			if err != nil {
				return err
			}
			defer closeLog() //nolint:errcheck

			pools, err := app.OpenSink(cfg)
			if err != nil {
				return err
			}
			defer pools.Close() //nolint:errcheck

			v, err := internaldb.SchemaVersion(pools.Read)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == outputJSON {
				return PrintJSON(cmd.OutOrStdout(), map[string]any{"database": cfg.BudgetDBPath, "schema_version": v})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %d\n", cfg.BudgetDBPath, v)
			return nil
		},
	}
}
