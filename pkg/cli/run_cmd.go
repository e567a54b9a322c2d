package cli

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"budget-etl/internal/api"
	"budget-etl/internal/domain"
)

func newRunCmd(g *globals) *cobra.Command {
	var (
		runID       string
		requestedBy string
		detach      bool
	)

	cmd := &cobra.Command{
		Use:   "run <input-file-reference>",
		Short: "Trigger a run and wait for it to finish",
		Long: `Trigger a run over one workbook and wait for its outcome.

The input may be a local path, file://, s3://bucket/key, gs://bucket/object
or az://container/blob. Re-running a FAILED run id restarts it as the next
attempt. The command exits non-zero when the run ends FAILED or CANCELLED.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestedBy == "" {
				requestedBy = currentUser()
			}
			req := domain.TriggerRequest{
				InputFileReference: args[0],
				RunID:              runID,
				RequestedBy:        requestedBy,
			}

			var run *api.Run
			err := withBackend(cmd, g, func(b backend) error {
				var err error
				run, err = b.run(cmd.Context(), req, !detach)
				return err
			})
			if err != nil {
				return err
			}
			if err := printRun(cmd, run); err != nil {
				return err
			}
			switch run.Status {
			case domain.RunStatusFailed, domain.RunStatusCancelled:
				return fmt.Errorf("run %s finished %s", run.RunID, run.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run id; generated when empty")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "Principal recorded on the run (default: current user)")
	cmd.Flags().BoolVar(&detach, "detach", false, "Return once the run is accepted (requires --host)")
	return cmd
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "budgetctl"
}
