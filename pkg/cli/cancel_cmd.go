package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd(g *globals) *cobra.Command {
	var requestedBy string

	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an in-flight run on a server",
		Long:  "Ask the server running the run to cancel it. The run stops at its next stage boundary.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestedBy == "" {
				requestedBy = currentUser()
			}
			err := withBackend(cmd, g, func(b backend) error {
				return b.cancel(cmd.Context(), args[0], requestedBy)
			})
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == outputJSON {
				return PrintJSON(cmd.OutOrStdout(), map[string]string{"run_id": args[0], "cancel": "requested"})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for run %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "Principal recorded in the log (default: current user)")
	return cmd
}
