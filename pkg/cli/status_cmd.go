package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"budget-etl/internal/api"
	"budget-etl/internal/domain"
)

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run's status and per-sheet results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run *api.Run
			err := withBackend(cmd, g, func(b backend) error {
				var err error
				run, err = b.status(cmd.Context(), args[0])
				return err
			})
			if err != nil {
				return err
			}
			return printRun(cmd, run)
		},
	}
}

func newListCmd(g *globals) *cobra.Command {
	var (
		status     string
		maxResults int
		pageToken  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page := domain.PageRequest{MaxResults: maxResults, PageToken: pageToken}
			var out *api.PaginatedRuns
			err := withBackend(cmd, g, func(b backend) error {
				var err error
				out, err = b.listRuns(cmd.Context(), strings.ToUpper(status), page)
				return err
			})
			if err != nil {
				return err
			}
			return printRuns(cmd, out)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only runs in this status")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}
