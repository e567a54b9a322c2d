package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"budget-etl/internal/api"
)

func printRun(cmd *cobra.Command, run *api.Run) error {
	out := cmd.OutOrStdout()
	if getOutputFormat(cmd) == outputJSON {
		return PrintJSON(out, run)
	}

	PrintDetail(out, map[string]any{
		"run_id":       run.RunID,
		"status":       run.Status,
		"attempt":      run.Attempt,
		"input":        run.InputFileReference,
		"file_digest":  run.FileDigest,
		"requested_by": run.RequestedBy,
		"requested_at": run.RequestedAt,
		"started_at":   run.StartedAt,
		"ended_at":     run.EndedAt,
		"error":        run.ErrorMessage,
	})
	if len(run.PerSheetResults) > 0 {
		_, _ = fmt.Fprintln(out)
		rows := make([][]string, len(run.PerSheetResults))
		for i, s := range run.PerSheetResults {
			rows[i] = []string{
				s.SheetName, s.Status,
				strconv.Itoa(s.RecordsProcessed), strconv.Itoa(s.RejectedCount),
				formatValue(s.ErrorKind),
			}
		}
		PrintTable(out, []string{"sheet", "status", "records", "rejected", "error"}, rows)
	}
	if run.Report != nil {
		printReport(out, run.Report.Status, run.Report.IssuesFound)
	}
	return nil
}

func printReport(out io.Writer, status string, issues []string) {
	_, _ = fmt.Fprintf(out, "\nvalidation: %s\n", status)
	for _, issue := range issues {
		_, _ = fmt.Fprintf(out, "  - %s\n", issue)
	}
}

func printRuns(cmd *cobra.Command, page *api.PaginatedRuns) error {
	out := cmd.OutOrStdout()
	if getOutputFormat(cmd) == outputJSON {
		return PrintJSON(out, page)
	}
	rows := make([][]string, len(page.Data))
	for i, r := range page.Data {
		rows[i] = []string{r.RunID, r.Status, strconv.Itoa(r.Attempt), r.InputFileReference, formatValue(r.RequestedAt), formatValue(r.EndedAt)}
	}
	PrintTable(out, []string{"run_id", "status", "attempt", "input", "requested_at", "ended_at"}, rows)
	if page.NextPageToken != nil {
		_, _ = fmt.Fprintf(out, "\nnext page: --page-token %s\n", *page.NextPageToken)
	}
	return nil
}

func printAudit(cmd *cobra.Command, entries []api.AuditEntry) error {
	out := cmd.OutOrStdout()
	if getOutputFormat(cmd) == outputJSON {
		return PrintJSON(out, api.AuditEntries{Data: entries})
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			strconv.Itoa(e.RunAttempt), e.TaskID, formatValue(e.SheetName), strconv.Itoa(e.Attempt),
			e.Status, strconv.Itoa(e.RecordsProcessed), formatValue(e.ErrorKind), formatValue(e.ExecutionDate),
		}
	}
	PrintTable(out, []string{"run_attempt", "task", "sheet", "attempt", "status", "records", "error", "execution_date"}, rows)
	return nil
}
