// Package cli implements budgetctl, the command-line interface for
// triggering budget ETL runs and inspecting their status and audit trail.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"budget-etl/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// closeTimeout bounds how long a local backend waits for runs to settle on exit.
const closeTimeout = 30 * time.Second

// Execute runs the CLI.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == outputJSON {
			errObj := map[string]interface{}{
				"error": err.Error(),
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				errObj["http_status"] = apiErr.HTTPStatus
				errObj["code"] = apiErr.Code
			}
			_ = PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// globals holds the resolved persistent flags.
type globals struct {
	host    string
	output  string
	envFile string
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "budgetctl",
		Short:         "Municipal budget ETL pipeline CLI",
		Long:          "Trigger budget spreadsheet runs and inspect their status and audit trail.\nWithout --host, commands operate directly on the local budget database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Apply precedence: flag > env > default
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("BUDGETCTL_HOST"); v != "" {
					g.host = v
				}
			}
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("BUDGETCTL_OUTPUT"); v != "" {
					g.output = v
					_ = cmd.Root().PersistentFlags().Set("output", v)
				}
			}
			return validateOutputFormat(g.output)
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.host, "host", "", "Server URL; empty operates on the local database")
	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "", "Output format (table, json); default table on a terminal, json otherwise")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Environment file loaded before configuration")

	rootCmd.AddCommand(newRunCmd(g))
	rootCmd.AddCommand(newStatusCmd(g))
	rootCmd.AddCommand(newListCmd(g))
	rootCmd.AddCommand(newAuditCmd(g))
	rootCmd.AddCommand(newCancelCmd(g))
	rootCmd.AddCommand(newMigrateCmd(g))
	rootCmd.AddCommand(newServeCmd(g))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// loadConfig loads the env file and the service configuration, and builds
// the logger.
func loadConfig(g *globals) (*config.Config, *slog.Logger, func() error, error) {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.SlogLevel())
	return cfg, logger, closeLog, nil
}

// withBackend opens the backend for g, runs fn and closes the backend.
func withBackend(cmd *cobra.Command, g *globals, fn func(b backend) error) error {
	if g.host != "" {
		return fn(newRemote(g.host))
	}

	cfg, logger, closeLog, err := loadConfig(g)
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck

	b, err := openLocal(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(b)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
	defer cancel()
	return errors.Join(runErr, b.close(ctx))
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
