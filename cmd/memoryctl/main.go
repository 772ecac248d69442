// Command memoryctl runs maintenance tasks against the memory database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/rolechat-memory/internal/app"
	"github.com/iammorganparry/rolechat-memory/internal/config"
	"github.com/iammorganparry/rolechat-memory/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	dbPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "memoryctl",
		Short:         "Maintenance for the character memory store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (default: MEMORY_DB_PATH)")

	root.AddCommand(newSweepCmd(opts), newSummaryCmd(opts), newForgetCmd(opts))
	return root
}

// open loads config, applies the --db override and builds the app.
func (o *rootOptions) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	logger := logging.New(cfg.LogLevel, "console", cmd.ErrOrStderr())
	return app.Build(cmd.Context(), cfg, logger)
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reindex orphaned memories, retry vector deletes and close idle sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reindexed:        %d\n", report.Reindexed)
			fmt.Fprintf(out, "reindex failed:   %d\n", report.ReindexFailed)
			fmt.Fprintf(out, "tombstones fixed: %d\n", report.TombstonesFixed)
			fmt.Fprintf(out, "sessions closed:  %d\n", report.SessionsClosed)
			fmt.Fprintf(out, "low retention:    %d\n", report.LowRetention)
			fmt.Fprintf(out, "cache pruned:     %d\n", report.CachePruned)
			return nil
		},
	}
}

type scopeFlags struct {
	user      string
	character string
}

func (s *scopeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.user, "user", "", "user id")
	cmd.Flags().StringVar(&s.character, "character", "", "character name")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("character")
}

func newSummaryCmd(opts *rootOptions) *cobra.Command {
	scope := &scopeFlags{}
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the conversation summary for a user and character",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Service.GetConversationSummary(cmd.Context(), scope.user, scope.character)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	scope.bind(cmd)
	return cmd
}

func newForgetCmd(opts *rootOptions) *cobra.Command {
	scope := &scopeFlags{}
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Delete every memory for a user and character",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Service.ClearUserMemories(cmd.Context(), scope.user, scope.character)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d memories\n", n)
			return nil
		},
	}
	scope.bind(cmd)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
