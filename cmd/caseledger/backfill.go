package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	backfilldomain "github.com/smallbiznis/caseledger/internal/backfill/domain"
	"github.com/spf13/cobra"
)

func newBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill <migration-id> <dry-run|up|down>",
		Short: "Run a versioned data backfill",
		Long: `Run a versioned data backfill.

dry-run reports what up would change. down clears migration markers only;
corrected values are not restored.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := backfilldomain.ParseOperation(args[1])
			if err != nil {
				return fmt.Errorf("%w: %q", err, args[1])
			}

			var svc backfilldomain.Service
			return runOneShot(cmd.Context(), func(ctx context.Context) error {
				stats, err := svc.Run(ctx, args[0], op)
				if stats != nil {
					if werr := printBackfillStats(cmd.OutOrStdout(), rootOpts.Format, stats); werr != nil {
						return werr
					}
				}
				var partial *backfilldomain.PartialRunError
				if errors.As(err, &partial) {
					for _, failure := range partial.Failures {
						fmt.Fprintf(cmd.ErrOrStderr(), "batch %d after %q: %s\n", failure.Batch, failure.Cursor, failure.Error)
					}
				}
				return err
			}, &svc)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered backfills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc backfilldomain.Service
			return runOneShot(cmd.Context(), func(ctx context.Context) error {
				infos := svc.List()
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), infos)
				}
				for _, info := range infos {
					fmt.Fprintf(cmd.OutOrStdout(), "%s v%d %s\n", info.ID, info.Version, info.Description)
				}
				return nil
			}, &svc)
		},
	})

	return cmd
}

func printBackfillStats(w io.Writer, format string, stats *backfilldomain.Stats) error {
	if format == "json" {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "%s %s\n", stats.MigrationID, stats.Operation)
	fmt.Fprintf(w, "total=%d changed=%d skipped=%d batches=%d errors=%d duration=%s\n",
		stats.Total, stats.Changed, stats.Skipped, stats.Batches, stats.Errors, stats.Duration)
	for _, rec := range stats.Records {
		fmt.Fprintf(w, "  %s %s %.4f -> %.4f\n", rec.ID, rec.Field, rec.Before, rec.After)
	}
	if stats.Notice != "" {
		fmt.Fprintf(w, "note: %s\n", stats.Notice)
	}
	return nil
}
