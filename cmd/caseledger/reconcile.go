package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
	"github.com/spf13/cobra"
)

func newReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		caseIDs []string
		execute bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Correct cached hour totals from billable entries",
		Long: `Recompute service and case totals from billable entries.

Runs as a dry run unless --execute is given. Without --case every case is
reconciled. Execute writes a backup before any change is committed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := reconciledomain.ModeDryRun
			if execute {
				mode = reconciledomain.ModeExecute
			}

			var svc reconciledomain.Service
			return runOneShot(cmd.Context(), func(ctx context.Context) error {
				summary, err := svc.ReconcileMany(ctx, normalizeCaseIDs(caseIDs), mode)
				if summary != nil {
					if werr := printReconcileSummary(cmd.OutOrStdout(), rootOpts.Format, summary); werr != nil {
						return werr
					}
				}
				if err != nil {
					return err
				}
				if len(summary.Failed) > 0 {
					return fmt.Errorf("%d cases failed to reconcile", len(summary.Failed))
				}
				return nil
			}, &svc)
		},
	}
	cmd.Flags().StringSliceVar(&caseIDs, "case", nil, "case id to reconcile (repeatable)")
	cmd.Flags().BoolVar(&execute, "execute", false, "apply corrections instead of a dry run")
	return cmd
}

func normalizeCaseIDs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		id := strings.TrimSpace(value)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func printReconcileSummary(w io.Writer, format string, summary *reconciledomain.BatchSummary) error {
	if format == "json" {
		return writeJSON(w, summary)
	}

	fmt.Fprintf(w, "mode: %s\n", summary.Mode)
	for _, record := range summary.Records {
		plan := record.Changes.Data()
		state := "clean"
		switch {
		case record.Skipped:
			state = "skipped"
		case record.Applied:
			state = "applied"
		case !plan.Empty():
			state = "pending"
		}
		fmt.Fprintf(w, "  %-12s %-8s services=%d manual_review=%d", record.CaseID, state, len(plan.Services), len(plan.ManualReview))
		if record.BackupLocation != "" {
			fmt.Fprintf(w, " backup=%s", record.BackupLocation)
		}
		fmt.Fprintln(w)
	}
	for _, failure := range summary.Failed {
		fmt.Fprintf(w, "  %-12s failed   %s\n", failure.CaseID, failure.Error)
	}
	fmt.Fprintf(w, "changed: %d skipped: %d failed: %d\n", summary.Changed, summary.Skipped, len(summary.Failed))
	return nil
}
