package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	"github.com/spf13/cobra"
)

func newDriftCommand(rootOpts *RootOptions) *cobra.Command {
	var caseID string

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare a case's cached totals with its billable entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caseID = strings.TrimSpace(caseID)
			if caseID == "" {
				return errors.New("--case is required")
			}

			var svc driftdomain.Service
			return runOneShot(cmd.Context(), func(ctx context.Context) error {
				drift, err := svc.DetectDrift(ctx, caseID)
				if err != nil {
					return err
				}
				return printDrift(cmd.OutOrStdout(), rootOpts.Format, drift)
			}, &svc)
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	return cmd
}

func printDrift(w io.Writer, format string, drift *driftdomain.CaseDrift) error {
	if format == "json" {
		return writeJSON(w, drift)
	}
	fmt.Fprintf(w, "case %s (%s) version %d\n", drift.CaseID, drift.CaseName, drift.CaseVersion)
	fmt.Fprintf(w, "cached: total=%.2f used=%.2f remaining=%.2f\n",
		drift.CachedTotals.TotalHours, drift.CachedTotals.HoursUsed, drift.CachedTotals.HoursRemaining)
	for _, svc := range drift.Services {
		fmt.Fprintf(w, "  %-20s used=%.2f recomputed=%.2f entries=%d\n", svc.ServiceID, svc.HoursUsed, svc.RecomputedUsed, svc.EntryCount)
	}
	if drift.UnassignedEntries > 0 {
		fmt.Fprintf(w, "unassigned entries: %d (%d minutes)\n", drift.UnassignedEntries, drift.UnassignedMinutes)
	}
	if len(drift.Discrepancies) == 0 {
		fmt.Fprintln(w, "no drift")
		return nil
	}
	for _, d := range drift.Discrepancies {
		fmt.Fprintf(w, "  %s %s %s cached=%.4f recomputed=%.4f gap=%.4f\n",
			d.Kind, d.ServiceID, d.Field, d.CachedValue, d.RecomputedValue, d.Gap)
	}
	return nil
}
