package main

import (
	"context"
	"fmt"
	"io"

	healthcheckdomain "github.com/smallbiznis/caseledger/internal/healthcheck/domain"
	"github.com/spf13/cobra"
)

const auditTriggerCLI = "cli"

func newAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Invariant audit reports",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Sweep every case now and store a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc healthcheckdomain.Service
			return runOneShot(cmd.Context(), func(ctx context.Context) error {
				report, err := svc.Run(ctx, auditTriggerCLI)
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), rootOpts.Format, report)
			}, &svc)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "latest",
		Short: "Show the most recent report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc healthcheckdomain.Service
			return runOneShot(cmd.Context(), func(ctx context.Context) error {
				report, err := svc.Latest(ctx)
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), rootOpts.Format, report)
			}, &svc)
		},
	})

	return cmd
}

func printReport(w io.Writer, format string, report *healthcheckdomain.InvariantReport) error {
	if format == "json" {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "status: %s\n", report.Status)
	fmt.Fprintf(w, "cases checked: %d skipped: %d\n", report.CasesChecked, report.CasesSkipped)
	fmt.Fprintf(w, "discrepancies: %d manual review: %d unassigned entries: %d\n",
		report.DiscrepanciesCount, report.ManualReviewCount, report.UnassignedEntries)
	for _, d := range report.Discrepancies.Data() {
		fmt.Fprintf(w, "  %s %s %s %s gap=%.4f\n", d.CaseID, d.ServiceID, d.Kind, d.Field, d.Gap)
	}
	for _, caseErr := range report.CaseErrors.Data() {
		fmt.Fprintf(w, "  %s error: %s\n", caseErr.CaseID, caseErr.Error)
	}
	return nil
}
