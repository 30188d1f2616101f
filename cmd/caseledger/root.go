package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/bootstrap"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
}

var validFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "caseledger",
		Short:         "Case hour ledger operations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSchedulerCommand())
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newAuditCommand(opts))
	cmd.AddCommand(newDriftCommand(opts))
	cmd.AddCommand(newBackfillCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

// runOneShot starts the core graph, fills targets, runs fn and stops the
// app again. Lifecycle hooks such as the redis ping and the schema
// migration run before fn.
func runOneShot(ctx context.Context, fn func(ctx context.Context) error, targets ...any) error {
	app := fx.New(
		bootstrap.Core,
		fx.NopLogger,
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(ctx, app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancelStop()
		_ = app.Stop(stopCtx)
	}()

	return fn(cliContext(ctx))
}

// cliContext marks the caller as the local operator for audit rows.
func cliContext(ctx context.Context) context.Context {
	user := strings.TrimSpace(os.Getenv("USER"))
	if user == "" {
		user = "cli"
	}
	return obscontext.WithActor(ctx, string(auditdomain.ActorTypeCLI), user)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
