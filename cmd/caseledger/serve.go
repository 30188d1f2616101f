package main

import (
	"github.com/smallbiznis/caseledger/internal/bootstrap"
	"github.com/smallbiznis/caseledger/internal/scheduler"
	"github.com/smallbiznis/caseledger/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCommand() *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options := []fx.Option{bootstrap.Core, server.Module}
			if withScheduler {
				options = append(options, scheduler.Module)
			}
			fx.New(options...).Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also host the scheduled invariant audit")
	return cmd
}

func newSchedulerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the scheduled invariant audit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(bootstrap.Core, scheduler.Module).Run()
			return nil
		},
	}
}
