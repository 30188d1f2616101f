package main

import (
	"github.com/smallbiznis/caseledger/internal/bootstrap"
	"github.com/smallbiznis/caseledger/internal/scheduler"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		bootstrap.Core,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}
