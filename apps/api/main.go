package main

import (
	"github.com/smallbiznis/caseledger/internal/bootstrap"
	"github.com/smallbiznis/caseledger/internal/server"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		bootstrap.Core,

		// Time entry intake and the operator admin API
		server.Module,
	)
	app.Run()
}
