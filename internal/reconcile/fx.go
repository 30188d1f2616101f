package reconcile

import (
	"github.com/smallbiznis/caseledger/internal/reconcile/backup"
	"github.com/smallbiznis/caseledger/internal/reconcile/repository"
	"github.com/smallbiznis/caseledger/internal/reconcile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile.service",
	backup.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
