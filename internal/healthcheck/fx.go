package healthcheck

import (
	"github.com/smallbiznis/caseledger/internal/healthcheck/repository"
	"github.com/smallbiznis/caseledger/internal/healthcheck/service"
	"go.uber.org/fx"
)

var Module = fx.Module("healthcheck.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
