package idempotency

import (
	"github.com/smallbiznis/caseledger/internal/idempotency/repository"
	"github.com/smallbiznis/caseledger/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
