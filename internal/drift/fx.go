package drift

import (
	"github.com/smallbiznis/caseledger/internal/drift/service"
	"go.uber.org/fx"
)

var Module = fx.Module("drift.service",
	fx.Provide(service.NewService),
)
