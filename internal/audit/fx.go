package audit

import (
	"github.com/playgroundx/settlement/internal/audit/repository"
	"github.com/playgroundx/settlement/internal/audit/service"
	"go.uber.org/fx"
)

// Module provides the hash-chained audit trail every money movement and
// review decision writes to.
var Module = fx.Module("audit",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
