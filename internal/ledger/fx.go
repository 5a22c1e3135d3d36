package ledger

import (
	"github.com/playgroundx/settlement/internal/ledger/repository"
	"github.com/playgroundx/settlement/internal/ledger/service"
	"go.uber.org/fx"
)

// Module provides the append-only event ledger and the balance projection
// built from it.
var Module = fx.Module("ledger",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
