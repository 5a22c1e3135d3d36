package apikey

import (
	"github.com/playgroundx/settlement/internal/apikey/repository"
	"github.com/playgroundx/settlement/internal/apikey/service"
	"go.uber.org/fx"
)

// Module provides the key store used to authenticate room and feature
// modules on the ingest API.
var Module = fx.Module("apikey",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
