package main

import (
	"github.com/playgroundx/settlement/internal/bootstrap"
	"github.com/playgroundx/settlement/internal/server"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		bootstrap.Infrastructure,
		bootstrap.Settlement,

		// No scheduler: payouts and outbox dispatch run in apps/scheduler.
		server.Module,
	)
	app.Run()
}
