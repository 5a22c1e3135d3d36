// Command playgroundx runs the HTTP API, the scheduler and migrations in one process.
package main

import (
	"github.com/playgroundx/settlement/internal/bootstrap"
	"github.com/playgroundx/settlement/internal/migration"
	"github.com/playgroundx/settlement/internal/scheduler"
	"github.com/playgroundx/settlement/internal/server"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		bootstrap.Infrastructure,
		migration.Module,
		bootstrap.Settlement,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}
