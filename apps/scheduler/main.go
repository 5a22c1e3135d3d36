package main

import (
	"github.com/playgroundx/settlement/internal/bootstrap"
	"github.com/playgroundx/settlement/internal/scheduler"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		bootstrap.Infrastructure,
		bootstrap.Settlement,

		// The Kafka publisher and redis creator lock come from
		// events.Module and ratelimit.Module.
		scheduler.Module,
	)
	app.Run()
}
