package main

import (
	"context"
	"os"
	"time"

	"github.com/playgroundx/settlement/internal/config"
	"github.com/playgroundx/settlement/internal/migration"
	"github.com/playgroundx/settlement/internal/observability"
	"github.com/playgroundx/settlement/pkg/db"
	"go.uber.org/fx"
)

// migrate applies pending schema migrations and exits.
func main() {
	app := fx.New(
		config.Module,
		fx.Decorate(func(cfg config.Config) config.Config {
			cfg.RunMigrations = true
			return cfg
		}),
		observability.Module,
		db.Module,
		migration.Module,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		os.Exit(1)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		os.Exit(1)
	}
}
