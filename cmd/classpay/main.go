package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classpay/internal/clock"
	"github.com/smallbiznis/classpay/internal/config"
	"github.com/smallbiznis/classpay/internal/migration"
	"github.com/smallbiznis/classpay/internal/observability"
	"github.com/smallbiznis/classpay/internal/scheduler"
	"github.com/smallbiznis/classpay/internal/server"
	"github.com/smallbiznis/classpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// HTTP surface and domain services
		server.Module,

		// Background jobs
		scheduler.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
