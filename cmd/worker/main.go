package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	pkgasynq "compliance-controlplane/pkg/asynq"
	"compliance-controlplane/pkg/config"
	"compliance-controlplane/pkg/db"
	"compliance-controlplane/pkg/logger"
	"compliance-controlplane/pkg/redis"
	"compliance-controlplane/services/alert"
	"compliance-controlplane/services/batch"
	"compliance-controlplane/services/notify"
	"compliance-controlplane/services/organization"
	"compliance-controlplane/services/usage"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		pkgasynq.Client,
		pkgasynq.Server,
		fx.Provide(provideSnowflakeNode),
		organization.Module,
		alert.Module,
		notify.Module,
		usage.Module,
		batch.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
