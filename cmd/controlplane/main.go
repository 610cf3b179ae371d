package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	pkgasynq "compliance-controlplane/pkg/asynq"
	"compliance-controlplane/pkg/config"
	"compliance-controlplane/pkg/db"
	"compliance-controlplane/pkg/health"
	"compliance-controlplane/pkg/logger"
	"compliance-controlplane/pkg/redis"
	"compliance-controlplane/pkg/server"
	"compliance-controlplane/services/alert"
	"compliance-controlplane/services/batch"
	"compliance-controlplane/services/notify"
	"compliance-controlplane/services/organization"
	"compliance-controlplane/services/record"
	"compliance-controlplane/services/usage"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		pkgasynq.Client,
		health.Module,
		server.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(
			migrate,
			registerHealthRoutes,
		),
		organization.Module,
		alert.Server,
		notify.Server,
		batch.Server,
		usage.Server,
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

func migrate(gdb *gorm.DB) error {
	models := make([]any, 0)
	models = append(models, organization.Models()...)
	models = append(models, record.Models()...)
	models = append(models, alert.Models()...)
	models = append(models, batch.Models()...)
	models = append(models, usage.Models()...)
	return gdb.AutoMigrate(models...)
}

func registerHealthRoutes(engine *gin.Engine, svc health.HealthService) {
	engine.GET("/healthz", svc.Liveness)
	engine.GET("/readyz", svc.Readiness)
}
