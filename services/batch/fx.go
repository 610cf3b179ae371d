package batch

import (
	pkgasynq "compliance-controlplane/pkg/asynq"
	"compliance-controlplane/pkg/config"
	"compliance-controlplane/pkg/middleware"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

type RouteParams struct {
	fx.In
	Config   *config.Config
	Resolver middleware.IdentityResolver
	Service  *Service
}

var Module = fx.Module("batch.module",
	fx.Provide(
		NewService,
	),
)

var Server = fx.Module("batch.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

// Worker runs the queue consumer side: the task handler plus the daily
// scheduler loop.
var Worker = fx.Module("batch.worker",
	Module,
	fx.Provide(NewScheduler),
	fx.Invoke(registerTaskHandlers),
	fx.Invoke(StartScheduler),
)

func registerTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(pkgasynq.BatchRunTask, svc.HandleBatchRunTask)
}

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&BatchJob{}}
}
