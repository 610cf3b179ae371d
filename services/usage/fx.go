package usage

import (
	"compliance-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func RegisterRoutes(engine *gin.Engine, resolver middleware.IdentityResolver, svc *Service) {
	engine.GET("/usage/reports",
		middleware.RequireRole(resolver, middleware.RoleConsultant, middleware.RoleConsultantSSM, middleware.RoleSuperAdmin),
		svc.ReportsHandler,
	)
}

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&UsageReport{}}
}

var Module = fx.Module("usage.module",
	fx.Provide(
		NewService,
	),
)

var Server = fx.Module("usage.server",
	Module,
	fx.Invoke(RegisterRoutes),
)
