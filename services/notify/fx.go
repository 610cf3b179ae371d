package notify

import (
	"go.uber.org/fx"
)

var Module = fx.Module("notify.module",
	fx.Provide(
		NewProvider,
		NewDispatcher,
		NewReconciler,
	),
)

var Server = fx.Module("notify.server",
	Module,
	fx.Invoke(RegisterRoutes),
)
