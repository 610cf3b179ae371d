package alert

import (
	"compliance-controlplane/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("alert.module",
	fx.Provide(
		newConfiguredStore,
		DefaultRegistry,
		NewService,
	),
)

// newConfiguredStore lets deployment config override the platform threshold
// fallbacks used by organizations without an alert_configurations row.
func newConfiguredStore(cfg *config.Config, db *gorm.DB, node *snowflake.Node) *Store {
	s := NewStore(db, node)
	if cfg.Alerting.UrgentThresholdDays > 0 {
		s.fallback.UrgentDays = cfg.Alerting.UrgentThresholdDays
	}
	if cfg.Alerting.WarningThresholdDays > 0 {
		s.fallback.WarningDays = cfg.Alerting.WarningThresholdDays
	}
	return s
}

var Server = fx.Module("alert.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Alert{}, &AlertLog{}, &AlertConfiguration{}}
}
