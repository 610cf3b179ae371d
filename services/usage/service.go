package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"compliance-controlplane/pkg/errutil"
	"compliance-controlplane/pkg/middleware"
	"compliance-controlplane/pkg/rediskey"
	"compliance-controlplane/services/alert"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const reportCacheTTL = 5 * time.Minute

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	redis *redis.Client
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Redis *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node, redis: p.Redis}
}

// Period formats a reference time as the rollup period key.
func Period(t time.Time) string {
	return t.Format("2006-01")
}

func periodBounds(period string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", period)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 1, 0), nil
}

// Rollup recomputes one organization's monthly report. The upsert keys on
// (organization, period) so re-running a rollup converges instead of
// duplicating rows.
func (s *Service) Rollup(ctx context.Context, orgID, period string) (*UsageReport, error) {
	start, end, err := periodBounds(period)
	if err != nil {
		return nil, errutil.BadRequest("invalid period, expected YYYY-MM", errutil.WithErr(err))
	}

	report := UsageReport{
		ID:             s.node.Generate().String(),
		OrganizationID: orgID,
		Period:         period,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	if err := s.db.WithContext(ctx).
		Model(&alert.Alert{}).
		Where("organization_id = ? AND created_at >= ? AND created_at < ?", orgID, start, end).
		Count(&report.AlertsCreated).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(&alert.Alert{}).
		Where("organization_id = ? AND status = ? AND updated_at >= ? AND updated_at < ?",
			orgID, alert.StatusResolved, start, end).
		Count(&report.AlertsResolved).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(&alert.AlertLog{}).
		Where("organization_id = ? AND created_at >= ? AND created_at < ? AND delivery_status <> ?",
			orgID, start, end, alert.DeliveryFailed).
		Count(&report.NotificationsSent).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(&alert.AlertLog{}).
		Where("organization_id = ? AND created_at >= ? AND created_at < ? AND delivery_status = ?",
			orgID, start, end, alert.DeliveryFailed).
		Count(&report.NotificationsFailed).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Model(&alert.AlertLog{}).
		Where("organization_id = ? AND acknowledged = ? AND acknowledged_at >= ? AND acknowledged_at < ?",
			orgID, true, start, end).
		Count(&report.NotificationsAcked).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "organization_id"}, {Name: "period"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"alerts_created", "alerts_resolved",
				"notifications_sent", "notifications_failed", "notifications_acked",
				"updated_at",
			}),
		}).
		Create(&report).Error; err != nil {
		return nil, err
	}

	zap.L().Info("usage rollup computed",
		zap.String("organization_id", orgID),
		zap.String("period", period),
		zap.Int64("alerts_created", report.AlertsCreated),
	)

	if s.redis != nil {
		if raw, err := json.Marshal(&report); err == nil {
			s.redis.Set(ctx, rediskey.BuildUsageReportKey(orgID, period), raw, reportCacheTTL)
		}
	}

	return &report, nil
}

func (s *Service) cachedReport(ctx context.Context, orgID, period string) *UsageReport {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, rediskey.BuildUsageReportKey(orgID, period)).Bytes()
	if err != nil {
		return nil
	}
	var report UsageReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil
	}
	return &report
}

// ReportsHandler serves GET /usage/reports?organization_id=&period=.
func (s *Service) ReportsHandler(c *gin.Context) {
	orgID := c.Query("organization_id")
	if id := middleware.GetIdentity(c); id != nil && id.Role != middleware.RoleSuperAdmin {
		orgID = id.OrganizationID
	}
	if orgID == "" {
		_ = c.Error(errutil.BadRequest("organization_id is required"))
		return
	}

	q := s.db.WithContext(c.Request.Context()).Where("organization_id = ?", orgID)
	if period := c.Query("period"); period != "" {
		if cached := s.cachedReport(c.Request.Context(), orgID, period); cached != nil {
			c.JSON(http.StatusOK, gin.H{"reports": []UsageReport{*cached}})
			return
		}
		q = q.Where("period = ?", period)
	}

	var reports []UsageReport
	if err := q.Order("period DESC").Find(&reports).Error; err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports})
}
