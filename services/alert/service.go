package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"compliance-controlplane/pkg/rediskey"
	"compliance-controlplane/services/organization"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const statsCacheTTL = 60 * time.Second

type Service struct {
	db       *gorm.DB
	store    *Store
	registry *Registry
	orgs     *organization.Service
	redis    *redis.Client
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Store    *Store
	Registry *Registry
	Orgs     *organization.Service
	Redis    *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		store:    p.Store,
		registry: p.Registry,
		orgs:     p.Orgs,
		redis:    p.Redis,
	}
}

// Summary aggregates a generate invocation across organizations.
type Summary struct {
	Generated int      `json:"generated"`
	Skipped   int      `json:"skipped"`
	Resolved  int      `json:"resolved"`
	Escalated int      `json:"escalated"`
	Errors    []string `json:"errors"`
}

// GenerateForOrg runs one scan pass for one organization. alertTypes empty
// means every registered scanner. The reference clock is the caller's: it is
// captured once per run, never re-read per row.
func (s *Service) GenerateForOrg(ctx context.Context, orgID string, today time.Time, alertTypes []string) (SyncResult, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("organization_id", orgID),
	)

	cfg, err := s.store.GetConfig(ctx, orgID)
	if err != nil {
		return SyncResult{}, err
	}
	thresholds := cfg.Thresholds()

	scanners := s.registry.All()
	if len(alertTypes) > 0 {
		scanners = scanners[:0:0]
		for _, t := range alertTypes {
			sc, ok := s.registry.Get(t)
			if !ok {
				return SyncResult{}, fmt.Errorf("unknown alert type %q", t)
			}
			scanners = append(scanners, sc)
		}
	}

	var total SyncResult
	for _, scanner := range scanners {
		candidates, err := scanner.ListCandidates(ctx, orgID, today, thresholds)
		if err != nil {
			return total, fmt.Errorf("scan %s: %w", scanner.AlertType(), err)
		}

		res, err := s.store.Sync(ctx, orgID, scanner.AlertType(), candidates)
		if err != nil {
			return total, fmt.Errorf("sync %s: %w", scanner.AlertType(), err)
		}

		total.Created += res.Created
		total.Updated += res.Updated
		total.Escalated += res.Escalated
		total.Resolved += res.Resolved
	}

	zapLog.Info("alert scan pass finished",
		zap.Int("created", total.Created),
		zap.Int("updated", total.Updated),
		zap.Int("escalated", total.Escalated),
		zap.Int("resolved", total.Resolved),
	)

	s.invalidateStats(ctx, orgID)

	return total, nil
}

// Generate scans one organization or, with an empty id, every active one.
// Per-organization failures are accumulated; the remaining organizations
// still run.
func (s *Service) Generate(ctx context.Context, orgID string, today time.Time) (Summary, error) {
	var summary Summary
	summary.Errors = make([]string, 0)

	scope := []string{orgID}
	if orgID == "" {
		ids, err := s.orgs.ListActiveIDs(ctx)
		if err != nil {
			return summary, err
		}
		scope = ids
	} else {
		if _, err := s.orgs.Get(ctx, orgID); err != nil {
			return summary, err
		}
	}

	for _, id := range scope {
		res, err := s.GenerateForOrg(ctx, id, today, nil)
		summary.Generated += res.Created
		summary.Skipped += res.Updated
		summary.Escalated += res.Escalated
		summary.Resolved += res.Resolved
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("org %s: %v", id, err))
			continue
		}
	}

	return summary, nil
}

// Stats is a per-organization count of active alerts by severity and type.
type Stats struct {
	OrganizationID string         `json:"organization_id"`
	Total          int64          `json:"total"`
	BySeverity     map[string]int64 `json:"by_severity"`
	ByType         map[string]int64 `json:"by_type"`
}

func (s *Service) Stats(ctx context.Context, orgID string) (*Stats, error) {
	if s.redis != nil {
		key := rediskey.BuildAlertStatsKey(orgID)
		if raw, err := s.redis.Get(ctx, key).Bytes(); err == nil {
			var cached Stats
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	stats := &Stats{
		OrganizationID: orgID,
		BySeverity:     make(map[string]int64),
		ByType:         make(map[string]int64),
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var bySeverity []bucket
	if err := s.db.WithContext(ctx).
		Model(&Alert{}).
		Select("severity AS key, COUNT(*) AS count").
		Where("organization_id = ? AND status IN ?", orgID, ActiveStatuses).
		Group("severity").
		Scan(&bySeverity).Error; err != nil {
		return nil, err
	}
	for _, b := range bySeverity {
		stats.BySeverity[b.Key] = b.Count
		stats.Total += b.Count
	}

	var byType []bucket
	if err := s.db.WithContext(ctx).
		Model(&Alert{}).
		Select("alert_type AS key, COUNT(*) AS count").
		Where("organization_id = ? AND status IN ?", orgID, ActiveStatuses).
		Group("alert_type").
		Scan(&byType).Error; err != nil {
		return nil, err
	}
	for _, b := range byType {
		stats.ByType[b.Key] = b.Count
	}

	if s.redis != nil {
		if raw, err := json.Marshal(stats); err == nil {
			s.redis.Set(ctx, rediskey.BuildAlertStatsKey(orgID), raw, statsCacheTTL)
		}
	}

	return stats, nil
}

func (s *Service) invalidateStats(ctx context.Context, orgID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, rediskey.BuildAlertStatsKey(orgID)).Err(); err != nil {
		zap.L().Debug("failed to invalidate stats cache", zap.String("organization_id", orgID), zap.Error(err))
	}
}
