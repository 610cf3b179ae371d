package batch

import (
	"context"
	"time"

	"compliance-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scheduler enqueues the daily compliance sweep: one alert-generation job per
// active organization, then a platform-wide notification dispatch.
type Scheduler struct {
	service *Service
	hour    int
}

func NewScheduler(cfg *config.Config, svc *Service) *Scheduler {
	return &Scheduler{service: svc, hour: cfg.Scan.DailyRunHour}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	stop := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(stop)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			return nil
		},
	})
}

func (s *Scheduler) run(stop <-chan struct{}) {
	zap.L().Info("[Scheduler] started daily compliance scheduler", zap.Int("run_hour", s.hour))

	for {
		now := time.Now()
		next := nextRunTime(now, s.hour, 0)

		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)
		select {
		case <-time.After(next.Sub(now)):
			s.runDaily(context.Background())
		case <-stop:
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] running daily compliance sweep")

	if err := s.EnqueueAllOrgScans(ctx); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue daily scans", zap.Error(err))
		return
	}

	if _, err := s.service.Enqueue(ctx, ScopeAll, JobNotificationDispatch, "scheduler"); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue notification dispatch", zap.Error(err))
	}

	zap.L().Info("[Scheduler] finished daily enqueue", zap.Duration("duration", time.Since(start)))
}

// EnqueueAllOrgScans creates one alert-generation job per active organization
// so that a slow tenant never starves the rest of the fleet.
func (s *Scheduler) EnqueueAllOrgScans(ctx context.Context) error {
	ids, err := s.service.orgs.ListActiveIDs(ctx)
	if err != nil {
		return err
	}

	g := errgroup.Group{}
	g.SetLimit(4)
	for _, orgID := range ids {
		g.Go(func() error {
			if _, err := s.service.Enqueue(ctx, orgID, JobAlertGeneration, "scheduler"); err != nil {
				zap.L().Error("[Scheduler] failed enqueue scan",
					zap.String("organization_id", orgID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("[Scheduler] enqueued org scans", zap.Int("organizations", len(ids)))
	return nil
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
