package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	pkgasynq "compliance-controlplane/pkg/asynq"
	"compliance-controlplane/pkg/config"
	"compliance-controlplane/pkg/errutil"
	"compliance-controlplane/services/alert"
	"compliance-controlplane/services/notify"
	"compliance-controlplane/services/organization"
	"compliance-controlplane/services/usage"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// alertTypesFor maps check jobs onto the scanner types they cover. An empty
// slice means every registered scanner.
func alertTypesFor(t JobType) []string {
	switch t {
	case JobMedicalCheck:
		return []string{alert.TypeMedicalExam}
	case JobSafetyEquipmentCheck:
		return []string{alert.TypeSafetyEquipment}
	case JobTrainingCheck:
		return []string{alert.TypeTrainingCert}
	case JobRegulatoryDeadlineCheck:
		return []string{alert.TypeRegulatoryDeadline}
	default:
		return nil
	}
}

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	client     *asynq.Client
	alerts     *alert.Service
	dispatcher *notify.Dispatcher
	usage      *usage.Service
	orgs       *organization.Service
	budget     time.Duration
}

type ServiceParams struct {
	fx.In
	Config     *config.Config
	DB         *gorm.DB
	Node       *snowflake.Node
	Client     *asynq.Client `optional:"true"`
	Alerts     *alert.Service
	Dispatcher *notify.Dispatcher
	Usage      *usage.Service
	Orgs       *organization.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		client:     p.Client,
		alerts:     p.Alerts,
		dispatcher: p.Dispatcher,
		usage:      p.Usage,
		orgs:       p.Orgs,
		budget:     p.Config.Scan.Budget,
	}
}

// Enqueue persists a pending job and hands it to the queue. Without a queue
// client the row still lands; callers such as the cron endpoints then run it
// inline.
func (s *Service) Enqueue(ctx context.Context, scope string, jobType JobType, createdBy string) (*BatchJob, error) {
	job, err := s.create(ctx, scope, jobType, createdBy)
	if err != nil {
		return nil, err
	}

	if err := s.dispatch(ctx, job.ID); err != nil {
		return nil, err
	}

	return job, nil
}

// RunInline creates a job and executes it in the caller's request, bypassing
// the queue. Used by the cron endpoints, whose invocations are already
// bounded by the scan budget.
func (s *Service) RunInline(ctx context.Context, scope string, jobType JobType, createdBy string) (*JobView, error) {
	job, err := s.create(ctx, scope, jobType, createdBy)
	if err != nil {
		return nil, err
	}

	runErr := s.Run(ctx, job.ID)

	view, err := s.Status(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return view, runErr
}

func (s *Service) create(ctx context.Context, scope string, jobType JobType, createdBy string) (*BatchJob, error) {
	if !jobType.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown job type %q", jobType))
	}
	if scope == "" {
		scope = ScopeAll
	}
	if scope != ScopeAll {
		if _, err := s.orgs.Get(ctx, scope); err != nil {
			return nil, err
		}
	}

	job := &BatchJob{
		ID:        s.node.Generate().String(),
		Scope:     scope,
		JobType:   jobType,
		Status:    StatusPending,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}

	return job, nil
}

func (s *Service) dispatch(ctx context.Context, jobID string) error {
	if s.client == nil {
		return nil
	}
	payload, err := json.Marshal(pkgasynq.BatchRunPayload{JobID: jobID})
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(pkgasynq.BatchRunTask, payload))
	return err
}

// Run executes one job end to end. Only a pending job can start; the
// conditional update is what keeps two workers off the same row. The
// reference clock is captured once here and shared by every item.
func (s *Service) Run(ctx context.Context, jobID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&BatchJob{}).
		Where("id = ? AND status = ?", jobID, StatusPending).
		Updates(map[string]any{
			"status":     StatusRunning,
			"started_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict(fmt.Sprintf("job %s is not pending", jobID))
	}

	var job BatchJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return err
	}

	runCtx := ctx
	if s.budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	runErrs, runErr := s.runItems(runCtx, ctx, &job, now)
	if runErr == nil {
		runErr = runCtx.Err()
	}

	return s.finish(ctx, &job, runErrs, runErr)
}

// runItems walks the (organization, work) grid, persisting progress after
// every item so a later status read reflects partial completion. Per-org
// failures are accumulated and the loop continues; anything failing outside
// that boundary (scope resolution, store writes) is returned as an error and
// fails the job.
func (s *Service) runItems(ctx, persistCtx context.Context, job *BatchJob, now time.Time) ([]string, error) {
	errs := make([]string, 0)

	orgIDs := []string{job.Scope}
	if job.Scope == ScopeAll {
		ids, err := s.orgs.ListActiveIDs(ctx)
		if err != nil {
			return errs, fmt.Errorf("list organizations: %w", err)
		}
		orgIDs = ids
	}

	total := len(orgIDs)
	if err := s.db.WithContext(persistCtx).
		Model(&BatchJob{}).
		Where("id = ?", job.ID).
		UpdateColumn("items_total", total).Error; err != nil {
		return errs, fmt.Errorf("persist items_total: %w", err)
	}
	job.ItemsTotal = total

	alertTypes := alertTypesFor(job.JobType)

	for _, orgID := range orgIDs {
		if ctx.Err() != nil {
			break
		}

		var err error
		switch job.JobType {
		case JobNotificationDispatch:
			_, err = s.dispatcher.DispatchOrg(ctx, orgID)
		case JobUsageRollup:
			_, err = s.usage.Rollup(ctx, orgID, usage.Period(now))
		default:
			_, err = s.alerts.GenerateForOrg(ctx, orgID, now, alertTypes)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("org %s: %v", orgID, err))
		}

		job.ItemsProcessed++
		if err := s.db.WithContext(persistCtx).
			Model(&BatchJob{}).
			Where("id = ?", job.ID).
			UpdateColumn("items_processed", job.ItemsProcessed).Error; err != nil {
			return errs, fmt.Errorf("persist progress: %w", err)
		}
	}

	return errs, nil
}

// finish moves the row to its terminal status. Per-item failures still end in
// done; done means the scan loop itself ran to completion, so a blown budget,
// cancellation or a failure outside the per-org boundary fails the job.
func (s *Service) finish(ctx context.Context, job *BatchJob, runErrs []string, runErr error) error {
	status := StatusDone
	if runErr != nil {
		status = StatusFailed
		runErrs = append(runErrs, fmt.Sprintf("run aborted: %v", runErr))
	}

	updates := map[string]any{
		"status":       status,
		"completed_at": time.Now(),
	}
	if len(runErrs) > 0 {
		raw, err := json.Marshal(runErrs)
		if err != nil {
			return err
		}
		updates["errors"] = datatypes.JSON(raw)
	}

	if err := s.db.WithContext(ctx).
		Model(&BatchJob{}).
		Where("id = ?", job.ID).
		Updates(updates).Error; err != nil {
		return err
	}

	zap.L().Info("batch job finished",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.JobType)),
		zap.String("status", string(status)),
		zap.Int("items_processed", job.ItemsProcessed),
		zap.Int("errors", len(runErrs)),
	)

	if status == StatusFailed {
		return errutil.Internal("batch job failed", errutil.WithErr(runErr))
	}
	return nil
}

// Status returns one job with computed duration and progress.
func (s *Service) Status(ctx context.Context, jobID string) (*JobView, error) {
	var job BatchJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound(fmt.Sprintf("job %s not found", jobID))
		}
		return nil, err
	}
	v := view(job)
	return &v, nil
}

// List returns recent jobs, newest first, optionally filtered by scope.
func (s *Service) List(ctx context.Context, scope string, limit int) ([]JobView, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Model(&BatchJob{}).Order("created_at DESC").Limit(limit)
	if scope != "" {
		q = q.Where("scope = ?", scope)
	}

	var jobs []BatchJob
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}

	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, view(j))
	}
	return views, nil
}

// Retry creates a fresh pending attempt for a failed job. Terminal done jobs
// and live jobs stay untouched.
func (s *Service) Retry(ctx context.Context, jobID, createdBy string) (*BatchJob, error) {
	var job BatchJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound(fmt.Sprintf("job %s not found", jobID))
		}
		return nil, err
	}
	if job.Status != StatusFailed {
		return nil, errutil.Conflict(fmt.Sprintf("job %s is %s, only failed jobs can be retried", jobID, job.Status))
	}

	retry := &BatchJob{
		ID:        s.node.Generate().String(),
		Scope:     job.Scope,
		JobType:   job.JobType,
		Status:    StatusPending,
		Payload:   job.Payload,
		CreatedBy: createdBy,
		RetryOf:   job.ID,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(retry).Error; err != nil {
		return nil, err
	}

	if err := s.dispatch(ctx, retry.ID); err != nil {
		return nil, err
	}

	return retry, nil
}

// StuckJobs lists running jobs older than the cutoff; surfaced for operators,
// never auto-killed.
func (s *Service) StuckJobs(ctx context.Context, olderThan time.Duration) ([]BatchJob, error) {
	cutoff := time.Now().Add(-olderThan)
	var jobs []BatchJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", StatusRunning, cutoff).
		Find(&jobs).Error
	return jobs, err
}

// HandleBatchRunTask is the worker-side entry point for queued jobs.
func (s *Service) HandleBatchRunTask(ctx context.Context, task *asynq.Task) error {
	var payload pkgasynq.BatchRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Type(), err)
	}
	return s.Run(ctx, payload.JobID)
}

func view(job BatchJob) JobView {
	v := JobView{BatchJob: job}

	if job.StartedAt != nil {
		end := time.Now()
		if job.CompletedAt != nil {
			end = *job.CompletedAt
		}
		v.DurationSeconds = end.Sub(*job.StartedAt).Seconds()
	}

	switch {
	case job.Status == StatusDone && job.ItemsTotal == 0:
		v.ProgressPct = 100
	case job.ItemsTotal > 0:
		v.ProgressPct = int(math.Round(float64(job.ItemsProcessed) / float64(job.ItemsTotal) * 100))
	}

	return v
}
