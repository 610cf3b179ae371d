package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"compliance-controlplane/pkg/config"
	"compliance-controlplane/pkg/errutil"
	"compliance-controlplane/services/alert"
	"compliance-controlplane/services/notify"
	"compliance-controlplane/services/organization"
	"compliance-controlplane/services/record"
	"compliance-controlplane/services/testutil"
	"compliance-controlplane/services/usage"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubProvider struct{ calls int }

func (p *stubProvider) Send(ctx context.Context, channel alert.Channel, recipient, body string) (string, error) {
	p.calls++
	return "SM0001", nil
}

type fixture struct {
	db       *gorm.DB
	orgs     *organization.Service
	provider *stubProvider
	svc      *Service
}

func newFixture(t *testing.T, budget time.Duration) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t,
		&organization.Organization{}, &organization.Member{},
		&record.MedicalExam{}, &record.SafetyEquipment{},
		&record.TrainingCertification{}, &record.RegulatoryDeadline{},
		&alert.Alert{}, &alert.AlertLog{}, &alert.AlertConfiguration{},
		&BatchJob{}, &usage.UsageReport{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Scan.Budget = budget

	orgs := organization.NewService(organization.ServiceParams{DB: db, Node: node})
	store := alert.NewStore(db, node)
	alerts := alert.NewService(alert.ServiceParams{
		DB:       db,
		Store:    store,
		Registry: alert.DefaultRegistry(db),
		Orgs:     orgs,
	})
	provider := &stubProvider{}
	dispatcher := notify.NewDispatcher(notify.DispatcherParams{
		DB: db, Node: node, Orgs: orgs, Store: store, Provider: provider,
	})
	usageSvc := usage.NewService(usage.ServiceParams{DB: db, Node: node})

	svc := NewService(ServiceParams{
		Config:     cfg,
		DB:         db,
		Node:       node,
		Alerts:     alerts,
		Dispatcher: dispatcher,
		Usage:      usageSvc,
		Orgs:       orgs,
	})
	return &fixture{db: db, orgs: orgs, provider: provider, svc: svc}
}

func (f *fixture) seedOrgWithRecords(t *testing.T) *organization.Organization {
	t.Helper()
	org, err := f.orgs.Create(context.Background(), "Alpha SRL", "RO", "Europe/Bucharest")
	require.NoError(t, err)

	in5 := time.Now().AddDate(0, 0, 5)
	require.NoError(t, f.db.Create(&record.MedicalExam{
		ID: "exam-1", OrganizationID: org.ID, EmployeeName: "Ion Popescu", ExpiryDate: &in5,
	}).Error)
	require.NoError(t, f.db.Create(&record.SafetyEquipment{
		ID: "eq-1", OrganizationID: org.ID, Name: "Extinguisher",
	}).Error)
	return org
}

func TestEnqueueRejectsUnknownJobType(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.svc.Enqueue(context.Background(), ScopeAll, "vehicle_inspection", "tester")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
}

func TestEnqueueDefaultsScope(t *testing.T) {
	f := newFixture(t, time.Minute)

	job, err := f.svc.Enqueue(context.Background(), "", JobAlertGeneration, "tester")
	require.NoError(t, err)
	require.Equal(t, ScopeAll, job.Scope)
	require.Equal(t, StatusPending, job.Status)
	require.NotEmpty(t, job.ID)
}

func TestEnqueueUnknownOrgScope(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.svc.Enqueue(context.Background(), "no-such-org", JobAlertGeneration, "tester")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestRunAlertGeneration(t *testing.T) {
	f := newFixture(t, time.Minute)
	org := f.seedOrgWithRecords(t)
	ctx := context.Background()

	job, err := f.svc.Enqueue(ctx, org.ID, JobAlertGeneration, "tester")
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, job.ID))

	view, err := f.svc.Status(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, view.Status)
	require.Equal(t, 1, view.ItemsTotal)
	require.Equal(t, 1, view.ItemsProcessed)
	require.Equal(t, 100, view.ProgressPct)
	require.NotNil(t, view.StartedAt)
	require.NotNil(t, view.CompletedAt)

	var alerts []alert.Alert
	require.NoError(t, f.db.Where("organization_id = ?", org.ID).Find(&alerts).Error)
	require.Len(t, alerts, 2)
}

func TestRunSingleTypeCheck(t *testing.T) {
	f := newFixture(t, time.Minute)
	org := f.seedOrgWithRecords(t)
	ctx := context.Background()

	job, err := f.svc.Enqueue(ctx, org.ID, JobMedicalCheck, "tester")
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, job.ID))

	var alerts []alert.Alert
	require.NoError(t, f.db.Find(&alerts).Error)
	// the equipment with the missing date is out of scope for a medical check
	require.Len(t, alerts, 1)
	require.Equal(t, alert.TypeMedicalExam, alerts[0].AlertType)
}

func TestRunOnlyFromPending(t *testing.T) {
	f := newFixture(t, time.Minute)
	org := f.seedOrgWithRecords(t)
	ctx := context.Background()

	job, err := f.svc.Enqueue(ctx, org.ID, JobAlertGeneration, "tester")
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, job.ID))

	// A done job never runs twice.
	err = f.svc.Run(ctx, job.ID)
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	view, err := f.svc.Status(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, view.Status)
	require.Equal(t, 1, view.ItemsProcessed)
}

func TestRunNotificationDispatch(t *testing.T) {
	f := newFixture(t, time.Minute)
	org := f.seedOrgWithRecords(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&organization.Member{
		ID: "m-1", OrganizationID: org.ID, UserID: "u-1",
		Role: "consultant", Phone: "0721234567", ReceiveAlerts: true,
	}).Error)

	scan, err := f.svc.Enqueue(ctx, org.ID, JobAlertGeneration, "tester")
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, scan.ID))

	dispatch, err := f.svc.Enqueue(ctx, org.ID, JobNotificationDispatch, "tester")
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, dispatch.ID))

	require.Equal(t, 2, f.provider.calls)

	var logs int64
	require.NoError(t, f.db.Model(&alert.AlertLog{}).Count(&logs).Error)
	require.EqualValues(t, 2, logs)
}

func TestRunUsageRollup(t *testing.T) {
	f := newFixture(t, time.Minute)
	org := f.seedOrgWithRecords(t)
	ctx := context.Background()

	scan, err := f.svc.Enqueue(ctx, org.ID, JobAlertGeneration, "tester")
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, scan.ID))

	rollup, err := f.svc.Enqueue(ctx, org.ID, JobUsageRollup, "tester")
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, rollup.ID))

	var report usage.UsageReport
	require.NoError(t, f.db.First(&report, "organization_id = ?", org.ID).Error)
	require.Equal(t, usage.Period(time.Now()), report.Period)
	require.EqualValues(t, 2, report.AlertsCreated)
}

func TestRetryOnlyFromFailed(t *testing.T) {
	f := newFixture(t, time.Minute)
	org := f.seedOrgWithRecords(t)
	ctx := context.Background()

	job, err := f.svc.Enqueue(ctx, org.ID, JobAlertGeneration, "tester")
	require.NoError(t, err)

	_, err = f.svc.Retry(ctx, job.ID, "tester")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	require.NoError(t, f.db.Model(&BatchJob{}).
		Where("id = ?", job.ID).
		Update("status", StatusFailed).Error)

	retry, err := f.svc.Retry(ctx, job.ID, "tester")
	require.NoError(t, err)
	require.Equal(t, StatusPending, retry.Status)
	require.Equal(t, job.ID, retry.RetryOf)
	require.NotEqual(t, job.ID, retry.ID)

	// The failed attempt stays in history untouched.
	var original BatchJob
	require.NoError(t, f.db.First(&original, "id = ?", job.ID).Error)
	require.Equal(t, StatusFailed, original.Status)
}

func TestRetryUnknownJob(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.svc.Retry(context.Background(), "missing", "tester")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestRunAllScopeStoreFailureFailsJob(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	job, err := f.svc.Enqueue(ctx, ScopeAll, JobAlertGeneration, "tester")
	require.NoError(t, err)

	// The organization directory vanishes before the run: resolving the
	// "all" scope is part of the loop setup, so the job must fail, not end
	// done having scanned nothing.
	require.NoError(t, f.db.Migrator().DropTable(&organization.Organization{}))

	err = f.svc.Run(ctx, job.ID)
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusInternal, be.Status())

	view, statusErr := f.svc.Status(ctx, job.ID)
	require.NoError(t, statusErr)
	require.Equal(t, StatusFailed, view.Status)
	require.NotNil(t, view.CompletedAt)
	require.Contains(t, string(view.Errors), "list organizations")

	// A failed setup leaves the job on the normal retry path.
	retry, err := f.svc.Retry(ctx, job.ID, "tester")
	require.NoError(t, err)
	require.Equal(t, StatusPending, retry.Status)
	require.Equal(t, job.ID, retry.RetryOf)
}

func TestRunBlownBudgetFailsJob(t *testing.T) {
	f := newFixture(t, time.Nanosecond)
	org := f.seedOrgWithRecords(t)
	ctx := context.Background()

	job, err := f.svc.Enqueue(ctx, org.ID, JobAlertGeneration, "tester")
	require.NoError(t, err)

	err = f.svc.Run(ctx, job.ID)
	require.Error(t, err)

	view, statusErr := f.svc.Status(ctx, job.ID)
	require.NoError(t, statusErr)
	require.Equal(t, StatusFailed, view.Status)
	require.NotNil(t, view.CompletedAt)
	require.NotEmpty(t, view.Errors)
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Enqueue(ctx, ScopeAll, JobAlertGeneration, "tester")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	views, err := f.svc.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, views, 3)
	require.True(t, !views[0].CreatedAt.Before(views[1].CreatedAt))

	scoped, err := f.svc.List(ctx, "other-scope", 0)
	require.NoError(t, err)
	require.Empty(t, scoped)
}

func TestStuckJobs(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.db.Create(&BatchJob{
		ID: "stuck-1", Scope: ScopeAll, JobType: JobAlertGeneration,
		Status: StatusRunning, StartedAt: &old, CreatedAt: old,
	}).Error)

	jobs, err := f.svc.StuckJobs(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "stuck-1", jobs[0].ID)

	jobs, err = f.svc.StuckJobs(ctx, 3*time.Hour)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestViewProgress(t *testing.T) {
	started := time.Now().Add(-10 * time.Second)
	completed := time.Now()

	v := view(BatchJob{Status: StatusRunning, ItemsTotal: 3, ItemsProcessed: 1, StartedAt: &started})
	require.Equal(t, 33, v.ProgressPct)

	v = view(BatchJob{Status: StatusDone, ItemsTotal: 0, StartedAt: &started, CompletedAt: &completed})
	require.Equal(t, 100, v.ProgressPct)
	require.InDelta(t, 10, v.DurationSeconds, 1)

	v = view(BatchJob{Status: StatusPending})
	require.Zero(t, v.ProgressPct)
	require.Zero(t, v.DurationSeconds)
}
