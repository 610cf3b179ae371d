package alert

import (
	"context"
	"testing"
	"time"

	"compliance-controlplane/services/record"
	"compliance-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.NewTestDB(t, &Alert{}, &AlertConfiguration{}, &record.MedicalExam{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewStore(db, node)
}

func candidate(org, entityID string, severity Severity, expiry *time.Time) Candidate {
	return Candidate{
		OrganizationID:   org,
		AlertType:        TypeMedicalExam,
		SourceEntityType: record.EntityMedicalExam,
		SourceEntityID:   entityID,
		ExpiryDate:       expiry,
		Severity:         severity,
	}
}

func TestSyncCreatesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := date(2026, time.March, 20)

	res, err := s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityUrgent, &expiry),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	// Re-running the same pass refreshes in place instead of duplicating.
	res, err = s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityUrgent, &expiry),
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Created)
	require.Equal(t, 1, res.Updated)

	var count int64
	require.NoError(t, s.db.Model(&Alert{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSyncEscalates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in10 := date(2026, time.March, 25)
	_, err := s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityWarning, &in10),
	})
	require.NoError(t, err)

	// Days pass and the same entity now classifies as urgent.
	in3 := date(2026, time.March, 25)
	res, err := s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityUrgent, &in3),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Escalated)

	var row Alert
	require.NoError(t, s.db.First(&row, "source_entity_id = ?", "exam-1").Error)
	require.Equal(t, SeverityUrgent, row.Severity)
	require.Equal(t, StatusPending, row.Status)
}

func TestSyncResolvesStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := date(2026, time.March, 20)

	_, err := s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityUrgent, &expiry),
		candidate("org-1", "exam-2", SeverityUrgent, &expiry),
	})
	require.NoError(t, err)

	// exam-2's record was renewed: it no longer yields a candidate, so its
	// alert self-heals to resolved.
	res, err := s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityUrgent, &expiry),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Resolved)

	var row Alert
	require.NoError(t, s.db.First(&row, "source_entity_id = ?", "exam-2").Error)
	require.Equal(t, StatusResolved, row.Status)
	require.Nil(t, row.ActiveKey)

	// A resolved alert frees the active key; a later recurrence creates a
	// fresh row.
	res, err = s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityUrgent, &expiry),
		candidate("org-1", "exam-2", SeverityExpired, &expiry),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	var count int64
	require.NoError(t, s.db.Model(&Alert{}).Where("source_entity_id = ?", "exam-2").Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestSyncEmptyPassResolvesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := date(2026, time.March, 20)

	_, err := s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityUrgent, &expiry),
	})
	require.NoError(t, err)

	res, err := s.Sync(ctx, "org-1", TypeMedicalExam, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Resolved)
}

func TestSyncDoesNotReopenAcknowledged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := date(2026, time.March, 20)

	_, err := s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityUrgent, &expiry),
	})
	require.NoError(t, err)

	require.NoError(t, s.db.Model(&Alert{}).
		Where("source_entity_id = ?", "exam-1").
		Update("status", StatusAcknowledged).Error)

	// Acknowledged alerts are still active: the next pass refreshes them in
	// place and must not flip them back to pending.
	res, err := s.Sync(ctx, "org-1", TypeMedicalExam, []Candidate{
		candidate("org-1", "exam-1", SeverityExpired, &expiry),
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Created)

	var row Alert
	require.NoError(t, s.db.First(&row, "source_entity_id = ?", "exam-1").Error)
	require.Equal(t, StatusAcknowledged, row.Status)
	require.Equal(t, SeverityExpired, row.Severity)
}

func TestGetConfigDefaults(t *testing.T) {
	s := newTestStore(t)

	cfg, err := s.GetConfig(context.Background(), "org-without-config")
	require.NoError(t, err)
	require.Equal(t, DefaultThresholds, cfg.Thresholds())
	require.Equal(t, []Channel{ChannelSMS}, cfg.EnabledChannels())
}

func TestGetConfigPerOrgOverrides(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.db.Create(&AlertConfiguration{
		OrganizationID:       "org-1",
		UrgentThresholdDays:  3,
		WarningThresholdDays: 14,
		WhatsAppEnabled:      true,
		EmailEnabled:         true,
	}).Error)

	cfg, err := s.GetConfig(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, Thresholds{UrgentDays: 3, WarningDays: 14}, cfg.Thresholds())
	require.Equal(t, []Channel{ChannelWhatsApp, ChannelEmail}, cfg.EnabledChannels())
}
