package alert

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reconciles scan candidates against persisted alerts. All writes are
// conditional so that overlapping runs for the same organization converge
// instead of duplicating rows.
type Store struct {
	db       *gorm.DB
	node     *snowflake.Node
	fallback Thresholds
}

func NewStore(db *gorm.DB, node *snowflake.Node) *Store {
	return &Store{db: db, node: node, fallback: DefaultThresholds}
}

// SyncResult summarises one scan pass over one (org, alert type) pair.
type SyncResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Escalated int `json:"escalated"`
	Resolved  int `json:"resolved"`
}

// Sync upserts every candidate and then resolves active alerts of the same
// (org, alert type) whose entity no longer yields a candidate, so that after
// a complete pass every active alert corresponds to a currently-true
// condition.
func (s *Store) Sync(ctx context.Context, orgID, alertType string, candidates []Candidate) (SyncResult, error) {
	var res SyncResult

	seen := make([]string, 0, len(candidates))
	for _, c := range candidates {
		seen = append(seen, c.SourceEntityID)

		outcome, err := s.upsert(ctx, c)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeCreated:
			res.Created++
		case outcomeUpdated:
			res.Updated++
		case outcomeEscalated:
			res.Updated++
			res.Escalated++
		}
	}

	resolved, err := s.resolveStale(ctx, orgID, alertType, seen)
	if err != nil {
		return res, err
	}
	res.Resolved = resolved

	return res, nil
}

type upsertOutcome int

const (
	outcomeCreated upsertOutcome = iota
	outcomeUpdated
	outcomeEscalated
)

func (s *Store) upsert(ctx context.Context, c Candidate) (upsertOutcome, error) {
	var existing Alert
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND source_entity_type = ? AND source_entity_id = ? AND status IN ?",
			c.OrganizationID, c.SourceEntityType, c.SourceEntityID, ActiveStatuses).
		First(&existing).Error

	switch {
	case err == nil:
		return s.refresh(ctx, &existing, c)
	case errors.Is(err, gorm.ErrRecordNotFound):
		created, err := s.insert(ctx, c)
		if err != nil {
			return 0, err
		}
		if created {
			return outcomeCreated, nil
		}
		// Lost the insert race to a concurrent run for the same org; the
		// winning row is the one to refresh.
		if err := s.db.WithContext(ctx).
			Where("organization_id = ? AND source_entity_type = ? AND source_entity_id = ? AND status IN ?",
				c.OrganizationID, c.SourceEntityType, c.SourceEntityID, ActiveStatuses).
			First(&existing).Error; err != nil {
			return 0, err
		}
		return s.refresh(ctx, &existing, c)
	default:
		return 0, err
	}
}

// insert creates a pending alert; the unique index on active_key turns a
// duplicate-alert race into a no-op instead of a second row.
func (s *Store) insert(ctx context.Context, c Candidate) (bool, error) {
	key := BuildActiveKey(c.OrganizationID, c.SourceEntityType, c.SourceEntityID)
	row := Alert{
		ID:               s.node.Generate().String(),
		OrganizationID:   c.OrganizationID,
		AlertType:        c.AlertType,
		SourceEntityType: c.SourceEntityType,
		SourceEntityID:   c.SourceEntityID,
		ExpiryDate:       c.ExpiryDate,
		Severity:         c.Severity,
		Status:           StatusPending,
		ActiveKey:        &key,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "active_key"}},
			DoNothing: true,
		}).
		Create(&row)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// refresh updates severity and expiry in place on the existing active row.
// The WHERE repeats the active-status condition so a concurrent resolve or
// dismiss wins over a stale refresh.
func (s *Store) refresh(ctx context.Context, existing *Alert, c Candidate) (upsertOutcome, error) {
	tx := s.db.WithContext(ctx).
		Model(&Alert{}).
		Where("id = ? AND status IN ?", existing.ID, ActiveStatuses).
		Updates(map[string]any{
			"severity":    c.Severity,
			"expiry_date": c.ExpiryDate,
			"updated_at":  time.Now(),
		})
	if tx.Error != nil {
		return 0, tx.Error
	}
	if tx.RowsAffected == 0 {
		zap.L().Debug("skipped refresh of concurrently closed alert", zap.String("alert_id", existing.ID))
		return outcomeUpdated, nil
	}

	if c.Severity.Rank() > existing.Severity.Rank() {
		return outcomeEscalated, nil
	}
	return outcomeUpdated, nil
}

// resolveStale self-heals: any active alert of the scanned type whose entity
// produced no candidate this pass is no longer a true condition.
func (s *Store) resolveStale(ctx context.Context, orgID, alertType string, seenEntityIDs []string) (int, error) {
	q := s.db.WithContext(ctx).
		Model(&Alert{}).
		Where("organization_id = ? AND alert_type = ? AND status IN ?", orgID, alertType, ActiveStatuses)
	if len(seenEntityIDs) > 0 {
		q = q.Where("source_entity_id NOT IN ?", seenEntityIDs)
	}

	tx := q.Updates(map[string]any{
		"status":     StatusResolved,
		"active_key": nil,
		"updated_at": time.Now(),
	})
	if tx.Error != nil {
		return 0, tx.Error
	}
	return int(tx.RowsAffected), nil
}

// GetConfig loads an organization's alert configuration, falling back to
// platform defaults (all channels off except SMS, platform thresholds).
func (s *Store) GetConfig(ctx context.Context, orgID string) (AlertConfiguration, error) {
	var cfg AlertConfiguration
	err := s.db.WithContext(ctx).First(&cfg, "organization_id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AlertConfiguration{
			OrganizationID:       orgID,
			UrgentThresholdDays:  s.fallback.UrgentDays,
			WarningThresholdDays: s.fallback.WarningDays,
			SMSEnabled:           true,
		}, nil
	}
	if err != nil {
		return AlertConfiguration{}, err
	}
	if cfg.UrgentThresholdDays <= 0 {
		cfg.UrgentThresholdDays = s.fallback.UrgentDays
	}
	if cfg.WarningThresholdDays <= 0 {
		cfg.WarningThresholdDays = s.fallback.WarningDays
	}
	return cfg, nil
}
