package batch

import (
	"time"

	"gorm.io/datatypes"
)

// ScopeAll is the scope value for a scan that covers every active
// organization.
const ScopeAll = "all"

// JobType is a closed enum; Enqueue rejects anything else.
type JobType string

const (
	JobAlertGeneration         JobType = "alert_generation"
	JobMedicalCheck            JobType = "medical_check"
	JobSafetyEquipmentCheck    JobType = "safety_equipment_check"
	JobTrainingCheck           JobType = "training_check"
	JobRegulatoryDeadlineCheck JobType = "regulatory_deadline_check"
	JobNotificationDispatch    JobType = "notification_dispatch"
	JobUsageRollup             JobType = "usage_rollup"
)

func (t JobType) Valid() bool {
	switch t {
	case JobAlertGeneration, JobMedicalCheck, JobSafetyEquipmentCheck,
		JobTrainingCheck, JobRegulatoryDeadlineCheck,
		JobNotificationDispatch, JobUsageRollup:
		return true
	default:
		return false
	}
}

type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusFailed  JobStatus = "failed"
)

// BatchJob is the trackable unit of scan/check work. Rows are mutated only
// during their own run and never deleted; terminal rows are immutable except
// through Retry, which creates a new attempt with lineage.
type BatchJob struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Scope          string         `gorm:"column:scope;index"`
	JobType        JobType        `gorm:"column:job_type"`
	Status         JobStatus      `gorm:"column:status;index"`
	ItemsTotal     int            `gorm:"column:items_total"`
	ItemsProcessed int            `gorm:"column:items_processed"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	Errors         datatypes.JSON `gorm:"column:errors"`
	CreatedBy      string         `gorm:"column:created_by"`
	RetryOf        string         `gorm:"column:retry_of;index"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	StartedAt      *time.Time     `gorm:"column:started_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at"`
}

func (BatchJob) TableName() string { return "batch_jobs" }

// JobView is the status read model: the row plus computed duration and
// progress.
type JobView struct {
	BatchJob
	DurationSeconds float64 `json:"duration_seconds"`
	ProgressPct     int     `json:"progress_pct"`
}
