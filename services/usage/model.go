package usage

import "time"

// UsageReport is a lightweight monthly rollup consumed by reporting.
// Period is "YYYY-MM"; one row per (organization, period), recomputed
// idempotently by the rollup job.
type UsageReport struct {
	ID                    string    `gorm:"column:id;primaryKey"`
	OrganizationID        string    `gorm:"column:organization_id;uniqueIndex:uniq_org_period"`
	Period                string    `gorm:"column:period;uniqueIndex:uniq_org_period"`
	AlertsCreated         int64     `gorm:"column:alerts_created"`
	AlertsResolved        int64     `gorm:"column:alerts_resolved"`
	NotificationsSent     int64     `gorm:"column:notifications_sent"`
	NotificationsFailed   int64     `gorm:"column:notifications_failed"`
	NotificationsAcked    int64     `gorm:"column:notifications_acked"`
	CreatedAt             time.Time `gorm:"column:created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at"`
}

func (UsageReport) TableName() string { return "usage_reports" }
