package alert

import (
	"fmt"
	"time"
)

// Severity is derived from days-to-expiry and never set independently.
type Severity string

var (
	SeverityNone    Severity = "none"
	SeverityWarning Severity = "warning"
	SeverityUrgent  Severity = "urgent"
	SeverityExpired Severity = "expired"
	SeverityMissing Severity = "missing"
)

// Rank orders severities for escalation checks. A higher rank on an existing
// active alert triggers re-dispatch.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityUrgent:
		return 2
	case SeverityExpired:
		return 3
	case SeverityMissing:
		return 3
	default:
		return 0
	}
}

type Status string

var (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusDismissed    Status = "dismissed"
)

func (s Status) String() string {
	switch s {
	case StatusPending, StatusAcknowledged, StatusResolved, StatusDismissed:
		return string(s)
	default:
		return ""
	}
}

// ActiveStatuses are the statuses counted by the dedup invariant: at most one
// alert in one of these states may exist per monitored entity.
var ActiveStatuses = []Status{StatusPending, StatusAcknowledged}

// Alert types, one per monitored entity kind.
const (
	TypeMedicalExam        = "medical_exam"
	TypeSafetyEquipment    = "safety_equipment"
	TypeTrainingCert       = "training_certification"
	TypeRegulatoryDeadline = "regulatory_deadline"
)

type Alert struct {
	ID               string     `gorm:"column:id;primaryKey"`
	OrganizationID   string     `gorm:"column:organization_id;index"`
	AlertType        string     `gorm:"column:alert_type;index"`
	SourceEntityType string     `gorm:"column:source_entity_type"`
	SourceEntityID   string     `gorm:"column:source_entity_id"`
	ExpiryDate       *time.Time `gorm:"column:expiry_date"`
	Severity         Severity   `gorm:"column:severity"`
	Status           Status     `gorm:"column:status;index"`
	// ActiveKey is "{org}:{entity_type}:{entity_id}" while the alert is
	// active and NULL afterwards. The unique index on it is what makes the
	// dedup upsert race-free: concurrent inserts for the same entity
	// collide here instead of creating duplicates.
	ActiveKey *string   `gorm:"column:active_key;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Alert) TableName() string { return "alerts" }

// BuildActiveKey composes the identity key enforced while an alert is active.
func BuildActiveKey(orgID, entityType, entityID string) string {
	return fmt.Sprintf("%s:%s:%s", orgID, entityType, entityID)
}

type Channel string

var (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVoice    Channel = "voice"
	ChannelEmail    Channel = "email"
)

type DeliveryStatus string

var (
	DeliveryQueued      DeliveryStatus = "queued"
	DeliverySent        DeliveryStatus = "sent"
	DeliveryDelivered   DeliveryStatus = "delivered"
	DeliveryRead        DeliveryStatus = "read"
	DeliveryFailed      DeliveryStatus = "failed"
	DeliveryUndelivered DeliveryStatus = "undelivered"
)

// AlertLog records one delivery attempt of one alert to one recipient over
// one channel. Severity is the escalation level the attempt was sent at; the
// dispatcher never sends the same (alert, channel, recipient, severity) twice.
type AlertLog struct {
	ID                string         `gorm:"column:id;primaryKey"`
	AlertID           string         `gorm:"column:alert_id;index"`
	OrganizationID    string         `gorm:"column:organization_id;index"`
	Channel           Channel        `gorm:"column:channel"`
	Severity          Severity       `gorm:"column:severity"`
	ProviderMessageID string         `gorm:"column:provider_message_id;index"`
	DeliveryStatus    DeliveryStatus `gorm:"column:delivery_status"`
	RecipientAddress  string         `gorm:"column:recipient_address;index"`
	FailureReason     string         `gorm:"column:failure_reason"`
	Acknowledged      bool           `gorm:"column:acknowledged;default:false"`
	AcknowledgedAt    *time.Time     `gorm:"column:acknowledged_at"`
	AcknowledgedBy    string         `gorm:"column:acknowledged_by"`
	CreatedAt         time.Time      `gorm:"column:created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at"`
}

func (AlertLog) TableName() string { return "alert_logs" }

// AlertConfiguration holds per-organization thresholds and channel toggles.
// Organizations without a row fall back to platform defaults.
type AlertConfiguration struct {
	OrganizationID       string    `gorm:"column:organization_id;primaryKey"`
	UrgentThresholdDays  int       `gorm:"column:urgent_threshold_days"`
	WarningThresholdDays int       `gorm:"column:warning_threshold_days"`
	SMSEnabled           bool      `gorm:"column:sms_enabled"`
	WhatsAppEnabled      bool      `gorm:"column:whatsapp_enabled"`
	VoiceEnabled         bool      `gorm:"column:voice_enabled"`
	EmailEnabled         bool      `gorm:"column:email_enabled"`
	MonthlyReportEnabled bool      `gorm:"column:monthly_report_enabled"`
	CreatedAt            time.Time `gorm:"column:created_at"`
	UpdatedAt            time.Time `gorm:"column:updated_at"`
}

func (AlertConfiguration) TableName() string { return "alert_configurations" }

// EnabledChannels returns the toggled-on channels in dispatch order.
func (c AlertConfiguration) EnabledChannels() []Channel {
	channels := make([]Channel, 0, 4)
	if c.SMSEnabled {
		channels = append(channels, ChannelSMS)
	}
	if c.WhatsAppEnabled {
		channels = append(channels, ChannelWhatsApp)
	}
	if c.VoiceEnabled {
		channels = append(channels, ChannelVoice)
	}
	if c.EmailEnabled {
		channels = append(channels, ChannelEmail)
	}
	return channels
}

// Thresholds feed the severity classifier.
type Thresholds struct {
	UrgentDays  int
	WarningDays int
}

var DefaultThresholds = Thresholds{UrgentDays: 7, WarningDays: 30}

func (c AlertConfiguration) Thresholds() Thresholds {
	t := Thresholds{UrgentDays: c.UrgentThresholdDays, WarningDays: c.WarningThresholdDays}
	if t.UrgentDays <= 0 {
		t.UrgentDays = DefaultThresholds.UrgentDays
	}
	if t.WarningDays <= 0 {
		t.WarningDays = DefaultThresholds.WarningDays
	}
	return t
}
