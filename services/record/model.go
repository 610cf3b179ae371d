package record

import "time"

// Monitored compliance records. Each row type carries a trackable expiry
// date; a nil date on a row that legally requires one produces a "missing"
// alert candidate during scanning.

// Entity type identifiers used as alerts.source_entity_type.
const (
	EntityMedicalExam        = "medical_exams"
	EntitySafetyEquipment    = "safety_equipment"
	EntityTrainingCert       = "training_certifications"
	EntityRegulatoryDeadline = "regulatory_deadlines"
)

type MedicalExam struct {
	ID             string     `gorm:"column:id;primaryKey"`
	OrganizationID string     `gorm:"column:organization_id;index"`
	EmployeeName   string     `gorm:"column:employee_name"`
	ExamType       string     `gorm:"column:exam_type"`
	ExpiryDate     *time.Time `gorm:"column:expiry_date"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (MedicalExam) TableName() string { return EntityMedicalExam }

type SafetyEquipment struct {
	ID             string     `gorm:"column:id;primaryKey"`
	OrganizationID string     `gorm:"column:organization_id;index"`
	Name           string     `gorm:"column:name"`
	EquipmentType  string     `gorm:"column:equipment_type"`
	Location       string     `gorm:"column:location"`
	ExpiryDate     *time.Time `gorm:"column:expiry_date"` // next inspection due
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (SafetyEquipment) TableName() string { return EntitySafetyEquipment }

type TrainingCertification struct {
	ID             string     `gorm:"column:id;primaryKey"`
	OrganizationID string     `gorm:"column:organization_id;index"`
	EmployeeName   string     `gorm:"column:employee_name"`
	CourseName     string     `gorm:"column:course_name"`
	ExpiryDate     *time.Time `gorm:"column:expiry_date"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (TrainingCertification) TableName() string { return EntityTrainingCert }

type RegulatoryDeadline struct {
	ID             string     `gorm:"column:id;primaryKey"`
	OrganizationID string     `gorm:"column:organization_id;index"`
	Title          string     `gorm:"column:title"`
	Authority      string     `gorm:"column:authority"`
	DueDate        *time.Time `gorm:"column:due_date"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (RegulatoryDeadline) TableName() string { return EntityRegulatoryDeadline }

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&MedicalExam{}, &SafetyEquipment{}, &TrainingCertification{}, &RegulatoryDeadline{}}
}
