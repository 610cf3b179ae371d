package alert

import (
	"context"
	"fmt"
	"time"

	"compliance-controlplane/services/record"

	"gorm.io/gorm"
)

// Candidate is one potential alert produced by scanning a monitored entity.
type Candidate struct {
	OrganizationID   string
	AlertType        string
	SourceEntityType string
	SourceEntityID   string
	Label            string
	ExpiryDate       *time.Time
	Severity         Severity
}

// EntityScanner enumerates the monitored rows of one entity kind for an
// organization and classifies them against the captured reference clock.
type EntityScanner interface {
	AlertType() string
	ListCandidates(ctx context.Context, orgID string, today time.Time, t Thresholds) ([]Candidate, error)
}

// Registry maps alert types to scanners. Job types select a subset of it.
type Registry struct {
	scanners []EntityScanner
	byType   map[string]EntityScanner
}

func NewRegistry(scanners ...EntityScanner) *Registry {
	r := &Registry{byType: make(map[string]EntityScanner, len(scanners))}
	for _, s := range scanners {
		r.scanners = append(r.scanners, s)
		r.byType[s.AlertType()] = s
	}
	return r
}

func (r *Registry) All() []EntityScanner {
	return r.scanners
}

func (r *Registry) Get(alertType string) (EntityScanner, bool) {
	s, ok := r.byType[alertType]
	return s, ok
}

// DefaultRegistry wires the four built-in entity scanners.
func DefaultRegistry(db *gorm.DB) *Registry {
	return NewRegistry(
		&medicalExamScanner{db: db},
		&safetyEquipmentScanner{db: db},
		&trainingCertScanner{db: db},
		&regulatoryDeadlineScanner{db: db},
	)
}

type medicalExamScanner struct {
	db *gorm.DB
}

func (s *medicalExamScanner) AlertType() string { return TypeMedicalExam }

func (s *medicalExamScanner) ListCandidates(ctx context.Context, orgID string, today time.Time, t Thresholds) ([]Candidate, error) {
	var rows []record.MedicalExam
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		severity := Classify(row.ExpiryDate, today, t)
		if severity == SeverityNone {
			continue
		}
		out = append(out, Candidate{
			OrganizationID:   orgID,
			AlertType:        TypeMedicalExam,
			SourceEntityType: record.EntityMedicalExam,
			SourceEntityID:   row.ID,
			Label:            fmt.Sprintf("%s (%s)", row.ExamType, row.EmployeeName),
			ExpiryDate:       row.ExpiryDate,
			Severity:         severity,
		})
	}
	return out, nil
}

type safetyEquipmentScanner struct {
	db *gorm.DB
}

func (s *safetyEquipmentScanner) AlertType() string { return TypeSafetyEquipment }

func (s *safetyEquipmentScanner) ListCandidates(ctx context.Context, orgID string, today time.Time, t Thresholds) ([]Candidate, error) {
	var rows []record.SafetyEquipment
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		severity := Classify(row.ExpiryDate, today, t)
		if severity == SeverityNone {
			continue
		}
		out = append(out, Candidate{
			OrganizationID:   orgID,
			AlertType:        TypeSafetyEquipment,
			SourceEntityType: record.EntitySafetyEquipment,
			SourceEntityID:   row.ID,
			Label:            fmt.Sprintf("%s @ %s", row.Name, row.Location),
			ExpiryDate:       row.ExpiryDate,
			Severity:         severity,
		})
	}
	return out, nil
}

type trainingCertScanner struct {
	db *gorm.DB
}

func (s *trainingCertScanner) AlertType() string { return TypeTrainingCert }

func (s *trainingCertScanner) ListCandidates(ctx context.Context, orgID string, today time.Time, t Thresholds) ([]Candidate, error) {
	var rows []record.TrainingCertification
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		severity := Classify(row.ExpiryDate, today, t)
		if severity == SeverityNone {
			continue
		}
		out = append(out, Candidate{
			OrganizationID:   orgID,
			AlertType:        TypeTrainingCert,
			SourceEntityType: record.EntityTrainingCert,
			SourceEntityID:   row.ID,
			Label:            fmt.Sprintf("%s (%s)", row.CourseName, row.EmployeeName),
			ExpiryDate:       row.ExpiryDate,
			Severity:         severity,
		})
	}
	return out, nil
}

type regulatoryDeadlineScanner struct {
	db *gorm.DB
}

func (s *regulatoryDeadlineScanner) AlertType() string { return TypeRegulatoryDeadline }

func (s *regulatoryDeadlineScanner) ListCandidates(ctx context.Context, orgID string, today time.Time, t Thresholds) ([]Candidate, error) {
	var rows []record.RegulatoryDeadline
	if err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		severity := Classify(row.DueDate, today, t)
		if severity == SeverityNone {
			continue
		}
		out = append(out, Candidate{
			OrganizationID:   orgID,
			AlertType:        TypeRegulatoryDeadline,
			SourceEntityType: record.EntityRegulatoryDeadline,
			SourceEntityID:   row.ID,
			Label:            fmt.Sprintf("%s (%s)", row.Title, row.Authority),
			ExpiryDate:       row.DueDate,
			Severity:         severity,
		})
	}
	return out, nil
}
