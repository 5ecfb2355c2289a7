package admission

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	admissions AdmissionRepository
}

func NewService(admissions AdmissionRepository) *Service {
	return &Service{admissions: admissions}
}

// CreateAdmission validates the structural fields and stores an active
// admission. Clinical content is not checked.
func (s *Service) CreateAdmission(ctx context.Context, a *Admission) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if a.FacilityID == uuid.Nil {
		return fmt.Errorf("facility_id is required")
	}
	if a.TeamID == uuid.Nil {
		return fmt.Errorf("team_id is required")
	}
	a.Bed = strings.TrimSpace(a.Bed)
	if a.Bed == "" {
		return fmt.Errorf("bed is required")
	}
	if a.Priority == "" {
		a.Priority = PriorityMedium
	}
	if !a.Priority.Valid() {
		return fmt.Errorf("invalid priority: %s", a.Priority)
	}
	a.Status = StatusActive
	if err := s.admissions.Create(ctx, a); err != nil {
		return fmt.Errorf("create admission: %w", err)
	}
	return nil
}

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return s.admissions.GetByID(ctx, id)
}

func (s *Service) ListAdmissions(ctx context.Context, f ListFilter, limit, offset int) ([]*Admission, int, error) {
	return s.admissions.List(ctx, f, limit, offset)
}
