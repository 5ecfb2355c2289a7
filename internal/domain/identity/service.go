package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	patients PatientRepository
}

func NewService(patients PatientRepository) *Service {
	return &Service{patients: patients}
}

// CreatePatient creates an active patient from a display name.
func (s *Service) CreatePatient(ctx context.Context, name string) (*Patient, error) {
	p, err := NewPatient(name)
	if err != nil {
		return nil, err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) SearchPatients(ctx context.Context, name string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, name, limit, offset)
}

// FindByNames looks up all names in a single repository call and returns one
// entry per input name that matched at least one stored patient, in input
// order. Matching is exact on NormalizeName.
func (s *Service) FindByNames(ctx context.Context, names []string) ([]DuplicateMatch, error) {
	keys := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		k := NormalizeName(n)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	found, err := s.patients.FindByNameKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("duplicate lookup: %w", err)
	}
	byKey := make(map[string][]PatientMatch)
	for _, p := range found {
		byKey[p.NameKey] = append(byKey[p.NameKey], p.toMatch())
	}

	var out []DuplicateMatch
	for _, n := range names {
		if m := byKey[NormalizeName(n)]; len(m) > 0 {
			out = append(out, DuplicateMatch{InputName: n, Matches: m})
		}
	}
	return out, nil
}
