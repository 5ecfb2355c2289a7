package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	facilities FacilityRepository
	profiles   ProfileRepository
}

func NewService(facilities FacilityRepository, profiles ProfileRepository) *Service {
	return &Service{facilities: facilities, profiles: profiles}
}

// -- Facility --

func (s *Service) CreateFacility(ctx context.Context, f *Facility) error {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	f.Active = true
	return s.facilities.Create(ctx, f)
}

func (s *Service) GetFacility(ctx context.Context, id uuid.UUID) (*Facility, error) {
	return s.facilities.GetByID(ctx, id)
}

// ListFacilities returns the facilities a batch can be assigned to.
func (s *Service) ListFacilities(ctx context.Context) ([]*Facility, error) {
	return s.facilities.ListActive(ctx)
}

// -- Profile --

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return s.profiles.Get(ctx, userID)
}

// CompleteOnboarding is idempotent.
func (s *Service) CompleteOnboarding(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	return s.profiles.CompleteOnboarding(ctx, userID)
}
