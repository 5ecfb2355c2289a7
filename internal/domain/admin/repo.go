package admin

import (
	"context"

	"github.com/google/uuid"
)

type FacilityRepository interface {
	Create(ctx context.Context, f *Facility) error
	GetByID(ctx context.Context, id uuid.UUID) (*Facility, error)
	ListActive(ctx context.Context) ([]*Facility, error)
}

type ProfileRepository interface {
	// Get returns a zero profile for users without a row.
	Get(ctx context.Context, userID string) (*Profile, error)
	CompleteOnboarding(ctx context.Context, userID string) error
}
