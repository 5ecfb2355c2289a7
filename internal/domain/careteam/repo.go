package careteam

import (
	"context"

	"github.com/google/uuid"
)

type TeamRepository interface {
	Create(ctx context.Context, t *Team) error
	GetByID(ctx context.Context, id uuid.UUID) (*Team, error)
	// ListActive returns active teams. A non-nil facilityID also includes
	// teams not bound to any facility.
	ListActive(ctx context.Context, facilityID *uuid.UUID) ([]*Team, error)
}
