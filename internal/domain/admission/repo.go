package admission

import (
	"context"

	"github.com/google/uuid"
)

type AdmissionRepository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Admission, int, error)
}
