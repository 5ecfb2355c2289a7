package identity

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// FindByNameKeys returns every patient whose name_key is in keys.
	FindByNameKeys(ctx context.Context, keys []string) ([]*Patient, error)
	Search(ctx context.Context, name string, limit, offset int) ([]*Patient, int, error)
}
