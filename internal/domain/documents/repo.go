package documents

import (
	"context"

	"github.com/google/uuid"
)

type ClinicalNoteRepository interface {
	Create(ctx context.Context, n *ClinicalNote) error
	ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*ClinicalNote, error)
}
