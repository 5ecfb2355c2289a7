package documents

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	notes ClinicalNoteRepository
}

func NewService(notes ClinicalNoteRepository) *Service {
	return &Service{notes: notes}
}

// SaveDraftSBAR stores a draft SBAR note for an admission. A narrative with
// no content is rejected with ErrEmptyNarrative.
func (s *Service) SaveDraftSBAR(ctx context.Context, admissionID uuid.UUID, authorID string, n SBAR) (*ClinicalNote, error) {
	if admissionID == uuid.Nil {
		return nil, fmt.Errorf("admission_id is required")
	}
	if n.IsEmpty() {
		return nil, ErrEmptyNarrative
	}
	note := NewDraftSBAR(admissionID, authorID, n)
	if err := s.notes.Create(ctx, note); err != nil {
		return nil, fmt.Errorf("save draft note: %w", err)
	}
	return note, nil
}

func (s *Service) ListNotes(ctx context.Context, admissionID uuid.UUID) ([]*ClinicalNote, error) {
	return s.notes.ListByAdmission(ctx, admissionID)
}
