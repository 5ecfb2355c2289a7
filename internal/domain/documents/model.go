package documents

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrEmptyNarrative = errors.New("narrative has no content")

const (
	NoteTypeSBAR = "sbar"
	StatusDraft  = "draft"
)

// SBAR is the structured handoff narrative: situation, background,
// assessment and recommendation.
type SBAR struct {
	Situation      string `json:"situation,omitempty"`
	Background     string `json:"background,omitempty"`
	Assessment     string `json:"assessment,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// IsEmpty reports whether every field is blank.
func (s SBAR) IsEmpty() bool {
	return strings.TrimSpace(s.Situation) == "" &&
		strings.TrimSpace(s.Background) == "" &&
		strings.TrimSpace(s.Assessment) == "" &&
		strings.TrimSpace(s.Recommendation) == ""
}

// ClinicalNote maps to the clinical_note table.
type ClinicalNote struct {
	ID             uuid.UUID `db:"id" json:"id"`
	AdmissionID    uuid.UUID `db:"admission_id" json:"admission_id"`
	NoteType       string    `db:"note_type" json:"note_type"`
	Status         string    `db:"status" json:"status"`
	Situation      *string   `db:"situation" json:"situation,omitempty"`
	Background     *string   `db:"background" json:"background,omitempty"`
	Assessment     *string   `db:"assessment" json:"assessment,omitempty"`
	Recommendation *string   `db:"recommendation" json:"recommendation,omitempty"`
	AuthorID       string    `db:"author_id" json:"author_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// NewDraftSBAR builds a draft note; blank fields are stored as NULL.
func NewDraftSBAR(admissionID uuid.UUID, authorID string, n SBAR) *ClinicalNote {
	return &ClinicalNote{
		ID:             uuid.New(),
		AdmissionID:    admissionID,
		NoteType:       NoteTypeSBAR,
		Status:         StatusDraft,
		Situation:      optional(n.Situation),
		Background:     optional(n.Background),
		Assessment:     optional(n.Assessment),
		Recommendation: optional(n.Recommendation),
		AuthorID:       authorID,
	}
}
