package identity

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrNameRequired    = errors.New("name is required")
	ErrPatientNotFound = errors.New("patient not found")
)

// maxNameLength matches the full_name column.
const maxNameLength = 255

// Patient maps to the patient table.
type Patient struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	FullName  string     `db:"full_name" json:"full_name"`
	NameKey   string     `db:"name_key" json:"-"`
	MRN       *string    `db:"mrn" json:"mrn,omitempty"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Active    bool       `db:"active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// NewPatient builds an active patient from a display name.
func NewPatient(name string) (*Patient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, errors.New("name exceeds 255 characters")
	}
	return &Patient{
		ID:       uuid.New(),
		FullName: name,
		NameKey:  NormalizeName(name),
		Active:   true,
	}, nil
}

// NormalizeName is the duplicate-matching key: the trimmed name in NFC with
// Unicode case folding applied. Internal spacing and accents are kept, so
// "Maria  Silva" and "Maria Silva" are different keys.
func NormalizeName(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// PatientMatch is a stored patient that shares a name with an intake candidate.
type PatientMatch struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Identifier *string    `json:"identifier,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
}

// DuplicateMatch lists the stored patients matching one input name.
type DuplicateMatch struct {
	InputName string         `json:"input_name"`
	Matches   []PatientMatch `json:"matches"`
}

func (p *Patient) toMatch() PatientMatch {
	return PatientMatch{ID: p.ID, Name: p.FullName, Identifier: p.MRN, BirthDate: p.BirthDate}
}
