package admission

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrAdmissionNotFound = errors.New("admission not found")

// Priority is the clinical acuity of an admission.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

const StatusActive = "active"

var validPriorities = map[Priority]bool{
	PriorityCritical: true, PriorityHigh: true, PriorityMedium: true, PriorityLow: true,
}

func (p Priority) Valid() bool {
	return validPriorities[p]
}

// ParsePriority accepts any casing and surrounding space. Anything outside
// the four known values becomes medium.
func ParsePriority(s string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p.Valid() {
		return p
	}
	return PriorityMedium
}

// Admission maps to the admission table. One admission is an episode of
// care for a patient in a bed, owned by a facility and a care team.
type Admission struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientName   string    `db:"patient_name" json:"patient_name,omitempty"`
	FacilityID    uuid.UUID `db:"facility_id" json:"facility_id"`
	TeamID        uuid.UUID `db:"team_id" json:"team_id"`
	Bed           string    `db:"bed" json:"bed"`
	Priority      Priority  `db:"priority" json:"priority"`
	MainDiagnosis *string   `db:"main_diagnosis" json:"main_diagnosis,omitempty"`
	Insurance     *string   `db:"insurance" json:"insurance,omitempty"`
	Status        string    `db:"status" json:"status"`
	AdmittedAt    time.Time `db:"admitted_at" json:"admitted_at"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ListFilter narrows an admissions listing. Zero values match everything.
type ListFilter struct {
	FacilityID uuid.UUID
	TeamID     uuid.UUID
	Status     string
}
