package careteam

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrTeamNotFound = errors.New("care team not found")

// Team maps to the care_team table. FacilityID is optional: a team may work
// across facilities.
type Team struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	FacilityID *uuid.UUID `db:"facility_id" json:"facility_id,omitempty"`
	Name       string     `db:"name" json:"name"`
	Active     bool       `db:"active" json:"active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
