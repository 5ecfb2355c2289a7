package admin

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrFacilityNotFound = errors.New("facility not found")

// Facility maps to the facility table: a hospital or unit an intake batch
// can be bound to.
type Facility struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Profile maps to user_profile. Rows are created lazily the first time a
// user completes onboarding.
type Profile struct {
	UserID              string    `db:"user_id" json:"user_id"`
	OnboardingCompleted bool      `db:"onboarding_completed" json:"onboarding_completed"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}
