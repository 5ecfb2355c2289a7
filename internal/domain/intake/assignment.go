package intake

import (
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/ward/internal/domain/admin"
	"github.com/ehr/ward/internal/domain/careteam"
)

var (
	ErrFacilityRequired = errors.New("a facility must be selected")
	ErrTeamRequired     = errors.New("a care team must be selected")
	ErrUnknownFacility  = errors.New("facility is not available for assignment")
	ErrUnknownTeam      = errors.New("care team is not available for assignment")
)

// Management surfaces offered when there is nothing to choose from.
const (
	ManageFacilitiesURL = "/admin/facilities"
	ManageTeamsURL      = "/admin/teams"
)

// Assignment is the organizational binding of a batch. Each field is set
// on its own; Validate is the only place both are checked.
type Assignment struct {
	FacilityID *uuid.UUID `json:"facility_id,omitempty"`
	TeamID     *uuid.UUID `json:"team_id,omitempty"`
}

func (a Assignment) WithFacility(id uuid.UUID) Assignment {
	a.FacilityID = &id
	return a
}

func (a Assignment) WithTeam(id uuid.UUID) Assignment {
	a.TeamID = &id
	return a
}

func (a Assignment) Validate() error {
	if a.FacilityID == nil {
		return ErrFacilityRequired
	}
	if a.TeamID == nil {
		return ErrTeamRequired
	}
	return nil
}

// AssignmentOptions is what the reviewer can choose from. When either list
// is empty ConfigurationRequired is set along with the URL of the screen
// that can fix it.
type AssignmentOptions struct {
	Facilities            []*admin.Facility `json:"facilities"`
	Teams                 []*careteam.Team  `json:"teams"`
	ConfigurationRequired bool              `json:"configuration_required"`
	ManageFacilitiesURL   string            `json:"manage_facilities_url,omitempty"`
	ManageTeamsURL        string            `json:"manage_teams_url,omitempty"`
}

func ResolveOptions(facilities []*admin.Facility, teams []*careteam.Team) AssignmentOptions {
	opts := AssignmentOptions{Facilities: facilities, Teams: teams}
	if opts.Facilities == nil {
		opts.Facilities = []*admin.Facility{}
	}
	if opts.Teams == nil {
		opts.Teams = []*careteam.Team{}
	}
	if len(facilities) == 0 {
		opts.ConfigurationRequired = true
		opts.ManageFacilitiesURL = ManageFacilitiesURL
	}
	if len(teams) == 0 {
		opts.ConfigurationRequired = true
		opts.ManageTeamsURL = ManageTeamsURL
	}
	return opts
}

func (o AssignmentOptions) hasFacility(id uuid.UUID) bool {
	for _, f := range o.Facilities {
		if f.ID == id {
			return true
		}
	}
	return false
}

func (o AssignmentOptions) hasTeam(id uuid.UUID) bool {
	for _, t := range o.Teams {
		if t.ID == id {
			return true
		}
	}
	return false
}
