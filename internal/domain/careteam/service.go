package careteam

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	teams TeamRepository
}

func NewService(teams TeamRepository) *Service {
	return &Service{teams: teams}
}

func (s *Service) CreateTeam(ctx context.Context, t *Team) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	t.Active = true
	return s.teams.Create(ctx, t)
}

func (s *Service) GetTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	return s.teams.GetByID(ctx, id)
}

// ListTeams returns the teams a batch can be assigned to, optionally
// narrowed to one facility.
func (s *Service) ListTeams(ctx context.Context, facilityID *uuid.UUID) ([]*Team, error) {
	return s.teams.ListActive(ctx, facilityID)
}
