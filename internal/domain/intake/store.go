package intake

import (
	"context"
	"time"
)

// SessionStore persists intake sessions. Implementations hand out copies:
// a session returned by Get is not affected by later Saves.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// Sweep removes sessions not updated since cutoff and returns them.
	Sweep(ctx context.Context, cutoff time.Time) ([]*Session, error)
}
