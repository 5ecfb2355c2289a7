package intake

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ward/internal/domain/identity"
)

var (
	ErrSessionNotFound = errors.New("intake session not found")
	ErrNoSelection     = errors.New("select at least one patient to continue")
	ErrNotCuratable    = errors.New("candidates can only be changed during review")
	ErrNoDocument      = errors.New("session has no source document")
)

// DocumentRef points at the stored source document of a session.
type DocumentRef struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash,omitempty"`
}

// Session is the state of one intake run. It is owned by a single pipeline
// and is replaced wholesale on every change; nothing else holds a reference
// to its candidates.
type Session struct {
	ID                    string                    `json:"id"`
	TenantID              string                    `json:"tenant_id"`
	OwnerID               string                    `json:"owner_id"`
	Step                  Step                      `json:"step"`
	Candidates            CandidateStore            `json:"candidates"`
	Document              *DocumentRef              `json:"document,omitempty"`
	Duplicates            []identity.DuplicateMatch `json:"duplicates"`
	DuplicateWarning      string                    `json:"duplicate_warning,omitempty"`
	DuplicateCheckSkipped bool                      `json:"duplicate_check_skipped"`
	DuplicatesStale       bool                      `json:"duplicates_stale"`
	Assignment            Assignment                `json:"assignment"`
	Summary               *Summary                  `json:"summary,omitempty"`
	LastError             string                    `json:"last_error,omitempty"`
	CreatedAt             time.Time                 `json:"created_at"`
	UpdatedAt             time.Time                 `json:"updated_at"`
}

func NewSession(tenantID, ownerID string, now time.Time) *Session {
	return &Session{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		OwnerID:    ownerID,
		Step:       StepUpload,
		Candidates: NewCandidateStore(nil),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	out := *s
	out.Candidates = s.Candidates.clone()
	if s.Document != nil {
		d := *s.Document
		out.Document = &d
	}
	if s.Duplicates != nil {
		out.Duplicates = make([]identity.DuplicateMatch, len(s.Duplicates))
		for i, d := range s.Duplicates {
			d.Matches = append([]identity.PatientMatch(nil), d.Matches...)
			out.Duplicates[i] = d
		}
	}
	if s.Assignment.FacilityID != nil {
		id := *s.Assignment.FacilityID
		out.Assignment.FacilityID = &id
	}
	if s.Assignment.TeamID != nil {
		id := *s.Assignment.TeamID
		out.Assignment.TeamID = &id
	}
	if s.Summary != nil {
		sum := *s.Summary
		sum.Failures = append([]Failure(nil), s.Summary.Failures...)
		out.Summary = &sum
	}
	return &out
}

// Fire applies ev to the session step. Leaving review forward closes any
// open edit.
func (s *Session) Fire(ev Event) error {
	to, err := Transition(s.Step, ev, s.DuplicateCheckSkipped)
	if err != nil {
		return err
	}
	if s.Step == StepReview && to > StepReview {
		s.Candidates = s.Candidates.DiscardDrafts()
	}
	s.Step = to
	return nil
}

// Index returns the duplicate lookup over the stored check result.
func (s *Session) Index() DuplicateIndex {
	return NewDuplicateIndex(s.Duplicates)
}

// Curate replaces the candidate collection using op. It fails outside the
// review steps. After the duplicate check has run, a change that brings in a
// new name marks the stored result stale; it is refreshed on the next
// review confirmation.
func (s *Session) Curate(op func(CandidateStore) (CandidateStore, error)) error {
	if !s.Step.Curatable() {
		return fmt.Errorf("%w: session is at %s", ErrNotCuratable, s.Step)
	}
	next, err := op(s.Candidates)
	if err != nil {
		return err
	}
	if s.Step > StepReview && addsEligibleName(s.Candidates.Items, next.Items) {
		s.DuplicatesStale = true
	}
	s.Candidates = next
	return nil
}

// addsEligibleName reports whether after has a name to check that before
// did not. Removing or deselecting never invalidates a stored result.
func addsEligibleName(before, after []Candidate) bool {
	known := make(map[string]bool)
	for _, n := range EligibleNames(before) {
		known[identity.NormalizeName(n)] = true
	}
	for _, n := range EligibleNames(after) {
		if !known[identity.NormalizeName(n)] {
			return true
		}
	}
	return false
}

// Expired reports whether the session was last touched before cutoff.
func (s *Session) Expired(cutoff time.Time) bool {
	return s.UpdatedAt.Before(cutoff)
}
