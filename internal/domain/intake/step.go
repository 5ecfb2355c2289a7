// Package intake implements bulk patient intake: a document is turned into
// candidate records, curated by a reviewer, checked for duplicates, bound to
// a facility and care team, and committed record by record.
package intake

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal step transition")

// Step is the position of a session in the intake flow.
type Step int

const (
	StepUpload Step = iota
	StepProcessing
	StepReview
	StepDuplicateCheck
	StepAssignment
	StepConfirmation
	StepCommit
)

var stepNames = [...]string{
	StepUpload:         "upload",
	StepProcessing:     "processing",
	StepReview:         "review",
	StepDuplicateCheck: "duplicate-check",
	StepAssignment:     "assignment",
	StepConfirmation:   "confirmation",
	StepCommit:         "commit",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

func (s Step) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stepNames) {
		return nil, fmt.Errorf("unknown step %d", int(s))
	}
	return []byte(stepNames[s]), nil
}

func (s *Step) UnmarshalText(b []byte) error {
	for i, name := range stepNames {
		if name == string(b) {
			*s = Step(i)
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", b)
}

// Curatable reports whether candidates may still be edited. Curation stays
// open at every review step before commit.
func (s Step) Curatable() bool {
	switch s {
	case StepReview, StepDuplicateCheck, StepAssignment, StepConfirmation:
		return true
	}
	return false
}

// Event drives a transition.
type Event int

const (
	EventDocumentAccepted Event = iota
	EventExtractionSucceeded
	EventExtractionFailed
	EventReviewConfirmed
	EventDuplicateCheckFailed
	EventDuplicatesAcknowledged
	EventAssignmentConfirmed
	EventCommitStarted
	EventBack
)

var eventNames = [...]string{
	EventDocumentAccepted:       "document-accepted",
	EventExtractionSucceeded:    "extraction-succeeded",
	EventExtractionFailed:       "extraction-failed",
	EventReviewConfirmed:        "review-confirmed",
	EventDuplicateCheckFailed:   "duplicate-check-failed",
	EventDuplicatesAcknowledged: "duplicates-acknowledged",
	EventAssignmentConfirmed:    "assignment-confirmed",
	EventCommitStarted:          "commit-started",
	EventBack:                   "back",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("Event(%d)", int(e))
	}
	return eventNames[e]
}

type edge struct {
	from  Step
	event Event
}

// forward holds every legal forward edge. Guards are enforced by the
// pipeline before the event is fired.
var forward = map[edge]Step{
	{StepUpload, EventDocumentAccepted}:               StepProcessing,
	{StepProcessing, EventExtractionSucceeded}:        StepReview,
	{StepProcessing, EventExtractionFailed}:           StepUpload,
	{StepReview, EventReviewConfirmed}:                StepDuplicateCheck,
	{StepReview, EventDuplicateCheckFailed}:           StepAssignment,
	{StepDuplicateCheck, EventDuplicatesAcknowledged}: StepAssignment,
	{StepAssignment, EventAssignmentConfirmed}:        StepConfirmation,
	{StepConfirmation, EventCommitStarted}:            StepCommit,
}

// Transition returns the step reached from `from` on ev. duplicateCheckSkipped
// only affects going back from assignment: when the check was skipped the
// reviewer returns straight to review.
func Transition(from Step, ev Event, duplicateCheckSkipped bool) (Step, error) {
	if ev == EventBack {
		return back(from, duplicateCheckSkipped)
	}
	to, ok := forward[edge{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
	}
	return to, nil
}

func back(from Step, duplicateCheckSkipped bool) (Step, error) {
	switch from {
	case StepProcessing, StepReview:
		// processing is transient; review returns to a fresh upload
		return StepUpload, nil
	case StepDuplicateCheck:
		return StepReview, nil
	case StepAssignment:
		if duplicateCheckSkipped {
			return StepReview, nil
		}
		return StepDuplicateCheck, nil
	case StepConfirmation:
		return StepAssignment, nil
	case StepUpload, StepCommit:
		return from, fmt.Errorf("%w: no step before %s", ErrIllegalTransition, from)
	}
	return from, fmt.Errorf("%w: unknown step %d", ErrIllegalTransition, int(from))
}
