package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/ward/internal/domain/admin"
	"github.com/ehr/ward/internal/domain/careteam"
	"github.com/ehr/ward/internal/domain/identity"
	"github.com/ehr/ward/internal/platform/blobstore"
	"github.com/ehr/ward/internal/platform/extraction"
	"github.com/ehr/ward/internal/platform/telemetry"
)

const tracerName = "github.com/ehr/ward/intake"

// DuplicateCheckWarning is stored on a session whose duplicate lookup failed.
const DuplicateCheckWarning = "Duplicate check is unavailable right now; continuing without duplicate flags."

// ErrExtractionFailed wraps every failure of the recognition step. The
// session has already been returned to upload when it is reported.
var ErrExtractionFailed = errors.New("document extraction failed")

// Session lifecycle events reported to the Recorder.
const (
	SessionCreated   = "created"
	SessionAbandoned = "abandoned"
	SessionExpired   = "expired"
	SessionCommitted = "committed"
)

// Recorder receives pipeline metrics. telemetry.Metrics implements it.
type Recorder interface {
	ObserveExtraction(outcome string, d time.Duration)
	DuplicateCheck(outcome string)
	CommitFinished(succeeded, failed int)
	SessionEvent(event string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveExtraction(string, time.Duration) {}
func (nopRecorder) DuplicateCheck(string)                   {}
func (nopRecorder) CommitFinished(int, int)                 {}
func (nopRecorder) SessionEvent(string)                     {}

type FacilityLister interface {
	ListFacilities(ctx context.Context) ([]*admin.Facility, error)
}

type TeamLister interface {
	ListTeams(ctx context.Context, facilityID *uuid.UUID) ([]*careteam.Team, error)
}

// Deps are the collaborators of a Pipeline. All are required.
type Deps struct {
	Sessions   SessionStore
	Extractor  extraction.Extractor
	Blobs      blobstore.Store
	Detector   DuplicateDetector
	Facilities FacilityLister
	Teams      TeamLister
	Committer  *CommitExecutor
}

// Pipeline drives intake sessions through their steps. Every operation on a
// session holds that session's lock for its whole duration.
type Pipeline struct {
	deps     Deps
	locks    *keyedMutex
	metrics  Recorder
	tracer   trace.Tracer
	logger   zerolog.Logger
	maxBytes int64
	ttl      time.Duration
	now      func() time.Time
}

type Option func(*Pipeline)

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracer = tp.Tracer(tracerName) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMaxUploadBytes sets the upload ceiling for files and pasted text.
func WithMaxUploadBytes(n int64) Option {
	return func(p *Pipeline) { p.maxBytes = n }
}

// WithSessionTTL sets how long an untouched session is kept.
func WithSessionTTL(d time.Duration) Option {
	return func(p *Pipeline) { p.ttl = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		deps:     deps,
		locks:    newKeyedMutex(),
		metrics:  nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		logger:   zerolog.Nop(),
		maxBytes: extraction.DefaultMaxBytes,
		ttl:      12 * time.Hour,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// MaxUploadBytes is the configured upload ceiling.
func (p *Pipeline) MaxUploadBytes() int64 {
	return p.maxBytes
}

// --- Session lifecycle ---

func (p *Pipeline) Create(ctx context.Context, tenantID, ownerID string) (*Session, error) {
	s := NewSession(tenantID, ownerID, p.now())
	if err := p.deps.Sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create intake session: %w", err)
	}
	p.metrics.SessionEvent(SessionCreated)
	p.logger.Info().Str("session_id", s.ID).Str("owner_id", ownerID).Msg("intake session created")
	return s, nil
}

func (p *Pipeline) Get(ctx context.Context, id string) (*Session, error) {
	return p.deps.Sessions.Get(ctx, id)
}

// Abandon discards the session and its stored document. Nothing already
// committed is touched.
func (p *Pipeline) Abandon(ctx context.Context, id string) error {
	unlock := p.locks.Lock(id)
	defer unlock()

	s, err := p.deps.Sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	p.discardDocument(ctx, s.Document)
	if err := p.deps.Sessions.Delete(ctx, id); err != nil {
		return err
	}
	p.metrics.SessionEvent(SessionAbandoned)
	p.logger.Info().Str("session_id", id).Str("step", s.Step.String()).Msg("intake session abandoned")
	return nil
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed.
func (p *Pipeline) Sweep(ctx context.Context) (int, error) {
	removed, err := p.deps.Sessions.Sweep(ctx, p.now().Add(-p.ttl))
	if err != nil {
		return 0, fmt.Errorf("sweep intake sessions: %w", err)
	}
	for _, s := range removed {
		p.discardDocument(ctx, s.Document)
		p.metrics.SessionEvent(SessionExpired)
	}
	if len(removed) > 0 {
		p.logger.Info().Int("count", len(removed)).Msg("expired intake sessions removed")
	}
	return len(removed), nil
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (p *Pipeline) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.Sweep(ctx); err != nil {
					p.logger.Error().Err(err).Msg("intake session sweep failed")
				}
			}
		}
	}()
}

// mutate loads the session under its lock, applies fn and saves the result.
// Nothing is saved when fn fails.
func (p *Pipeline) mutate(ctx context.Context, id string, fn func(s *Session) error) (*Session, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	s, err := p.deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	return s, p.save(ctx, s)
}

func (p *Pipeline) save(ctx context.Context, s *Session) error {
	s.UpdatedAt = p.now()
	if err := p.deps.Sessions.Save(ctx, s); err != nil {
		return fmt.Errorf("save intake session: %w", err)
	}
	return nil
}

// --- Upload and extraction ---

// SubmitDocument validates an uploaded file and runs extraction on it. A
// file that fails validation leaves the session untouched.
func (p *Pipeline) SubmitDocument(ctx context.Context, id string, doc extraction.Document) (*Session, error) {
	doc, err := extraction.Validate(doc, p.maxBytes)
	if err != nil {
		return nil, err
	}
	return p.submit(ctx, id, doc)
}

// SubmitText runs extraction on freeform pasted text.
func (p *Pipeline) SubmitText(ctx context.Context, id, text string) (*Session, error) {
	doc, err := extraction.ValidateText(text, p.maxBytes)
	if err != nil {
		return nil, err
	}
	return p.submit(ctx, id, doc)
}

func (p *Pipeline) submit(ctx context.Context, id string, doc extraction.Document) (*Session, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	s, err := p.deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Fire(EventDocumentAccepted); err != nil {
		return nil, err
	}
	s.LastError = ""
	if err := p.save(ctx, s); err != nil {
		return nil, err
	}

	previous := s.Document
	ref, result, err := p.extract(ctx, s.ID, doc)
	if err != nil {
		return p.failExtraction(ctx, s, err)
	}
	if previous != nil && previous.Key != ref.Key {
		p.discardDocument(ctx, previous)
	}

	s.Document = ref
	s.Candidates = NewCandidateStore(MapCandidates(result.Patients))
	s.Duplicates = nil
	s.DuplicateWarning = ""
	s.DuplicateCheckSkipped = false
	s.DuplicatesStale = false
	s.Summary = nil
	if err := s.Fire(EventExtractionSucceeded); err != nil {
		return nil, err
	}
	if err := p.save(ctx, s); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("session_id", s.ID).
		Int("candidates", len(s.Candidates.Items)).
		Int("selected", s.Candidates.SelectedCount()).
		Msg("intake extraction succeeded")
	return s, nil
}

// extract stores the source document and calls the recognition service.
// The stored copy is removed again when extraction fails.
func (p *Pipeline) extract(ctx context.Context, sessionID string, doc extraction.Document) (*DocumentRef, *extraction.Result, error) {
	ctx, span := p.tracer.Start(ctx, "intake.extract", trace.WithAttributes(
		attribute.String("intake.session_id", sessionID),
		attribute.String("document.kind", string(doc.Kind())),
		attribute.Int("document.size", len(doc.Data)),
	))
	defer span.End()

	key := path.Join("intake", sessionID, doc.Filename)
	obj, err := p.deps.Blobs.Put(ctx, key, doc.MimeType, bytes.NewReader(doc.Data))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store document")
		return nil, nil, fmt.Errorf("store document: %w", err)
	}
	ref := &DocumentRef{
		Key:         obj.Key,
		Filename:    doc.Filename,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		Hash:        obj.Hash,
	}

	start := p.now()
	result, err := p.deps.Extractor.Analyze(ctx, doc)
	if err == nil && (result == nil || len(result.Patients) == 0) {
		err = extraction.ErrNoCandidates
	}
	elapsed := p.now().Sub(start)

	if err != nil {
		outcome := telemetry.OutcomeFailed
		if errors.Is(err, extraction.ErrNoCandidates) {
			outcome = telemetry.OutcomeNoCandidates
		}
		p.metrics.ObserveExtraction(outcome, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		p.discardDocument(ctx, ref)
		return nil, nil, err
	}

	p.metrics.ObserveExtraction(telemetry.OutcomeSucceeded, elapsed)
	span.SetAttributes(attribute.Int("intake.candidates", len(result.Patients)))
	return ref, result, nil
}

// failExtraction returns the session to upload with no candidates kept and
// the error recorded for display.
func (p *Pipeline) failExtraction(ctx context.Context, s *Session, cause error) (*Session, error) {
	p.logger.Error().Err(cause).Str("session_id", s.ID).Msg("intake extraction failed")

	if err := s.Fire(EventExtractionFailed); err != nil {
		return nil, err
	}
	if s.Document != nil {
		p.discardDocument(ctx, s.Document)
	}
	s.Document = nil
	s.Candidates = NewCandidateStore(nil)
	s.Duplicates = nil
	s.DuplicateWarning = ""
	s.DuplicateCheckSkipped = false
	s.DuplicatesStale = false
	s.LastError = cause.Error()
	if err := p.save(ctx, s); err != nil {
		return nil, err
	}
	return s, fmt.Errorf("%w: %w", ErrExtractionFailed, cause)
}

// OpenDocument returns the stored source document. The caller closes it.
func (p *Pipeline) OpenDocument(ctx context.Context, id string) (io.ReadCloser, *DocumentRef, error) {
	s, err := p.deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.Document == nil {
		return nil, nil, ErrNoDocument
	}
	rc, _, err := p.deps.Blobs.Get(ctx, s.Document.Key)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, ErrNoDocument
	}
	if err != nil {
		return nil, nil, err
	}
	return rc, s.Document, nil
}

func (p *Pipeline) discardDocument(ctx context.Context, ref *DocumentRef) {
	if ref == nil {
		return
	}
	if err := p.deps.Blobs.Delete(ctx, ref.Key); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		p.logger.Warn().Err(err).Str("key", ref.Key).Msg("source document not deleted")
	}
}

// --- Curation ---

func (p *Pipeline) curate(ctx context.Context, id string, op func(CandidateStore) (CandidateStore, error)) (*Session, error) {
	return p.mutate(ctx, id, func(s *Session) error {
		return s.Curate(op)
	})
}

func (p *Pipeline) ToggleSelection(ctx context.Context, id, candidateID string) (*Session, error) {
	return p.curate(ctx, id, func(cs CandidateStore) (CandidateStore, error) {
		return cs.ToggleSelection(candidateID)
	})
}

func (p *Pipeline) StartEdit(ctx context.Context, id, candidateID string) (*Session, error) {
	return p.curate(ctx, id, func(cs CandidateStore) (CandidateStore, error) {
		return cs.StartEdit(candidateID)
	})
}

func (p *Pipeline) CommitEdit(ctx context.Context, id, candidateID string, patch CandidatePatch) (*Session, error) {
	return p.curate(ctx, id, func(cs CandidateStore) (CandidateStore, error) {
		return cs.CommitEdit(candidateID, patch)
	})
}

func (p *Pipeline) CancelEdit(ctx context.Context, id, candidateID string) (*Session, error) {
	return p.curate(ctx, id, func(cs CandidateStore) (CandidateStore, error) {
		return cs.CancelEdit(candidateID)
	})
}

func (p *Pipeline) RemoveCandidate(ctx context.Context, id, candidateID string) (*Session, error) {
	return p.curate(ctx, id, func(cs CandidateStore) (CandidateStore, error) {
		return cs.Remove(candidateID)
	})
}

func (p *Pipeline) SelectAll(ctx context.Context, id string) (*Session, error) {
	return p.curate(ctx, id, func(cs CandidateStore) (CandidateStore, error) {
		return cs.SelectAll(), nil
	})
}

func (p *Pipeline) DeselectAll(ctx context.Context, id string) (*Session, error) {
	return p.curate(ctx, id, func(cs CandidateStore) (CandidateStore, error) {
		return cs.DeselectAll(), nil
	})
}

// --- Duplicate check ---

// ConfirmReview closes review and runs the duplicate check once over the
// eligible names. When the lookup fails the duplicate step is skipped and
// the session moves straight to assignment with a warning.
func (p *Pipeline) ConfirmReview(ctx context.Context, id string) (*Session, error) {
	return p.mutate(ctx, id, func(s *Session) error {
		if s.Step != StepReview {
			return fmt.Errorf("%w: %s on %s", ErrIllegalTransition, EventReviewConfirmed, s.Step)
		}
		if s.Candidates.SelectedCount() == 0 {
			return ErrNoSelection
		}

		matches, err := p.checkDuplicates(ctx, s)
		if err != nil {
			p.logger.Warn().Err(err).Str("session_id", s.ID).Msg("duplicate check failed, step skipped")
			s.Duplicates = nil
			s.DuplicateWarning = DuplicateCheckWarning
			s.DuplicateCheckSkipped = true
			s.DuplicatesStale = false
			return s.Fire(EventDuplicateCheckFailed)
		}
		s.Duplicates = matches
		s.DuplicateWarning = ""
		s.DuplicateCheckSkipped = false
	s.DuplicatesStale = false
		return s.Fire(EventReviewConfirmed)
	})
}

func (p *Pipeline) checkDuplicates(ctx context.Context, s *Session) ([]identity.DuplicateMatch, error) {
	names := EligibleNames(s.Candidates.Items)
	if len(names) == 0 {
		p.metrics.DuplicateCheck(telemetry.OutcomeSkipped)
		return nil, nil
	}

	ctx, span := p.tracer.Start(ctx, "intake.duplicate_check", trace.WithAttributes(
		attribute.String("intake.session_id", s.ID),
		attribute.Int("intake.names", len(names)),
	))
	defer span.End()

	matches, err := p.deps.Detector.CheckBatch(ctx, names)
	if err != nil {
		p.metrics.DuplicateCheck(telemetry.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "duplicate check failed")
		return nil, err
	}
	p.metrics.DuplicateCheck(telemetry.OutcomeSucceeded)
	span.SetAttributes(attribute.Int("intake.duplicates", len(matches)))
	return matches, nil
}

// DuplicatesFor answers isDuplicate and matchesFor over the stored result.
// It never calls the detector.
func (p *Pipeline) DuplicatesFor(ctx context.Context, id, name string) (bool, []identity.PatientMatch, error) {
	s, err := p.deps.Sessions.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	idx := s.Index()
	return idx.IsDuplicate(name), idx.MatchesFor(name), nil
}

func (p *Pipeline) AcknowledgeDuplicates(ctx context.Context, id string) (*Session, error) {
	return p.mutate(ctx, id, func(s *Session) error {
		return s.Fire(EventDuplicatesAcknowledged)
	})
}

// --- Assignment ---

// AssignmentOptions lists the facilities and the teams of the chosen
// facility (all teams when none is chosen yet).
func (p *Pipeline) AssignmentOptions(ctx context.Context, id string) (AssignmentOptions, error) {
	s, err := p.deps.Sessions.Get(ctx, id)
	if err != nil {
		return AssignmentOptions{}, err
	}
	facilities, err := p.deps.Facilities.ListFacilities(ctx)
	if err != nil {
		return AssignmentOptions{}, fmt.Errorf("list facilities: %w", err)
	}
	teams, err := p.deps.Teams.ListTeams(ctx, s.Assignment.FacilityID)
	if err != nil {
		return AssignmentOptions{}, fmt.Errorf("list teams: %w", err)
	}
	return ResolveOptions(facilities, teams), nil
}

// SetAssignment sets whichever of facility and team is given. A team must
// belong to the chosen facility; changing the facility drops a team that
// does not.
func (p *Pipeline) SetAssignment(ctx context.Context, id string, facilityID, teamID *uuid.UUID) (*Session, error) {
	return p.mutate(ctx, id, func(s *Session) error {
		if s.Step != StepAssignment {
			return fmt.Errorf("%w: assignment can only change at %s, session is at %s",
				ErrIllegalTransition, StepAssignment, s.Step)
		}
		if facilityID != nil {
			facilities, err := p.deps.Facilities.ListFacilities(ctx)
			if err != nil {
				return fmt.Errorf("list facilities: %w", err)
			}
			if !(AssignmentOptions{Facilities: facilities}).hasFacility(*facilityID) {
				return ErrUnknownFacility
			}
			s.Assignment = s.Assignment.WithFacility(*facilityID)
		}

		switch {
		case teamID != nil:
			ok, err := p.teamInFacility(ctx, *teamID, s.Assignment.FacilityID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrUnknownTeam
			}
			s.Assignment = s.Assignment.WithTeam(*teamID)
		case facilityID != nil && s.Assignment.TeamID != nil:
			ok, err := p.teamInFacility(ctx, *s.Assignment.TeamID, s.Assignment.FacilityID)
			if err != nil {
				return err
			}
			if !ok {
				s.Assignment.TeamID = nil
			}
		}
		return nil
	})
}

// teamInFacility reports whether teamID is listed for facilityID (for any
// facility when facilityID is nil).
func (p *Pipeline) teamInFacility(ctx context.Context, teamID uuid.UUID, facilityID *uuid.UUID) (bool, error) {
	teams, err := p.deps.Teams.ListTeams(ctx, facilityID)
	if err != nil {
		return false, fmt.Errorf("list teams: %w", err)
	}
	return AssignmentOptions{Teams: teams}.hasTeam(teamID), nil
}

func (p *Pipeline) ConfirmAssignment(ctx context.Context, id string) (*Session, error) {
	return p.mutate(ctx, id, func(s *Session) error {
		if s.Step != StepAssignment {
			return fmt.Errorf("%w: %s on %s", ErrIllegalTransition, EventAssignmentConfirmed, s.Step)
		}
		if err := s.Assignment.Validate(); err != nil {
			return err
		}
		ok, err := p.teamInFacility(ctx, *s.Assignment.TeamID, s.Assignment.FacilityID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownTeam
		}
		return s.Fire(EventAssignmentConfirmed)
	})
}

// Back moves the session to the previous step. Candidates, duplicate
// results and the assignment are kept.
func (p *Pipeline) Back(ctx context.Context, id string) (*Session, error) {
	return p.mutate(ctx, id, func(s *Session) error {
		return s.Fire(EventBack)
	})
}

// --- Commit ---

// Commit writes the accepted candidates. Once the session has moved to
// commit the batch runs to completion even if ctx is cancelled.
func (p *Pipeline) Commit(ctx context.Context, id, actorID string) (*Session, error) {
	unlock := p.locks.Lock(id)
	defer unlock()

	s, err := p.deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Step != StepConfirmation {
		return nil, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, EventCommitStarted, s.Step)
	}
	accepted := s.Candidates.Accepted()
	if len(accepted) == 0 {
		return nil, ErrNoSelection
	}
	if err := s.Assignment.Validate(); err != nil {
		return nil, err
	}
	if err := s.Fire(EventCommitStarted); err != nil {
		return nil, err
	}
	if err := p.save(ctx, s); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "intake.commit", trace.WithAttributes(
		attribute.String("intake.session_id", s.ID),
		attribute.Int("intake.accepted", len(accepted)),
	))
	defer span.End()

	summary := p.deps.Committer.Execute(ctx, CommitRequest{
		TenantID:   s.TenantID,
		ActorID:    actorID,
		SessionID:  s.ID,
		FacilityID: *s.Assignment.FacilityID,
		TeamID:     *s.Assignment.TeamID,
		Candidates: accepted,
	})
	p.metrics.CommitFinished(summary.SuccessCount, summary.ErrorCount)
	p.metrics.SessionEvent(SessionCommitted)
	span.SetAttributes(
		attribute.Int("intake.succeeded", summary.SuccessCount),
		attribute.Int("intake.failed", summary.ErrorCount),
	)
	if summary.SuccessCount == 0 {
		span.SetStatus(codes.Error, "no records committed")
	}

	s.Summary = &summary
	if err := p.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
