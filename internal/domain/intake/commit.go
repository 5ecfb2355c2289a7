package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ward/internal/domain/admission"
	"github.com/ehr/ward/internal/domain/documents"
	"github.com/ehr/ward/internal/domain/identity"
	"github.com/ehr/ward/internal/platform/notification"
)

// Collaborators of the commit loop. The identity, admission, documents and
// admin services satisfy them.
type (
	PatientCreator interface {
		CreatePatient(ctx context.Context, name string) (*identity.Patient, error)
	}
	AdmissionCreator interface {
		CreateAdmission(ctx context.Context, a *admission.Admission) error
	}
	NoteSaver interface {
		SaveDraftSBAR(ctx context.Context, admissionID uuid.UUID, authorID string, n documents.SBAR) (*documents.ClinicalNote, error)
	}
	OnboardingCompleter interface {
		CompleteOnboarding(ctx context.Context, userID string) error
	}
	CacheInvalidator interface {
		Invalidate(tenantID, pathPrefix string) int
	}
	Notifier interface {
		IntakeCommitted(evt notification.IntakeCommitted) bool
	}
)

const (
	ToastSuccess = "success"
	ToastFailure = "failure"
)

// FallbackBedPrefix is used for candidates without a bed label.
const FallbackBedPrefix = "LEITO-"

type Toast struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Failure identifies a candidate that could not be committed.
type Failure struct {
	CandidateID string `json:"candidate_id"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
}

// Summary is the result of a commit. SuccessCount + ErrorCount == Total.
type Summary struct {
	SuccessCount int       `json:"success_count"`
	ErrorCount   int       `json:"error_count"`
	Total        int       `json:"total"`
	Failures     []Failure `json:"failures,omitempty"`
	Toast        Toast     `json:"toast"`
}

// CommitRequest is everything the commit loop needs from a session.
type CommitRequest struct {
	TenantID   string
	ActorID    string
	SessionID  string
	FacilityID uuid.UUID
	TeamID     uuid.UUID
	Candidates []Candidate
}

// CommitExecutor writes accepted candidates as patients, admissions and
// draft notes. Records are written one candidate at a time and a failure
// only affects its own candidate.
type CommitExecutor struct {
	patients   PatientCreator
	admissions AdmissionCreator
	notes      NoteSaver
	profiles   OnboardingCompleter
	cache      CacheInvalidator
	notifier   Notifier
	logger     zerolog.Logger
}

type CommitOption func(*CommitExecutor)

func WithNoteSaver(n NoteSaver) CommitOption {
	return func(e *CommitExecutor) { e.notes = n }
}

func WithOnboarding(p OnboardingCompleter) CommitOption {
	return func(e *CommitExecutor) { e.profiles = p }
}

func WithCacheInvalidator(c CacheInvalidator) CommitOption {
	return func(e *CommitExecutor) { e.cache = c }
}

func WithNotifier(n Notifier) CommitOption {
	return func(e *CommitExecutor) { e.notifier = n }
}

func WithCommitLogger(l zerolog.Logger) CommitOption {
	return func(e *CommitExecutor) { e.logger = l }
}

func NewCommitExecutor(patients PatientCreator, admissions AdmissionCreator, opts ...CommitOption) *CommitExecutor {
	e := &CommitExecutor{
		patients:   patients,
		admissions: admissions,
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute commits every candidate in req in order. It does not return an
// error: per-record failures are counted in the summary and side effects
// after the loop are best-effort.
func (e *CommitExecutor) Execute(ctx context.Context, req CommitRequest) Summary {
	q := NewQueue(func(ctx context.Context, it Item[Candidate]) error {
		return e.commitOne(ctx, req, it)
	})
	res := q.Run(ctx, req.Candidates)

	summary := Summary{
		SuccessCount: res.Succeeded,
		ErrorCount:   res.Failed,
		Total:        len(req.Candidates),
	}
	for _, f := range res.Errors {
		e.logger.Warn().Err(f.Err).
			Str("session_id", req.SessionID).
			Str("candidate_id", f.Value.ID).
			Int("index", f.Index).
			Msg("intake commit failed for candidate")
		summary.Failures = append(summary.Failures, Failure{
			CandidateID: f.Value.ID,
			Name:        f.Value.Name,
			Reason:      f.Err.Error(),
		})
	}
	summary.Toast = toastFor(summary)

	e.afterCommit(ctx, req, summary)

	e.logger.Info().
		Str("session_id", req.SessionID).
		Int("success", summary.SuccessCount).
		Int("errors", summary.ErrorCount).
		Int("total", summary.Total).
		Msg("intake commit finished")
	return summary
}

func (e *CommitExecutor) commitOne(ctx context.Context, req CommitRequest, it Item[Candidate]) error {
	c := it.Value

	p, err := e.patients.CreatePatient(ctx, c.Name)
	if err != nil {
		return fmt.Errorf("create patient: %w", err)
	}

	a := &admission.Admission{
		PatientID:     p.ID,
		FacilityID:    req.FacilityID,
		TeamID:        req.TeamID,
		Bed:           BedLabel(c.BedLabel, it.Succeeded+1),
		Priority:      admission.ParsePriority(c.Priority),
		MainDiagnosis: MainDiagnosis(c.DiagnosisCode, c.DiagnosisText),
		Insurance:     optionalString(c.Insurance),
	}
	if err := e.admissions.CreateAdmission(ctx, a); err != nil {
		return fmt.Errorf("create admission: %w", err)
	}

	if e.notes != nil && !c.Narrative.IsEmpty() {
		sbar := documents.SBAR{
			Situation:      c.Narrative.Situation,
			Background:     c.Narrative.Background,
			Assessment:     c.Narrative.Assessment,
			Recommendation: c.Narrative.Recommendation,
		}
		if _, err := e.notes.SaveDraftSBAR(ctx, a.ID, req.ActorID, sbar); err != nil {
			e.logger.Warn().Err(err).
				Str("candidate_id", c.ID).
				Str("admission_id", a.ID.String()).
				Msg("draft note not saved")
		}
	}
	return nil
}

func (e *CommitExecutor) afterCommit(ctx context.Context, req CommitRequest, s Summary) {
	if e.profiles != nil && req.ActorID != "" {
		if err := e.profiles.CompleteOnboarding(ctx, req.ActorID); err != nil {
			e.logger.Warn().Err(err).Str("user_id", req.ActorID).Msg("onboarding flag not updated")
		}
	}
	if e.cache != nil {
		e.cache.Invalidate(req.TenantID, admission.ListPath)
	}
	if e.notifier != nil {
		queued := e.notifier.IntakeCommitted(notification.IntakeCommitted{
			TenantID:     req.TenantID,
			ActorID:      req.ActorID,
			SessionID:    req.SessionID,
			FacilityID:   req.FacilityID.String(),
			TeamID:       req.TeamID.String(),
			SuccessCount: s.SuccessCount,
			ErrorCount:   s.ErrorCount,
			Total:        s.Total,
		})
		if !queued {
			e.logger.Warn().Str("session_id", req.SessionID).Msg("intake notification dropped")
		}
	}
}

// MainDiagnosis joins code and text as "{code} - {text}", falls back to
// whichever is present and returns nil when both are blank.
func MainDiagnosis(code, text string) *string {
	code, text = strings.TrimSpace(code), strings.TrimSpace(text)
	var s string
	switch {
	case code != "" && text != "":
		s = code + " - " + text
	case code != "":
		s = code
	case text != "":
		s = text
	default:
		return nil
	}
	return &s
}

// BedLabel returns the candidate's bed or the generated fallback for the
// n-th successful record.
func BedLabel(label string, n int) string {
	if label = strings.TrimSpace(label); label != "" {
		return label
	}
	return fmt.Sprintf("%s%d", FallbackBedPrefix, n)
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func toastFor(s Summary) Toast {
	if s.SuccessCount == 0 {
		return Toast{Kind: ToastFailure, Message: fmt.Sprintf("No patients were admitted (%d failed)", s.ErrorCount)}
	}
	msg := fmt.Sprintf("%d of %d patients admitted", s.SuccessCount, s.Total)
	if s.ErrorCount > 0 {
		msg += fmt.Sprintf(", %d failed", s.ErrorCount)
	}
	return Toast{Kind: ToastSuccess, Message: msg}
}
