package intake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ward/internal/domain/admin"
	"github.com/ehr/ward/internal/domain/admission"
	"github.com/ehr/ward/internal/domain/careteam"
	"github.com/ehr/ward/internal/domain/documents"
	"github.com/ehr/ward/internal/domain/identity"
	"github.com/ehr/ward/internal/platform/extraction"
	"github.com/ehr/ward/internal/platform/notification"
)

var errBackend = errors.New("backend unavailable")

type fakePatients struct {
	mu      sync.Mutex
	fail    map[string]bool
	created []*identity.Patient
}

func (f *fakePatients) CreatePatient(ctx context.Context, name string) (*identity.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.fail[name] {
		return nil, errBackend
	}
	p, err := identity.NewPatient(name)
	if err != nil {
		return nil, err
	}
	f.created = append(f.created, p)
	return p, nil
}

type fakeAdmissions struct {
	mu      sync.Mutex
	fail    map[uuid.UUID]bool
	failAll bool
	created []*admission.Admission
}

func (f *fakeAdmissions) CreateAdmission(_ context.Context, a *admission.Admission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.fail[a.PatientID] {
		return errBackend
	}
	a.ID = uuid.New()
	f.created = append(f.created, a)
	return nil
}

type fakeNotes struct {
	err   error
	saved []documents.SBAR
}

func (f *fakeNotes) SaveDraftSBAR(_ context.Context, admissionID uuid.UUID, authorID string, n documents.SBAR) (*documents.ClinicalNote, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.saved = append(f.saved, n)
	return documents.NewDraftSBAR(admissionID, authorID, n), nil
}

type fakeProfiles struct {
	err   error
	users []string
}

func (f *fakeProfiles) CompleteOnboarding(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return f.err
}

type fakeCache struct {
	calls []string
}

func (f *fakeCache) Invalidate(tenantID, pathPrefix string) int {
	f.calls = append(f.calls, tenantID+" "+pathPrefix)
	return 1
}

type fakeNotifier struct {
	events []notification.IntakeCommitted
}

func (f *fakeNotifier) IntakeCommitted(evt notification.IntakeCommitted) bool {
	f.events = append(f.events, evt)
	return true
}

type fakeRecorder struct {
	mu          sync.Mutex
	extractions []string
	duplicates  []string
	commits     [][2]int
	sessions    []string
}

func (r *fakeRecorder) ObserveExtraction(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractions = append(r.extractions, outcome)
}

func (r *fakeRecorder) DuplicateCheck(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duplicates = append(r.duplicates, outcome)
}

func (r *fakeRecorder) CommitFinished(succeeded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, [2]int{succeeded, failed})
}

func (r *fakeRecorder) SessionEvent(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, event)
}

type fakeExtractor struct {
	mu     sync.Mutex
	result *extraction.Result
	err    error
	docs   []extraction.Document
}

func (f *fakeExtractor) Analyze(_ context.Context, doc extraction.Document) (*extraction.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeFacilities struct {
	items []*admin.Facility
	err   error
}

func (f *fakeFacilities) ListFacilities(context.Context) ([]*admin.Facility, error) {
	return f.items, f.err
}

type fakeTeams struct {
	items []*careteam.Team
	err   error
}

func (f *fakeTeams) ListTeams(_ context.Context, facilityID *uuid.UUID) ([]*careteam.Team, error) {
	if f.err != nil {
		return nil, f.err
	}
	if facilityID == nil {
		return f.items, nil
	}
	var out []*careteam.Team
	for _, t := range f.items {
		if t.FacilityID == nil || *t.FacilityID == *facilityID {
			out = append(out, t)
		}
	}
	return out, nil
}
