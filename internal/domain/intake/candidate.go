package intake

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ehr/ward/internal/platform/extraction"
)

var (
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrNameRequired      = errors.New("candidate name is required")
	ErrNotEditing        = errors.New("candidate is not being edited")
)

// SelectionThreshold is the confidence at or above which a freshly
// extracted candidate starts selected.
const SelectionThreshold = 70

// Narrative holds the SBAR handoff fields read from the document.
type Narrative struct {
	Situation      string `json:"situation,omitempty"`
	Background     string `json:"background,omitempty"`
	Assessment     string `json:"assessment,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

func (n Narrative) IsEmpty() bool {
	return strings.TrimSpace(n.Situation) == "" && strings.TrimSpace(n.Background) == "" &&
		strings.TrimSpace(n.Assessment) == "" && strings.TrimSpace(n.Recommendation) == ""
}

// Candidate is an unconfirmed patient entry. IDs are only unique within
// their session.
type Candidate struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Age           string    `json:"age,omitempty"`
	DiagnosisText string    `json:"diagnosis_text,omitempty"`
	DiagnosisCode string    `json:"diagnosis_code,omitempty"`
	BedLabel      string    `json:"bed_label,omitempty"`
	Insurance     string    `json:"insurance,omitempty"`
	Priority      string    `json:"priority,omitempty"`
	Narrative     Narrative `json:"narrative"`
	Confidence    int       `json:"confidence"`
	Selected      bool      `json:"selected"`
	Editing       bool      `json:"editing"`
}

// CandidatePatch carries the fields a reviewer changed. Nil fields are kept.
type CandidatePatch struct {
	Name           *string `json:"name,omitempty"`
	Age            *string `json:"age,omitempty"`
	DiagnosisText  *string `json:"diagnosis_text,omitempty"`
	DiagnosisCode  *string `json:"diagnosis_code,omitempty"`
	BedLabel       *string `json:"bed_label,omitempty"`
	Insurance      *string `json:"insurance,omitempty"`
	Priority       *string `json:"priority,omitempty"`
	Situation      *string `json:"situation,omitempty"`
	Background     *string `json:"background,omitempty"`
	Assessment     *string `json:"assessment,omitempty"`
	Recommendation *string `json:"recommendation,omitempty"`
}

func (p CandidatePatch) apply(c Candidate) Candidate {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&c.Name, p.Name)
	set(&c.Age, p.Age)
	set(&c.DiagnosisText, p.DiagnosisText)
	set(&c.DiagnosisCode, p.DiagnosisCode)
	set(&c.BedLabel, p.BedLabel)
	set(&c.Insurance, p.Insurance)
	set(&c.Priority, p.Priority)
	set(&c.Narrative.Situation, p.Situation)
	set(&c.Narrative.Background, p.Background)
	set(&c.Narrative.Assessment, p.Assessment)
	set(&c.Narrative.Recommendation, p.Recommendation)
	return c
}

// NormalizeConfidence rounds to the nearest integer and clamps to [0,100].
// An absent or unreadable score counts as 0.
func NormalizeConfidence(n *extraction.FlexNumber) int {
	if n == nil || !n.Valid || math.IsNaN(n.Value) {
		return 0
	}
	v := math.Round(n.Value)
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}

// MapCandidates converts raw extraction output into candidates with
// session-local ids c1, c2, ... in extraction order.
func MapCandidates(raw []extraction.RawCandidate) []Candidate {
	out := make([]Candidate, 0, len(raw))
	for i, r := range raw {
		conf := NormalizeConfidence(r.Confidence)
		out = append(out, Candidate{
			ID:            fmt.Sprintf("c%d", i+1),
			Name:          strings.TrimSpace(r.Name),
			Age:           strings.TrimSpace(string(r.Age)),
			DiagnosisText: strings.TrimSpace(r.Diagnosis),
			DiagnosisCode: strings.TrimSpace(r.DiagnosisCode),
			BedLabel:      strings.TrimSpace(r.Bed),
			Insurance:     strings.TrimSpace(r.Insurance),
			Priority:      strings.ToLower(strings.TrimSpace(r.Priority)),
			Narrative: Narrative{
				Situation:      strings.TrimSpace(r.Situation),
				Background:     strings.TrimSpace(r.Background),
				Assessment:     strings.TrimSpace(r.Assessment),
				Recommendation: strings.TrimSpace(r.Recommendation),
			},
			Confidence: conf,
			Selected:   conf >= SelectionThreshold,
		})
	}
	return out
}

// CandidateStore is the curated candidate collection. Every operation
// returns a new store and leaves the receiver untouched. Edits are staged
// in Drafts and only reach Items through CommitEdit.
type CandidateStore struct {
	Items  []Candidate          `json:"items"`
	Drafts map[string]Candidate `json:"drafts,omitempty"`
}

func NewCandidateStore(items []Candidate) CandidateStore {
	return CandidateStore{Items: items}
}

func (s CandidateStore) clone() CandidateStore {
	out := CandidateStore{Items: make([]Candidate, len(s.Items))}
	copy(out.Items, s.Items)
	if len(s.Drafts) > 0 {
		out.Drafts = make(map[string]Candidate, len(s.Drafts))
		for k, v := range s.Drafts {
			out.Drafts[k] = v
		}
	}
	return out
}

func (s CandidateStore) index(id string) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns the stored candidate (not the draft).
func (s CandidateStore) Get(id string) (Candidate, bool) {
	if i := s.index(id); i >= 0 {
		return s.Items[i], true
	}
	return Candidate{}, false
}

// Draft returns the staged edit for id, if any.
func (s CandidateStore) Draft(id string) (Candidate, bool) {
	d, ok := s.Drafts[id]
	return d, ok
}

func (s CandidateStore) ToggleSelection(id string) (CandidateStore, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	out := s.clone()
	out.Items[i].Selected = !out.Items[i].Selected
	return out, nil
}

// StartEdit stages a copy of the candidate. Starting again keeps the
// existing draft.
func (s CandidateStore) StartEdit(id string) (CandidateStore, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	out := s.clone()
	if out.Drafts == nil {
		out.Drafts = make(map[string]Candidate)
	}
	if _, ok := out.Drafts[id]; !ok {
		out.Drafts[id] = out.Items[i]
	}
	out.Items[i].Editing = true
	return out, nil
}

// CommitEdit applies patch to the draft and replaces the stored candidate
// with it. Selection and confidence are never changed by an edit.
func (s CandidateStore) CommitEdit(id string, patch CandidatePatch) (CandidateStore, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	draft, ok := s.Drafts[id]
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrNotEditing, id)
	}
	updated := patch.apply(draft)
	if updated.Name == "" {
		return s, ErrNameRequired
	}
	updated.ID = id
	updated.Selected = s.Items[i].Selected
	updated.Confidence = s.Items[i].Confidence
	updated.Editing = false

	out := s.clone()
	out.Items[i] = updated
	delete(out.Drafts, id)
	return out, nil
}

// CancelEdit discards the draft. The stored candidate is unchanged.
func (s CandidateStore) CancelEdit(id string) (CandidateStore, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	out := s.clone()
	delete(out.Drafts, id)
	out.Items[i].Editing = false
	return out, nil
}

// DiscardDrafts cancels every open edit.
func (s CandidateStore) DiscardDrafts() CandidateStore {
	out := s.clone()
	out.Drafts = nil
	for i := range out.Items {
		out.Items[i].Editing = false
	}
	return out
}

func (s CandidateStore) Remove(id string) (CandidateStore, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	out := s.clone()
	out.Items = append(out.Items[:i], out.Items[i+1:]...)
	delete(out.Drafts, id)
	return out, nil
}

func (s CandidateStore) SelectAll() CandidateStore {
	return s.setAll(true)
}

func (s CandidateStore) DeselectAll() CandidateStore {
	return s.setAll(false)
}

func (s CandidateStore) setAll(selected bool) CandidateStore {
	out := s.clone()
	for i := range out.Items {
		out.Items[i].Selected = selected
	}
	return out
}

func (s CandidateStore) SelectedCount() int {
	n := 0
	for _, c := range s.Items {
		if c.Selected {
			n++
		}
	}
	return n
}

// Accepted returns the selected candidates in presentation order.
func (s CandidateStore) Accepted() []Candidate {
	var out []Candidate
	for _, c := range s.Items {
		if c.Selected {
			out = append(out, c)
		}
	}
	return out
}
