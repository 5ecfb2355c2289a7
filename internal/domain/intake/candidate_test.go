package intake

import (
	"errors"
	"testing"

	"github.com/ehr/ward/internal/platform/extraction"
)

func conf(v float64) *extraction.FlexNumber {
	return &extraction.FlexNumber{Value: v, Valid: true}
}

func rawWithConfidence(values ...float64) []extraction.RawCandidate {
	out := make([]extraction.RawCandidate, len(values))
	for i, v := range values {
		out[i] = extraction.RawCandidate{Name: "Patient", Confidence: conf(v)}
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestMapCandidates_SelectionFollowsConfidence(t *testing.T) {
	got := MapCandidates(rawWithConfidence(95, 60, 72))
	want := []bool{true, false, true}
	for i, c := range got {
		if c.Selected != want[i] {
			t.Errorf("candidate %d: expected selected=%v, got %v", i, want[i], c.Selected)
		}
		if c.Selected != (c.Confidence >= SelectionThreshold) {
			t.Errorf("candidate %d: selected does not match confidence %d", i, c.Confidence)
		}
	}

	all := NewCandidateStore(got).SelectAll()
	for i, c := range all.Items {
		if !c.Selected {
			t.Errorf("candidate %d not selected after SelectAll", i)
		}
	}
}

func TestMapCandidates_IDsAndFields(t *testing.T) {
	raw := []extraction.RawCandidate{
		{Name: "  Ana Costa ", Age: "72", Diagnosis: "Pneumonia", DiagnosisCode: "J18", Bed: "12B", Priority: " HIGH ", Situation: "febrile"},
		{Name: "Bruno Lima"},
	}
	got := MapCandidates(raw)
	if got[0].ID != "c1" || got[1].ID != "c2" {
		t.Fatalf("unexpected ids %s, %s", got[0].ID, got[1].ID)
	}
	c := got[0]
	if c.Name != "Ana Costa" || c.Age != "72" || c.DiagnosisCode != "J18" || c.BedLabel != "12B" {
		t.Errorf("unexpected mapping %+v", c)
	}
	if c.Priority != "high" {
		t.Errorf("expected lowercased priority, got %q", c.Priority)
	}
	if c.Narrative.Situation != "febrile" || c.Narrative.IsEmpty() {
		t.Errorf("expected narrative to be kept, got %+v", c.Narrative)
	}
	if !got[1].Narrative.IsEmpty() {
		t.Error("expected empty narrative")
	}
	if got[1].Confidence != 0 || got[1].Selected {
		t.Errorf("absent confidence should map to 0 and unselected, got %+v", got[1])
	}
}

func TestNormalizeConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   *extraction.FlexNumber
		want int
	}{
		{"absent", nil, 0},
		{"invalid", &extraction.FlexNumber{}, 0},
		{"rounds down", conf(69.4), 69},
		{"rounds up", conf(69.5), 70},
		{"clamps high", conf(140), 100},
		{"clamps low", conf(-3), 0},
		{"exact", conf(70), 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeConfidence(tt.in); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func testStore() CandidateStore {
	return NewCandidateStore([]Candidate{
		{ID: "c1", Name: "Ana Costa", Confidence: 95, Selected: true},
		{ID: "c2", Name: "Bruno Lima", Confidence: 60},
		{ID: "c3", Name: "Carla Dias", Confidence: 72, Selected: true},
	})
}

func TestCandidateStore_Toggle(t *testing.T) {
	s := testStore()
	next, err := s.ToggleSelection("c2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !next.Items[1].Selected {
		t.Error("expected c2 to be selected")
	}
	if s.Items[1].Selected {
		t.Error("original store was modified")
	}
	if _, err := s.ToggleSelection("c9"); !errors.Is(err, ErrCandidateNotFound) {
		t.Errorf("expected ErrCandidateNotFound, got %v", err)
	}
}

func TestCandidateStore_EditIsStaged(t *testing.T) {
	s, err := testStore().StartEdit("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Items[0].Editing {
		t.Error("expected editing flag")
	}
	if _, ok := s.Draft("c1"); !ok {
		t.Fatal("expected a draft")
	}

	cancelled, err := s.CancelEdit("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c, _ := cancelled.Get("c1"); c.Name != "Ana Costa" || c.Editing {
		t.Errorf("cancel should leave the stored candidate intact, got %+v", c)
	}
	if _, ok := cancelled.Draft("c1"); ok {
		t.Error("draft should be discarded")
	}
}

func TestCandidateStore_CommitEdit(t *testing.T) {
	s, _ := testStore().StartEdit("c2")
	next, err := s.CommitEdit("c2", CandidatePatch{Name: strPtr("  Bruno  Lima Neto "), BedLabel: strPtr("4")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := next.Get("c2")
	if c.Name != "Bruno  Lima Neto" || c.BedLabel != "4" {
		t.Errorf("patch not applied: %+v", c)
	}
	if c.Selected || c.Confidence != 60 || c.Editing {
		t.Errorf("selection, confidence or editing flag changed: %+v", c)
	}
	if _, ok := next.Draft("c2"); ok {
		t.Error("draft should be cleared after commit")
	}
}

func TestCandidateStore_CommitEditRequiresName(t *testing.T) {
	s, _ := testStore().StartEdit("c1")
	_, err := s.CommitEdit("c1", CandidatePatch{Name: strPtr("   ")})
	if !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if c, _ := s.Get("c1"); c.Name != "Ana Costa" {
		t.Errorf("stored candidate changed: %+v", c)
	}
}

func TestCandidateStore_CommitEditWithoutDraft(t *testing.T) {
	_, err := testStore().CommitEdit("c1", CandidatePatch{Name: strPtr("X")})
	if !errors.Is(err, ErrNotEditing) {
		t.Errorf("expected ErrNotEditing, got %v", err)
	}
}

func TestCandidateStore_RemoveAndCounts(t *testing.T) {
	s := testStore()
	next, err := s.Remove("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(next.Items) != 2 || len(s.Items) != 3 {
		t.Fatalf("unexpected lengths new=%d old=%d", len(next.Items), len(s.Items))
	}
	if next.SelectedCount() != 1 {
		t.Errorf("expected 1 selected, got %d", next.SelectedCount())
	}
	if n := s.DeselectAll().SelectedCount(); n != 0 {
		t.Errorf("expected 0 after DeselectAll, got %d", n)
	}
	acc := s.Accepted()
	if len(acc) != 2 || acc[0].ID != "c1" || acc[1].ID != "c3" {
		t.Errorf("unexpected accepted list %+v", acc)
	}
}

func TestCandidateStore_DiscardDrafts(t *testing.T) {
	s, _ := testStore().StartEdit("c1")
	s, _ = s.StartEdit("c3")
	out := s.DiscardDrafts()
	if len(out.Drafts) != 0 {
		t.Errorf("expected no drafts, got %d", len(out.Drafts))
	}
	for _, c := range out.Items {
		if c.Editing {
			t.Errorf("%s still editing", c.ID)
		}
	}
	if len(s.Drafts) != 2 {
		t.Error("original drafts were modified")
	}
}
