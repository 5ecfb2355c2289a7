package identity

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

type mockPatientRepo struct {
	store    map[uuid.UUID]*Patient
	order    []uuid.UUID
	keyCalls [][]string
	findErr  error
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{store: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.store[p.ID] = p
	m.order = append(m.order, p.ID)
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) FindByNameKeys(_ context.Context, keys []string) ([]*Patient, error) {
	m.keyCalls = append(m.keyCalls, keys)
	if m.findErr != nil {
		return nil, m.findErr
	}
	want := make(map[string]bool)
	for _, k := range keys {
		want[k] = true
	}
	var out []*Patient
	for _, id := range m.order {
		if p := m.store[id]; want[p.NameKey] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPatientRepo) Search(_ context.Context, name string, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, id := range m.order {
		out = append(out, m.store[id])
	}
	return out, len(out), nil
}

func TestCreatePatient(t *testing.T) {
	repo := newMockPatientRepo()
	svc := NewService(repo)

	p, err := svc.CreatePatient(context.Background(), "Maria Silva")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.store[p.ID]; !ok {
		t.Error("patient was not stored")
	}

	if _, err := svc.CreatePatient(context.Background(), ""); !errors.Is(err, ErrNameRequired) {
		t.Errorf("expected ErrNameRequired, got %v", err)
	}
	if len(repo.store) != 1 {
		t.Error("invalid patient must not reach the repository")
	}
}

func TestFindByNames(t *testing.T) {
	repo := newMockPatientRepo()
	svc := NewService(repo)
	ctx := context.Background()
	first, _ := svc.CreatePatient(ctx, "Maria Silva")
	second, _ := svc.CreatePatient(ctx, "MARIA SILVA")
	_, _ = svc.CreatePatient(ctx, "Pedro Alves")

	got, err := svc.FindByNames(ctx, []string{"maria silva ", "Ana Costa", "Maria Silva"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.keyCalls) != 1 {
		t.Fatalf("expected one batch lookup, got %d", len(repo.keyCalls))
	}
	if len(repo.keyCalls[0]) != 2 {
		t.Errorf("expected de-duplicated keys, got %v", repo.keyCalls[0])
	}

	if len(got) != 2 {
		t.Fatalf("expected entries for both spellings of the matched name, got %+v", got)
	}
	if got[0].InputName != "maria silva " {
		t.Errorf("input order not preserved: %+v", got)
	}
	if len(got[0].Matches) != 2 || got[0].Matches[0].ID != first.ID || got[0].Matches[1].ID != second.ID {
		t.Errorf("unexpected matches %+v", got[0].Matches)
	}
}

func TestFindByNames_NoNames(t *testing.T) {
	repo := newMockPatientRepo()
	got, err := NewService(repo).FindByNames(context.Background(), []string{"", "  "})
	if err != nil || got != nil {
		t.Fatalf("expected nil result, got %v %v", got, err)
	}
	if len(repo.keyCalls) != 0 {
		t.Error("blank names must not hit the repository")
	}
}

func TestFindByNames_RepoError(t *testing.T) {
	repo := newMockPatientRepo()
	repo.findErr = errors.New("connection refused")
	if _, err := NewService(repo).FindByNames(context.Background(), []string{"Ana"}); !errors.Is(err, repo.findErr) {
		t.Fatalf("expected wrapped repo error, got %v", err)
	}
}

func TestFindByNames_SameInputSameResult(t *testing.T) {
	repo := newMockPatientRepo()
	svc := NewService(repo)
	ctx := context.Background()
	for _, name := range []string{"Ana Costa", "ANA COSTA", "Bruno Lima", "Zoë Prado"} {
		if _, err := svc.CreatePatient(ctx, name); err != nil {
			t.Fatal(err)
		}
	}

	names := []string{"zoë prado", "Ana Costa", "Carla Dias", "bruno lima"}
	first, err := svc.FindByNames(ctx, names)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.FindByNames(ctx, names)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != 3 {
		t.Fatalf("expected three matched names, got %+v", first)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ between calls:\n%+v\n%+v", first, second)
	}
	if len(repo.store) != 4 {
		t.Errorf("lookup changed the stored patients: %d", len(repo.store))
	}
}
