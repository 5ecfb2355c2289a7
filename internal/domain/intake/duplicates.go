package intake

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/ehr/ward/internal/domain/identity"
)

// MinDuplicateNameLength excludes initials and fragments from the
// duplicate check.
const MinDuplicateNameLength = 3

// DuplicateDetector looks up stored patients for a batch of names.
type DuplicateDetector interface {
	CheckBatch(ctx context.Context, names []string) ([]identity.DuplicateMatch, error)
}

// DuplicateDetectorFunc adapts a function, such as identity.Service.FindByNames.
type DuplicateDetectorFunc func(ctx context.Context, names []string) ([]identity.DuplicateMatch, error)

func (f DuplicateDetectorFunc) CheckBatch(ctx context.Context, names []string) ([]identity.DuplicateMatch, error) {
	return f(ctx, names)
}

// EligibleNames returns the trimmed names of selected candidates that are
// long enough to check, once per normalized name, in presentation order.
func EligibleNames(candidates []Candidate) []string {
	var names []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		if !c.Selected {
			continue
		}
		name := strings.TrimSpace(c.Name)
		if utf8.RuneCountInString(name) < MinDuplicateNameLength {
			continue
		}
		key := identity.NormalizeName(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, name)
	}
	return names
}

// DuplicateIndex answers lookups over one stored detector result.
type DuplicateIndex map[string][]identity.PatientMatch

func NewDuplicateIndex(results []identity.DuplicateMatch) DuplicateIndex {
	idx := make(DuplicateIndex, len(results))
	for _, r := range results {
		if len(r.Matches) == 0 {
			continue
		}
		key := identity.NormalizeName(r.InputName)
		idx[key] = append(idx[key], r.Matches...)
	}
	return idx
}

func (idx DuplicateIndex) IsDuplicate(name string) bool {
	return len(idx[identity.NormalizeName(name)]) > 0
}

// MatchesFor returns the stored patients matching name, or nil.
func (idx DuplicateIndex) MatchesFor(name string) []identity.PatientMatch {
	return idx[identity.NormalizeName(name)]
}
