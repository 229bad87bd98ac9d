package resolver

import (
	"github.com/pkg/errors"

	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/types"
)

// FeaturePredicate tests a single feature value. Clauses are combined by FeatureFilter with AND.
type FeaturePredicate func(value string) bool

// FeatureEquals returns a predicate matching an exact value.
func FeatureEquals(want string) FeaturePredicate {
	return func(value string) bool { return value == want }
}

// featureClause is one (section, name, predicate) term of a filter.
type featureClause struct {
	section   string
	name      string
	predicate FeaturePredicate
}

// FeatureFilter is an AND-of-clauses filter over a parcel's feature map (spec §4.F.2). Clauses
// over the same (section, name) pair are rejected at construction time with
// berr.ErrConflictingFilter, since the spec forbids expressing disjunction that way.
type FeatureFilter struct {
	clauses []featureClause
}

// NewFeatureFilter builds a filter from clauses, rejecting any filter that names the same
// (section, name) pair more than once.
func NewFeatureFilter(clauses ...struct {
	Section   string
	Name      string
	Predicate FeaturePredicate
}) (*FeatureFilter, error) {
	seen := map[string]bool{}
	f := &FeatureFilter{}
	for _, c := range clauses {
		key := c.Section + "\x00" + c.Name
		if seen[key] {
			return nil, errors.Wrapf(berr.ErrConflictingFilter, "multiple clauses for %s.%s", c.Section, c.Name)
		}
		seen[key] = true
		f.clauses = append(f.clauses, featureClause{section: c.Section, name: c.Name, predicate: c.Predicate})
	}
	return f, nil
}

// matches reports whether label satisfies every clause. A parcel that does not participate in a
// section a clause mentions does not match that clause (spec §4.F.2).
func (f *FeatureFilter) matches(label types.Label) bool {
	for _, c := range f.clauses {
		section, ok := label.Feature[c.section]
		if !ok {
			return false
		}
		value, ok := section[c.name]
		if !ok {
			return false
		}
		if !c.predicate(value) {
			return false
		}
	}
	return true
}

// Apply filters an already-resolved parcel list down to the labels matching every clause.
func (f *FeatureFilter) Apply(_ *types.Invoice, labels []types.Label) []types.Label {
	if f == nil || len(f.clauses) == 0 {
		return labels
	}
	out := make([]types.Label, 0, len(labels))
	for _, l := range labels {
		if f.matches(l) {
			out = append(out, l)
		}
	}
	return out
}
