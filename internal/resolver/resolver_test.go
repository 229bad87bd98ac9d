package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/types"
)

func boolp(b bool) *bool     { return &b }
func strp(s string) *string { return &s }

func TestResolveGlobalGroupIsAlwaysIncluded(t *testing.T) {
	inv := &types.Invoice{
		Parcel: []types.Parcel{
			{Label: types.Label{SHA256: "a"}},
			{Label: types.Label{SHA256: "b"}},
		},
	}
	res, err := Resolve(inv, SelectionContext{})
	require.NoError(t, err)
	assert.Len(t, res.Parcels, 2)
}

func TestResolveOneOfPicksFirstByDefault(t *testing.T) {
	inv := &types.Invoice{
		Group: []types.Group{{Name: "variant", Required: boolp(true), SatisfiedBy: strp("oneOf")}},
		Parcel: []types.Parcel{
			{Label: types.Label{SHA256: "linux"}, Conditions: &types.Condition{MemberOf: []string{"variant"}}},
			{Label: types.Label{SHA256: "darwin"}, Conditions: &types.Condition{MemberOf: []string{"variant"}}},
		},
	}
	res, err := Resolve(inv, SelectionContext{})
	require.NoError(t, err)
	require.Len(t, res.Parcels, 1)
	assert.Equal(t, "linux", res.Parcels[0].SHA256)
}

func TestResolveOneOfHonorsClientChoice(t *testing.T) {
	inv := &types.Invoice{
		Group: []types.Group{{Name: "variant", Required: boolp(true), SatisfiedBy: strp("oneOf")}},
		Parcel: []types.Parcel{
			{Label: types.Label{SHA256: "linux"}, Conditions: &types.Condition{MemberOf: []string{"variant"}}},
			{Label: types.Label{SHA256: "darwin"}, Conditions: &types.Condition{MemberOf: []string{"variant"}}},
		},
	}
	res, err := Resolve(inv, SelectionContext{ChosenGroups: map[string]string{"variant": "darwin"}})
	require.NoError(t, err)
	require.Len(t, res.Parcels, 1)
	assert.Equal(t, "darwin", res.Parcels[0].SHA256)
}

func TestResolveOptionalGroupExcludedByDefault(t *testing.T) {
	inv := &types.Invoice{
		Group: []types.Group{{Name: "extras", Required: boolp(false), SatisfiedBy: strp("optional")}},
		Parcel: []types.Parcel{
			{Label: types.Label{SHA256: "extra"}, Conditions: &types.Condition{MemberOf: []string{"extras"}}},
		},
	}
	res, err := Resolve(inv, SelectionContext{})
	require.NoError(t, err)
	assert.Empty(t, res.Parcels)

	res, err = Resolve(inv, SelectionContext{ChosenGroups: map[string]string{"extras": "extra"}})
	require.NoError(t, err)
	require.Len(t, res.Parcels, 1)
}

// TestResolveTransitiveRequires exercises a parcel requiring an allOf group it does not belong to:
// selecting "main" must transitively activate "deps" and pull in every one of its members, since
// an allOf group's members are unconditional once the group itself is active (spec §4.F).
func TestResolveTransitiveRequires(t *testing.T) {
	inv := &types.Invoice{
		Group: []types.Group{
			{Name: "deps", Required: boolp(false)},
		},
		Parcel: []types.Parcel{
			{
				Label:      types.Label{SHA256: "main"},
				Conditions: &types.Condition{Requires: []string{"deps"}},
			},
			{
				Label:      types.Label{SHA256: "dep"},
				Conditions: &types.Condition{MemberOf: []string{"deps"}},
			},
		},
	}
	res, err := Resolve(inv, SelectionContext{})
	require.NoError(t, err)
	assert.True(t, res.Groups["deps"])
	var shas []string
	for _, p := range res.Parcels {
		shas = append(shas, p.SHA256)
	}
	assert.ElementsMatch(t, []string{"main", "dep"}, shas)
}

func TestFeatureFilterRejectsDuplicateClause(t *testing.T) {
	_, err := NewFeatureFilter(
		struct {
			Section   string
			Name      string
			Predicate FeaturePredicate
		}{"os", "arch", FeatureEquals("amd64")},
		struct {
			Section   string
			Name      string
			Predicate FeaturePredicate
		}{"os", "arch", FeatureEquals("arm64")},
	)
	assert.ErrorIs(t, err, berr.ErrConflictingFilter)
}

func TestFeatureFilterAppliesAndSemantics(t *testing.T) {
	filter, err := NewFeatureFilter(
		struct {
			Section   string
			Name      string
			Predicate FeaturePredicate
		}{"os", "name", FeatureEquals("linux")},
	)
	require.NoError(t, err)

	labels := []types.Label{
		{SHA256: "a", Feature: map[string]map[string]string{"os": {"name": "linux"}}},
		{SHA256: "b", Feature: map[string]map[string]string{"os": {"name": "darwin"}}},
		{SHA256: "c"},
	}
	filtered := filter.Apply(nil, labels)
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", filtered[0].SHA256)
}

func TestCheckAcyclicAcceptsDAG(t *testing.T) {
	inv := &types.Invoice{
		Group: []types.Group{{Name: "g1", Required: boolp(true)}},
		Parcel: []types.Parcel{
			{Label: types.Label{SHA256: "p1"}, Conditions: &types.Condition{MemberOf: []string{"g1"}}},
		},
	}
	assert.NoError(t, CheckAcyclic(inv))
}

func TestCheckAcyclicRejectsSelfReferentialRequires(t *testing.T) {
	inv := &types.Invoice{
		Group: []types.Group{{Name: "g1", Required: boolp(true)}},
		Parcel: []types.Parcel{
			{
				Label: types.Label{SHA256: "p1"},
				Conditions: &types.Condition{
					MemberOf: []string{"g1"},
					Requires: []string{"g1"},
				},
			},
		},
	}
	assert.ErrorIs(t, CheckAcyclic(inv), berr.ErrCycleDetected)
}
