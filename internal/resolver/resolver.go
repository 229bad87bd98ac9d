// Package resolver implements spec §4.F: given an invoice and a selection context, computes the
// set of parcels a client needs, honoring allOf/oneOf/optional group rules and transitive
// `requires` edges. Resolve rejects cyclic invoices through CheckAcyclic before running a bounded
// fixed-point iteration (spec §9).
package resolver

import (
	"github.com/pkg/errors"

	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/types"
)

// SelectionContext is the client-supplied input to resolution (spec §4.F): which optional groups
// to force-include, which individual parcels to force-include, and an optional feature filter.
type SelectionContext struct {
	// ChosenGroups maps a oneOf/optional group name to the member parcel SHA the client wants,
	// overriding the deterministic default for oneOf groups and opting an optional group in.
	ChosenGroups map[string]string
	// ForceParcels is a set of parcel SHAs to include regardless of group activation.
	ForceParcels map[string]bool
	// Features, if non-nil, filters the resolved parcel set (spec §4.F.2).
	Features *FeatureFilter
}

// Result is the resolver's output: the ordered set of parcels to fetch and the set of groups that
// were activated to produce it.
type Result struct {
	Parcels []types.Label
	Groups  map[string]bool
}

// Resolve computes the parcel set for inv under ctx. Ordering of Result.Parcels follows the
// invoice's own declaration order, which spec §4.F designates the stable traversal order.
func Resolve(inv *types.Invoice, ctx SelectionContext) (*Result, error) {
	if err := CheckAcyclic(inv); err != nil {
		return nil, err
	}
	groupsByName := map[string]types.Group{types.GlobalGroupName: {Name: types.GlobalGroupName, Required: boolPtr(true)}}
	for _, g := range inv.Group {
		groupsByName[g.Name] = g
	}

	membersOf := map[string][]types.Parcel{}
	requiresOf := map[string][]string{}
	for _, p := range inv.Parcel {
		groups := []string{types.GlobalGroupName}
		if p.Conditions != nil && len(p.Conditions.MemberOf) > 0 {
			groups = p.Conditions.MemberOf
		}
		for _, g := range groups {
			membersOf[g] = append(membersOf[g], p)
		}
		if p.Conditions != nil {
			for _, g := range p.Conditions.Requires {
				requiresOf[p.Label.SHA256] = append(requiresOf[p.Label.SHA256], g)
			}
		}
	}

	activeGroups := map[string]bool{}
	for name, g := range groupsByName {
		if g.IsRequired() || name == types.GlobalGroupName {
			activeGroups[name] = true
		}
	}
	for name := range ctx.ChosenGroups {
		activeGroups[name] = true
	}

	selected := map[string]types.Parcel{}
	processedGroups := map[string]bool{}

	bound := len(inv.Group) + len(inv.Parcel) + 1
	iterations := 0
	for {
		iterations++
		if iterations > bound {
			return nil, errors.Wrap(berr.ErrCycleDetected, "group/requires closure did not reach a fixed point")
		}

		changed := false

		for name := range activeGroups {
			if processedGroups[name] {
				continue
			}
			processedGroups[name] = true
			changed = true

			group := groupsByName[name]
			members := membersOf[name]

			switch group.Rule() {
			case types.GroupOneOf:
				chosen := pickOneOf(members, ctx.ChosenGroups[name])
				if chosen != nil {
					selected[chosen.Label.SHA256] = *chosen
				}
			case types.GroupOptional:
				if chosenSHA, ok := ctx.ChosenGroups[name]; ok {
					for _, m := range members {
						if m.Label.SHA256 == chosenSHA {
							selected[m.Label.SHA256] = m
						}
					}
				}
			default: // allOf, and the implicit global group
				for _, m := range members {
					selected[m.Label.SHA256] = m
				}
			}
		}

		for sha := range ctx.ForceParcels {
			for _, p := range inv.Parcel {
				if p.Label.SHA256 == sha {
					if _, already := selected[sha]; !already {
						selected[sha] = p
						changed = true
					}
				}
			}
		}

		for sha := range selected {
			for _, g := range requiresOf[sha] {
				if !activeGroups[g] {
					activeGroups[g] = true
					changed = true
				}
			}
		}

		if !changed {
			break
		}
	}

	ordered := make([]types.Label, 0, len(selected))
	for _, p := range inv.Parcel {
		if parcel, ok := selected[p.Label.SHA256]; ok {
			ordered = append(ordered, parcel.Label)
		}
	}

	if ctx.Features != nil {
		ordered = ctx.Features.Apply(inv, ordered)
	}

	return &Result{Parcels: ordered, Groups: activeGroups}, nil
}

// pickOneOf returns the client-chosen member if chosenSHA names one, else the first declared
// member (spec §4.F/§9's deterministic default), or nil if the group has no members.
func pickOneOf(members []types.Parcel, chosenSHA string) *types.Parcel {
	if chosenSHA != "" {
		for i := range members {
			if members[i].Label.SHA256 == chosenSHA {
				return &members[i]
			}
		}
	}
	if len(members) == 0 {
		return nil
	}
	return &members[0]
}

func boolPtr(b bool) *bool { return &b }
