package resolver

import (
	"github.com/pkg/errors"

	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/types"
)

// CheckAcyclic validates spec §3.2/§9's acyclicity invariant over the full
// memberOf -> group -> parcel.requires -> group graph, independent of which groups a particular
// selection would activate. internal/canonical.Validate calls this to reject cyclic invoices at
// create time, before resolver.Resolve is ever asked to run against them.
func CheckAcyclic(inv *types.Invoice) error {
	groupNames := map[string]bool{types.GlobalGroupName: true}
	for _, g := range inv.Group {
		groupNames[g.Name] = true
	}

	requiresOf := map[string][]string{}
	groupOfParcel := map[string][]string{}
	for _, p := range inv.Parcel {
		groups := []string{types.GlobalGroupName}
		if p.Conditions != nil && len(p.Conditions.MemberOf) > 0 {
			groups = p.Conditions.MemberOf
		}
		groupOfParcel[p.Label.SHA256] = groups
		if p.Conditions != nil {
			requiresOf[p.Label.SHA256] = p.Conditions.Requires
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}

	var visitGroup func(name string) error
	var visitParcel func(sha string) error

	visitGroup = func(name string) error {
		switch color["g:"+name] {
		case gray:
			return errors.Wrapf(berr.ErrCycleDetected, "cycle through group %q", name)
		case black:
			return nil
		}
		color["g:"+name] = gray
		for _, p := range inv.Parcel {
			for _, g := range groupOfParcel[p.Label.SHA256] {
				if g == name {
					if err := visitParcel(p.Label.SHA256); err != nil {
						return err
					}
				}
			}
		}
		color["g:"+name] = black
		return nil
	}

	visitParcel = func(sha string) error {
		switch color["p:"+sha] {
		case gray:
			return errors.Wrapf(berr.ErrCycleDetected, "cycle through parcel %q", sha)
		case black:
			return nil
		}
		color["p:"+sha] = gray
		for _, g := range requiresOf[sha] {
			if err := visitGroup(g); err != nil {
				return err
			}
		}
		color["p:"+sha] = black
		return nil
	}

	for name := range groupNames {
		if err := visitGroup(name); err != nil {
			return err
		}
	}
	return nil
}
