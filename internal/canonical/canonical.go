// Package canonical implements spec §4.A: canonical text encoding, structural validation, and the
// deterministic signing preimage for invoices, over the teacher's own go-toml idiom.
package canonical

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/bindlehq/bindle/internal/berr"
	"github.com/bindlehq/bindle/internal/resolver"
	"github.com/bindlehq/bindle/types"
)

// nameGrammar matches spec §4.A's reference grammar for bindle.name: Unicode letters, digits,
// underscore, slash, and dot.
var nameGrammar = regexp.MustCompile(`^[\p{L}\p{N}_./]+$`)

// Encode serializes an invoice to its canonical TOML text form. Field order is fixed by the
// struct tag order of types.Invoice (bindleVersion, yanked, yankedReason, bindle, annotations,
// group, parcel, signature, yankedSignature), which go-toml preserves from struct field order.
func Encode(inv *types.Invoice) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Order(toml.OrderPreserve)
	if err := enc.Encode(inv); err != nil {
		return nil, errors.Wrap(err, "encoding invoice")
	}
	return buf.Bytes(), nil
}

// Decode parses canonical invoice text strictly, rejecting unknown keys.
func Decode(data []byte) (*types.Invoice, error) {
	var inv types.Invoice
	if err := toml.NewDecoder(bytes.NewReader(data)).Strict(true).Decode(&inv); err != nil {
		return nil, errors.Wrapf(berr.ErrInvalidManifest, "decoding invoice: %s", err)
	}
	return &inv, nil
}

// EncodeLabel/DecodeLabel mirror Encode/Decode for the standalone label text encoding (spec §6.2).
func EncodeLabel(label *types.Label) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Order(toml.OrderPreserve)
	if err := enc.Encode(label); err != nil {
		return nil, errors.Wrap(err, "encoding label")
	}
	return buf.Bytes(), nil
}

func DecodeLabel(data []byte) (*types.Label, error) {
	var label types.Label
	if err := toml.NewDecoder(bytes.NewReader(data)).Strict(true).Decode(&label); err != nil {
		return nil, errors.Wrapf(berr.ErrInvalidManifest, "decoding label: %s", err)
	}
	return &label, nil
}

// Preimage returns the canonical encoding of the invoice with `signature` and `yankedSignature`
// always stripped, and `yanked`/`yankedReason` stripped unless includeYanked is true (spec §3.2,
// §9). The signing code in package types does not use it: Invoice.GenerateSignature and the
// Verify* methods sign a cleartext of author, name, version, role and parcel digests instead.
func Preimage(inv *types.Invoice, includeYanked bool) ([]byte, error) {
	stripped := *inv
	stripped.Signature = nil
	stripped.YankedSignature = nil
	if !includeYanked {
		stripped.Yanked = nil
		stripped.YankedReason = ""
	}
	return Encode(&stripped)
}

// Validate enforces spec §3.2 and §4.A's structural invariants, including the acyclicity of the
// memberOf/requires graph (delegated to internal/resolver.CheckAcyclic).
func Validate(inv *types.Invoice) error {
	if inv.BindleVersion != types.BindleVersion {
		return errors.Wrapf(berr.ErrInvalidManifest, "unsupported bindleVersion %q", inv.BindleVersion)
	}

	if inv.Bindle.Name == "" {
		return errors.Wrap(berr.ErrInvalidManifest, "bindle.name is required")
	}
	if strings.HasPrefix(inv.Bindle.Name, "bindle:") {
		return errors.Wrap(berr.ErrInvalidManifest, "bindle.name may not begin with \"bindle:\"")
	}
	if !nameGrammar.MatchString(inv.Bindle.Name) {
		return errors.Wrapf(berr.ErrInvalidManifest, "bindle.name %q contains characters outside the reference grammar", inv.Bindle.Name)
	}

	if _, err := semver.StrictNewVersion(inv.Bindle.Version); err != nil {
		return errors.Wrapf(berr.ErrInvalidManifest, "bindle.version %q is not valid semver: %s", inv.Bindle.Version, err)
	}

	groupNames := map[string]bool{types.GlobalGroupName: true}
	for _, g := range inv.Group {
		if g.Name == "" {
			return errors.Wrap(berr.ErrInvalidManifest, "group.name is required")
		}
		if groupNames[g.Name] {
			return errors.Wrapf(berr.ErrInvalidManifest, "duplicate group %q", g.Name)
		}
		groupNames[g.Name] = true
	}

	seenSHA := map[string]bool{}
	for _, p := range inv.Parcel {
		if p.Label.SHA256 == "" {
			return errors.Wrap(berr.ErrInvalidManifest, "label.sha256 is required")
		}
		if p.Label.MediaType == "" {
			return errors.Wrapf(berr.ErrInvalidManifest, "label.mediaType is required (parcel %s)", p.Label.SHA256)
		}
		if seenSHA[p.Label.SHA256] {
			return errors.Wrapf(berr.ErrInvalidManifest, "duplicate parcel sha256 %q", p.Label.SHA256)
		}
		seenSHA[p.Label.SHA256] = true

		if err := validateFeatures(p.Label.Feature); err != nil {
			return err
		}

		if p.Conditions == nil {
			continue
		}
		for _, g := range p.Conditions.MemberOf {
			if !groupNames[g] {
				return errors.Wrapf(berr.ErrInvalidManifest, "parcel %s is a memberOf unknown group %q", p.Label.SHA256, g)
			}
		}
		for _, g := range p.Conditions.Requires {
			if !groupNames[g] {
				return errors.Wrapf(berr.ErrInvalidManifest, "parcel %s requires unknown group %q", p.Label.SHA256, g)
			}
		}
	}

	if err := resolver.CheckAcyclic(inv); err != nil {
		return err
	}

	return nil
}

// validateFeatures enforces that a feature name within a single section is unique; sections
// themselves are represented as a Go map so key uniqueness per section is already guaranteed by
// the type system. This exists to give a clear error if a future encoding changes that.
func validateFeatures(feature map[string]map[string]string) error {
	for section, names := range feature {
		seen := map[string]bool{}
		for name := range names {
			if seen[name] {
				return errors.Wrapf(berr.ErrInvalidManifest, "duplicate feature name %q in section %q", name, section)
			}
			seen[name] = true
		}
	}
	return nil
}

// Identity computes the canonical invoice identity hash per spec §3.2:
// SHA-256(name + "/" + version), lowercase hex.
func Identity(inv *types.Invoice) string {
	return IdentityFromParts(inv.Bindle.Name, inv.Bindle.Version)
}

// IdentityFromParts computes an invoice identity from a raw name and version without requiring a
// full Invoice, used by handlers parsing a path before a stored invoice is loaded.
func IdentityFromParts(name, version string) string {
	return hexSHA256(fmt.Sprintf("%s/%s", name, version))
}
