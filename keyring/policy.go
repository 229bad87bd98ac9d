package keyring

import (
	"github.com/bindlehq/bindle/types"
)

// Policy describes which signature roles must be present for an invoice (or its yank) to be
// considered verified. The zero value has no required roles; DefaultPolicy requires at least one
// creator signature, matching spec.md §4.B's stated default.
type Policy struct {
	// RequiredRoles is the set of roles of which at least one must appear among verified
	// signatures. Host signatures are additive (they never satisfy the policy alone unless
	// "host" is itself listed here).
	RequiredRoles []string
}

// DefaultPolicy requires at least one creator signature.
func DefaultPolicy() Policy {
	return Policy{RequiredRoles: []string{types.RoleCreator}}
}

// YankPolicy requires at least one host signature, per spec.md §4.B.
func YankPolicy() Policy {
	return Policy{RequiredRoles: []string{types.RoleHost}}
}

// Sign computes the canonical preimage of the invoice and produces a signature block for the
// given role, appending it to the invoice.
func Sign(invoice *types.Invoice, author, role string, sigKey *types.SignatureKey, privKey []byte) error {
	return invoice.GenerateSignature(author, role, sigKey, privKey)
}

// Verify checks the invoice's signatures against the keyring, applying the given policy. An
// empty keyring always fails unless the policy has no required roles.
func Verify(invoice *types.Invoice, ring *types.Keyring, policy Policy) error {
	return invoice.VerifySignaturesWithPolicy(ring.Key, policy.RequiredRoles)
}

// SignYank computes the canonical preimage of the invoice, including `yanked = true`, and
// appends a yank-signature block for the given role.
func SignYank(invoice *types.Invoice, author, role string, sigKey *types.SignatureKey, privKey []byte) error {
	return invoice.GenerateYankSignature(author, role, sigKey, privKey)
}

// VerifyYank checks the invoice's yank-signatures against the keyring. Policy is accepted for
// symmetry with Verify and is ignored: a yank verification always requires at least one host
// signature, whatever roles the policy lists.
func VerifyYank(invoice *types.Invoice, ring *types.Keyring, _ Policy) error {
	return invoice.VerifyYankSignatures(ring.Key)
}
