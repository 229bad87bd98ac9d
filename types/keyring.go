package types

// SignatureKey is a public key record usable to verify signatures over an invoice. It pairs a
// human-readable label (typically "Name <email>", matching an invoice author) with a base64
// Ed25519 public key and the set of roles that key is trusted to sign for.
type SignatureKey struct {
	Label          string   `toml:"label"`
	Roles          []string `toml:"roles"`
	Key            string   `toml:"key"`
	LabelSignature string   `toml:"labelSignature,omitempty"`
}

// IncludesRole returns true if this key is authorized to sign for the given role.
func (s *SignatureKey) IncludesRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SecretKey pairs a SignatureKey's label and roles with its base64-encoded Ed25519 keypair, for
// local storage of a signer's private material.
type SecretKey struct {
	Label   string   `toml:"label"`
	Roles   []string `toml:"roles"`
	Keypair string   `toml:"keypair"`
}

// Keyring is a collection of trusted public SignatureKeys, as published by a host or assembled
// locally by a client.
type Keyring struct {
	Version string         `toml:"version"`
	Key     []SignatureKey `toml:"key"`
}

// Find returns the SignatureKey with the given label, or nil if not present.
func (k *Keyring) Find(label string) *SignatureKey {
	for i := range k.Key {
		if k.Key[i].Label == label {
			return &k.Key[i]
		}
	}
	return nil
}

// WithRole returns the subset of keys in the keyring that carry the given role.
func (k *Keyring) WithRole(role string) []SignatureKey {
	var out []SignatureKey
	for _, key := range k.Key {
		if key.IncludesRole(role) {
			out = append(out, key)
		}
	}
	return out
}
