package types

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// Signature roles recognized by a Bindle keyring.
const (
	RoleCreator  = "creator"
	RoleHost     = "host"
	RoleProxy    = "proxy"
	RoleVerifier = "verifier"
	RoleApprover = "approver"
)

// ValidRoles is the set of roles a SignatureKey may carry.
var ValidRoles = map[string]bool{
	RoleCreator:  true,
	RoleHost:     true,
	RoleProxy:    true,
	RoleVerifier: true,
	RoleApprover: true,
}

var (
	ErrInvalidRole              = errors.New("invalid role")
	ErrAuthorNotExist           = errors.New("author does not exist on invoice")
	ErrSignatureKeyRoleMismatch = errors.New("signature key is not valid for the provided role")
	ErrInvalidSignatureKey      = errors.New("signature key is not valid")
	ErrInvalidSignature         = errors.New("signature is not valid")
	ErrMissingSignatureKey      = errors.New("missing signature key")
	ErrInsufficientSignatures   = errors.New("invoice does not carry a signature satisfying the required role policy")
)

// Signature is a (default Ed25519) signature of the bindle based on the spec:
// https://github.com/deislabs/bindle/blob/main/docs/signing-spec.md
type Signature struct {
	By        string `toml:"by"`
	Signature string `toml:"signature"`
	Key       string `toml:"key"`
	Role      string `toml:"role"`
	At        int64  `toml:"at"`
}

// Cleartext format (the canonical preimage signatures are computed over):
// <author>
// <bindle name>
// <bindle version>
// <role>
// [yanked]
// ~
// <parcel sha256>
// <parcel sha256>
// ...
//
// NOTE: the spec (https://github.com/deislabs/bindle/blob/main/docs/signing-spec.md#signing-on-the-invoice)
// includes the `at` value in the cleartext, but this implementation does not, matching the
// behavior of the servers this client talks to. See https://github.com/deislabs/bindle/issues/284.

// GenerateSignature generates a signature for the provided role and author, first validating
// that the given role is valid and the given author is included in the invoice, and then
// appends it to the invoice's signature list.
func (i *Invoice) GenerateSignature(author, role string, sigKey *SignatureKey, privKey []byte) error {
	if exists, val := ValidRoles[role]; !exists || !val {
		return ErrInvalidRole
	}

	if !sigKey.IncludesRole(role) {
		return ErrSignatureKeyRoleMismatch
	}

	if !i.IsAuthoredBy(author) {
		return ErrAuthorNotExist
	}

	signature, err := i.sign(author, role, false, sigKey, privKey)
	if err != nil {
		return err
	}

	i.Signature = append(i.Signature, *signature)

	return nil
}

// GenerateYankSignature is the same as GenerateSignature, but signs the preimage that includes
// `yanked = true`, and appends to the invoice's YankedSignature list instead. Per spec, only a
// host-role key should be used here, but the caller is responsible for enforcing that policy.
func (i *Invoice) GenerateYankSignature(author, role string, sigKey *SignatureKey, privKey []byte) error {
	if exists, val := ValidRoles[role]; !exists || !val {
		return ErrInvalidRole
	}

	if !sigKey.IncludesRole(role) {
		return ErrSignatureKeyRoleMismatch
	}

	signature, err := i.sign(author, role, true, sigKey, privKey)
	if err != nil {
		return err
	}

	i.YankedSignature = append(i.YankedSignature, *signature)

	return nil
}

func (i *Invoice) sign(author, role string, yanked bool, sigKey *SignatureKey, privKey []byte) (*Signature, error) {
	timestamp := time.Now()

	cleartext := i.generateCleartext(author, role, yanked)

	sig := ed25519.Sign(privKey, []byte(cleartext))

	pubKey, err := base64.StdEncoding.DecodeString(sigKey.Key)
	if err != nil {
		return nil, err
	}

	return &Signature{
		By:        author,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Key:       base64.StdEncoding.EncodeToString(pubKey),
		Role:      role,
		At:        timestamp.Unix(),
	}, nil
}

// VerifySignatures checks every signature attached to the invoice against the given keyring,
// requiring at least one signature whose role is creator. Use VerifySignaturesWithPolicy to
// require a different role set.
func (i *Invoice) VerifySignatures(sigKeys []SignatureKey) error {
	return i.VerifySignaturesWithPolicy(sigKeys, []string{RoleCreator})
}

// VerifySignaturesWithPolicy is the same as VerifySignatures, but additionally requires that at
// least one verified signature carries one of requiredRoles. Host signatures, per spec, are
// additive and never sufficient alone unless requiredRoles says otherwise.
func (i *Invoice) VerifySignaturesWithPolicy(sigKeys []SignatureKey, requiredRoles []string) error {
	keys, err := indexKeys(sigKeys)
	if err != nil {
		return err
	}

	seenRoles := map[string]bool{}
	for _, s := range i.Signature {
		key := keys[s.By]
		if key == nil {
			return ErrMissingSignatureKey
		}

		if !key.IncludesRole(s.Role) {
			return ErrSignatureKeyRoleMismatch
		}

		if err := verifyOne(key, s.Signature, i.generateCleartext(key.Label, s.Role, false)); err != nil {
			return err
		}

		seenRoles[s.Role] = true
	}

	for _, role := range requiredRoles {
		if seenRoles[role] {
			return nil
		}
	}
	if len(requiredRoles) > 0 {
		return ErrInsufficientSignatures
	}
	return nil
}

// VerifyYankSignatures checks every yanked-signature attached to the invoice against the given
// keyring, over the preimage that includes `yanked = true`, and requires at least one host
// signature.
func (i *Invoice) VerifyYankSignatures(sigKeys []SignatureKey) error {
	keys, err := indexKeys(sigKeys)
	if err != nil {
		return err
	}

	sawHost := false
	for _, s := range i.YankedSignature {
		key := keys[s.By]
		if key == nil {
			return ErrMissingSignatureKey
		}

		if !key.IncludesRole(s.Role) {
			return ErrSignatureKeyRoleMismatch
		}

		if err := verifyOne(key, s.Signature, i.generateCleartext(key.Label, s.Role, true)); err != nil {
			return err
		}

		if s.Role == RoleHost {
			sawHost = true
		}
	}

	if !sawHost {
		return ErrInsufficientSignatures
	}
	return nil
}

func indexKeys(sigKeys []SignatureKey) (map[string]*SignatureKey, error) {
	keys := map[string]*SignatureKey{}
	for idx := range sigKeys {
		key := sigKeys[idx]

		keyBytes, err := base64.StdEncoding.DecodeString(key.Key)
		if err != nil {
			return nil, err
		}

		labelSigBytes, err := base64.StdEncoding.DecodeString(key.LabelSignature)
		if err != nil {
			return nil, err
		}

		if valid := ed25519.Verify(keyBytes, []byte(key.Label), labelSigBytes); !valid {
			return nil, ErrInvalidSignatureKey
		}

		keys[key.Label] = &key
	}
	return keys, nil
}

func verifyOne(key *SignatureKey, signatureB64 string, cleartext string) error {
	keyBytes, err := base64.StdEncoding.DecodeString(key.Key)
	if err != nil {
		return err
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return err
	}

	if valid := ed25519.Verify(keyBytes, []byte(cleartext), sigBytes); !valid {
		return ErrInvalidSignature
	}
	return nil
}

// IsAuthoredBy returns true if the provided author is in the list of authors for this invoice
func (i *Invoice) IsAuthoredBy(author string) bool {
	for _, a := range i.Bindle.Authors {
		if a == author {
			return true
		}
	}

	return false
}

func (i *Invoice) generateCleartext(author, role string, yanked bool) string {
	// metadata
	cleartextParts := []string{
		author,
		i.Bindle.Name,
		i.Bindle.Version,
		role,
	}

	if yanked {
		cleartextParts = append(cleartextParts, "yanked")
	}

	cleartextParts = append(cleartextParts, "~")

	// parcel SHAs
	for _, p := range i.Parcel {
		cleartextParts = append(cleartextParts, p.Label.SHA256)
	}

	return strings.Join(cleartextParts, "\n")
}
