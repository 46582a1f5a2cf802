package models

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	dErrors "blockcreds/pkg/domain-errors"
)

// CredentialIDPrefix is the prefix for store-assigned credential IDs.
const CredentialIDPrefix = "cred_"

// LegacyCodePrefix is the transport prefix some codes were historically
// registered and shared with.
const LegacyCodePrefix = "0x"

// CredentialID is the opaque, store-assigned record identifier.
type CredentialID string

func NewCredentialID() CredentialID {
	return CredentialID(CredentialIDPrefix + uuid.NewString())
}

// ParseCredentialID validates the cred_<uuid> shape.
func ParseCredentialID(s string) (CredentialID, error) {
	raw, ok := strings.CutPrefix(s, CredentialIDPrefix)
	if !ok {
		return "", dErrors.New(dErrors.CodeValidation, "credential ID must start with "+CredentialIDPrefix)
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "invalid credential ID format")
	}
	return CredentialID(s), nil
}

func (id CredentialID) String() string { return string(id) }

// VerificationCode is the public, human-shareable handle of a credential.
// Values of this type are always in normalized form (no transport prefix);
// obtain them through identity.NormalizeCode or identity.GenerateCode.
type VerificationCode string

func (c VerificationCode) String() string { return string(c) }

// LookupForms returns every stored representation that denotes this code,
// exact form first. Legacy records carry the prefix in either case.
func (c VerificationCode) LookupForms() []string {
	return []string{string(c), LegacyCodePrefix + string(c), strings.ToUpper(LegacyCodePrefix) + string(c)}
}

// Key is the uniqueness key of a stored code: the stored value with one
// legacy prefix removed. Every lookup form of a code has the code as its key.
func (c VerificationCode) Key() string {
	s := string(c)
	if len(s) >= len(LegacyCodePrefix) && strings.EqualFold(s[:len(LegacyCodePrefix)], LegacyCodePrefix) {
		return s[len(LegacyCodePrefix):]
	}
	return s
}

// ContentHash is "<algorithm>:<lowercase hex digest>".
type ContentHash string

func (h ContentHash) String() string { return string(h) }

// Algorithm returns the digest algorithm name, or "" when malformed.
func (h ContentHash) Algorithm() string {
	alg, _, ok := strings.Cut(string(h), ":")
	if !ok {
		return ""
	}
	return alg
}

// Digest decodes the hex digest.
func (h ContentHash) Digest() ([]byte, error) {
	_, hexDigest, ok := strings.Cut(string(h), ":")
	if !ok {
		return nil, fmt.Errorf("content hash %q has no algorithm tag", h)
	}
	return hex.DecodeString(hexDigest)
}

// TxRef is the 0x-prefixed 32-byte hash of an on-chain transaction.
type TxRef string

// ParseTxRef validates the transaction hash shape and lower-cases it.
func ParseTxRef(s string) (TxRef, error) {
	s = strings.TrimSpace(s)
	raw, ok := strings.CutPrefix(strings.ToLower(s), "0x")
	if !ok || len(raw) != 64 {
		return "", dErrors.New(dErrors.CodeValidation, "transaction_ref must be a 0x-prefixed 32-byte hex hash")
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "transaction_ref must be hex")
	}
	return TxRef("0x" + raw), nil
}

func (t TxRef) String() string { return string(t) }

func (t TxRef) IsZero() bool { return t == "" }
