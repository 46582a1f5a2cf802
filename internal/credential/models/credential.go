package models

import (
	"time"

	id "blockcreds/pkg/domain"
)

// Status is the issuer-controlled annotation on a credential. It never
// bears on the chain record but does feed the verdict.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusSuspended, StatusRevoked:
		return Status(s), true
	}
	return "", false
}

// OnChainState caches the last definitive chain answer. It is never
// authoritative.
type OnChainState string

const (
	OnChainUnknown OnChainState = "unknown"
	OnChainValid   OnChainState = "valid"
	OnChainInvalid OnChainState = "invalid"
)

// Content is the trust-bearing metadata covered by the content hash.
// Optional fields are pointers so "absent" and "empty" stay distinct.
type Content struct {
	Title        string
	Description  *string
	IssuerRef    id.UserID
	RecipientRef id.UserID
	IssueDate    time.Time
	ExpiryDate   *time.Time
	Fields       map[string]any
}

// Credential is the persisted record of an issued credential.
type Credential struct {
	ID               CredentialID
	VerificationCode VerificationCode
	ContentHash      ContentHash
	TransactionRef   TxRef

	Content

	ReferenceImage []byte

	Status           Status
	OnChainState     OnChainState
	OnChainCheckedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPending reports a record that has no anchoring transaction. Such a record
// is never reported as verified.
func (c *Credential) IsPending() bool {
	return c.TransactionRef.IsZero()
}

// HasReferenceImage reports whether verification must be accompanied by a
// presented image.
func (c *Credential) HasReferenceImage() bool {
	return len(c.ReferenceImage) > 0
}

// IsExpired reports whether the credential's expiry date lies before now.
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiryDate != nil && now.After(*c.ExpiryDate)
}

// Registration is what the chain anchors for a credential.
type Registration struct {
	Code         VerificationCode
	IssuerRef    id.UserID
	RecipientRef id.UserID
	MetadataHash ContentHash
}

// TxStatus is the outcome of looking up a transaction on chain.
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
	TxPending TxStatus = "pending"
	TxUnknown TxStatus = "unknown"
)

// IssueRequest carries resolved references and content into issuance.
// TransactionRef and VerificationCode are set together when the issuer
// anchored the credential with a client-signed transaction.
type IssueRequest struct {
	Content
	ReferenceImage   []byte
	TransactionRef   TxRef
	VerificationCode VerificationCode
}

// IssueResult is returned by a successful issuance.
type IssueResult struct {
	ID               CredentialID
	VerificationCode VerificationCode
	ContentHash      ContentHash
	TransactionRef   TxRef
	IssuedAt         time.Time
}

// Annotation changes non-trust fields of an issued credential.
type Annotation struct {
	Status Status
}
