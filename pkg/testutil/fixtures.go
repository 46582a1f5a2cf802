package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"blockcreds/internal/credential/identity"
	"blockcreds/internal/credential/models"
	id "blockcreds/pkg/domain"
)

// TestIDs provides pre-generated references for deterministic test data.
var TestIDs = struct {
	IssuerID1    id.UserID
	IssuerID2    id.UserID
	RecipientID1 id.UserID
	RecipientID2 id.UserID
}{
	IssuerID1:    id.UserID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	IssuerID2:    id.UserID(uuid.MustParse("22222222-2222-2222-2222-222222222222")),
	RecipientID1: id.UserID(uuid.MustParse("aaaa0000-0000-0000-0000-000000000001")),
	RecipientID2: id.UserID(uuid.MustParse("aaaa0000-0000-0000-0000-000000000002")),
}

// TestTxRef returns a well-formed transaction reference derived from n.
func TestTxRef(n int) models.TxRef {
	return models.TxRef(fmt.Sprintf("0x%064x", n))
}

// CredentialBuilder provides a fluent interface for building test
// credentials. Build recomputes the content hash unless WithContentHash
// pinned one.
type CredentialBuilder struct {
	cred       *models.Credential
	pinnedHash bool
}

// NewCredentialBuilder creates a builder for an anchored, active credential.
func NewCredentialBuilder() *CredentialBuilder {
	now := time.Now().UTC().Truncate(time.Second)
	return &CredentialBuilder{
		cred: &models.Credential{
			ID:               models.NewCredentialID(),
			VerificationCode: models.VerificationCode(fmt.Sprintf("BC-%08X-%08X", uuid.New().ID(), uuid.New().ID())),
			TransactionRef:   TestTxRef(1),
			Content: models.Content{
				Title:        "Certificate of Completion",
				IssuerRef:    TestIDs.IssuerID1,
				RecipientRef: TestIDs.RecipientID1,
				IssueDate:    now.Add(-24 * time.Hour),
				Fields:       map[string]any{"course": "Distributed Systems"},
			},
			Status:       models.StatusActive,
			OnChainState: models.OnChainUnknown,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
}

func (b *CredentialBuilder) WithCode(code models.VerificationCode) *CredentialBuilder {
	b.cred.VerificationCode = code
	return b
}

func (b *CredentialBuilder) WithTxRef(ref models.TxRef) *CredentialBuilder {
	b.cred.TransactionRef = ref
	return b
}

// Pending drops the transaction reference.
func (b *CredentialBuilder) Pending() *CredentialBuilder {
	b.cred.TransactionRef = ""
	return b
}

func (b *CredentialBuilder) WithIssuer(issuer id.UserID) *CredentialBuilder {
	b.cred.IssuerRef = issuer
	return b
}

func (b *CredentialBuilder) WithRecipient(recipient id.UserID) *CredentialBuilder {
	b.cred.RecipientRef = recipient
	return b
}

func (b *CredentialBuilder) WithTitle(title string) *CredentialBuilder {
	b.cred.Title = title
	return b
}

func (b *CredentialBuilder) WithDescription(description string) *CredentialBuilder {
	b.cred.Description = &description
	return b
}

func (b *CredentialBuilder) WithFields(fields map[string]any) *CredentialBuilder {
	b.cred.Fields = fields
	return b
}

func (b *CredentialBuilder) WithExpiry(expiry time.Time) *CredentialBuilder {
	b.cred.ExpiryDate = &expiry
	return b
}

func (b *CredentialBuilder) WithReferenceImage(img []byte) *CredentialBuilder {
	b.cred.ReferenceImage = img
	return b
}

func (b *CredentialBuilder) WithStatus(status models.Status) *CredentialBuilder {
	b.cred.Status = status
	return b
}

// WithContentHash pins a hash, e.g. to simulate tampered content.
func (b *CredentialBuilder) WithContentHash(h models.ContentHash) *CredentialBuilder {
	b.cred.ContentHash = h
	b.pinnedHash = true
	return b
}

func (b *CredentialBuilder) Build() *models.Credential {
	if !b.pinnedHash {
		h, err := identity.ComputeContentHash(b.cred.Content, identity.DefaultAlgorithm)
		if err != nil {
			panic(fmt.Sprintf("testutil: compute content hash: %v", err))
		}
		b.cred.ContentHash = h
	}
	out := *b.cred
	return &out
}
