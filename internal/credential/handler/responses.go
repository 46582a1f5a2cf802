package handler

import (
	"time"

	"blockcreds/internal/credential/models"
)

// IssueResponse is returned by POST /credentials.
type IssueResponse struct {
	ID               string    `json:"id"`
	VerificationCode string    `json:"verification_code"`
	ContentHash      string    `json:"content_hash"`
	TransactionRef   string    `json:"transaction_ref"`
	IssuedAt         time.Time `json:"issued_at"`
	VerifyPath       string    `json:"verify_path"`
}

// CredentialResponse is the issuer's view of a record.
type CredentialResponse struct {
	ID               string         `json:"id"`
	VerificationCode string         `json:"verification_code"`
	Title            string         `json:"title"`
	Description      *string        `json:"description,omitempty"`
	IssuerRef        string         `json:"issuer_ref"`
	RecipientRef     string         `json:"recipient_ref"`
	IssueDate        time.Time      `json:"issue_date"`
	ExpiryDate       *time.Time     `json:"expiry_date,omitempty"`
	Fields           map[string]any `json:"fields,omitempty"`
	HasImage         bool           `json:"has_reference_image"`
	TransactionRef   string         `json:"transaction_ref"`
	Status           string         `json:"status"`
	OnChainState     string         `json:"on_chain_state"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// PublicCredential is what an anonymous verifier may see.
type PublicCredential struct {
	Title      string     `json:"title"`
	IssuerName string     `json:"issuer_name,omitempty"`
	IssueDate  time.Time  `json:"issue_date"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// VerdictResponse is the body of every verification response. Verification
// always answers 200; the outcome is in overall_valid and reason.
type VerdictResponse struct {
	Code                  string    `json:"code"`
	OverallValid          bool      `json:"overall_valid"`
	Reason                string    `json:"reason,omitempty"`
	Reasons               []string  `json:"reasons,omitempty"`
	ChainValid            string    `json:"chain_valid"`
	ImageMatch            string    `json:"image_match"`
	SimilarityScore       *float64  `json:"similarity_score,omitempty"`
	ContentIntact         bool      `json:"content_intact"`
	Policy                string    `json:"policy"`
	CheckedAt             time.Time `json:"checked_at"`
	PresentedImageIgnored bool      `json:"presented_image_ignored,omitempty"`

	Credential *PublicCredential   `json:"credential,omitempty"`
	Record     *CredentialResponse `json:"record,omitempty"`
}

// BatchVerifyResponse is returned by POST /verify/batch.
type BatchVerifyResponse struct {
	Results []VerdictResponse `json:"results"`
	Summary BatchSummary      `json:"summary"`
}

type BatchSummary struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

func toIssueResponse(res *models.IssueResult) IssueResponse {
	return IssueResponse{
		ID:               res.ID.String(),
		VerificationCode: res.VerificationCode.String(),
		ContentHash:      res.ContentHash.String(),
		TransactionRef:   res.TransactionRef.String(),
		IssuedAt:         res.IssuedAt,
		VerifyPath:       "/verify/" + res.VerificationCode.String(),
	}
}

func toCredentialResponse(c *models.Credential) *CredentialResponse {
	return &CredentialResponse{
		ID:               c.ID.String(),
		VerificationCode: c.VerificationCode.String(),
		Title:            c.Title,
		Description:      c.Description,
		IssuerRef:        c.IssuerRef.String(),
		RecipientRef:     c.RecipientRef.String(),
		IssueDate:        c.IssueDate,
		ExpiryDate:       c.ExpiryDate,
		Fields:           c.Fields,
		HasImage:         c.HasReferenceImage(),
		TransactionRef:   c.TransactionRef.String(),
		Status:           string(c.Status),
		OnChainState:     string(c.OnChainState),
		UpdatedAt:        c.UpdatedAt,
	}
}

func verdictFields(v models.Verdict) VerdictResponse {
	resp := VerdictResponse{
		Code:                  v.Code.String(),
		OverallValid:          v.OverallValid,
		Reason:                string(v.Reason()),
		ChainValid:            string(v.ChainValid),
		ImageMatch:            string(v.ImageMatch),
		SimilarityScore:       v.SimilarityScore,
		ContentIntact:         v.ContentIntact,
		Policy:                string(v.Policy),
		CheckedAt:             v.CheckedAt,
		PresentedImageIgnored: v.PresentedImageIgnored,
	}
	for _, r := range v.Reasons {
		resp.Reasons = append(resp.Reasons, string(r))
	}
	return resp
}
