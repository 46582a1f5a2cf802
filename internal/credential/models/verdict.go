package models

import (
	"time"

	id "blockcreds/pkg/domain"
)

// ChainValidity is the tri-state answer from the ledger.
type ChainValidity string

const (
	ChainValid         ChainValidity = "true"
	ChainInvalid       ChainValidity = "false"
	ChainIndeterminate ChainValidity = "indeterminate"
)

// ImageMatch is the tri-state outcome of the similarity check.
type ImageMatch string

const (
	ImageMatched       ImageMatch = "true"
	ImageMismatched    ImageMatch = "false"
	ImageNotApplicable ImageMatch = "not_applicable"
)

// Reason names why a verdict is not valid. Verdicts list every failed
// check; the first entry is the primary reason.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonMalformedCode     Reason = "malformed_code"
	ReasonPending           Reason = "pending"
	ReasonContentTampered   Reason = "content_hash_mismatch"
	ReasonChainInvalid      Reason = "chain_invalid"
	ReasonChainUnavailable  Reason = "chain_unavailable"
	ReasonImageRequired     Reason = "image_required"
	ReasonImageMismatch     Reason = "image_mismatch"
	ReasonScorerUnavailable Reason = "scorer_unavailable"
	ReasonExpired           Reason = "expired"
	ReasonRevoked           Reason = "revoked"
	ReasonSuspended         Reason = "suspended"

	// ReasonStoreUnavailable is reported when the record could not be read.
	// Nothing about the credential is known, so the verdict is not valid.
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Policy names how an indeterminate chain answer was treated.
type Policy string

const (
	PolicyFailClosed Policy = "fail_closed"
	PolicyFailOpen   Policy = "fail_open"
)

// Verdict is the full, auditable outcome of verifying one code.
type Verdict struct {
	Code            VerificationCode
	ChainValid      ChainValidity
	ImageMatch      ImageMatch
	SimilarityScore *float64
	ContentIntact   bool
	OverallValid    bool
	Reasons         []Reason
	Policy          Policy
	CheckedAt       time.Time

	// PresentedImageIgnored is set when an image was presented for a
	// credential that has no reference image on file.
	PresentedImageIgnored bool

	// Credential is the matched record, nil when not found. Callers decide
	// how much of it to expose.
	Credential *Credential
}

// Reason returns the primary failure reason, or "" for a valid verdict.
func (v *Verdict) Reason() Reason {
	if len(v.Reasons) == 0 {
		return ""
	}
	return v.Reasons[0]
}

// HasReason reports whether r is among the failed checks.
func (v *Verdict) HasReason(r Reason) bool {
	for _, got := range v.Reasons {
		if got == r {
			return true
		}
	}
	return false
}

// BatchSummary aggregates a batch of verdicts.
type BatchSummary struct {
	Total   int
	Valid   int
	Invalid int
}

// BatchResult holds one verdict per requested code, in request order.
type BatchResult struct {
	Verdicts []Verdict
	Summary  BatchSummary
}

// PublicView is the subset of a credential shown to anonymous verifiers.
type PublicView struct {
	Code       VerificationCode
	Title      string
	IssuerRef  id.UserID
	IssueDate  time.Time
	ExpiryDate *time.Time
}

// PublicVerdict is a verdict stripped of private record fields.
type PublicVerdict struct {
	Verdict
	View *PublicView
}

// NewPublicVerdict drops the record from v and keeps only the public view.
func NewPublicVerdict(v Verdict) PublicVerdict {
	pv := PublicVerdict{Verdict: v}
	if c := v.Credential; c != nil {
		pv.View = &PublicView{
			Code:       c.VerificationCode,
			Title:      c.Title,
			IssuerRef:  c.IssuerRef,
			IssueDate:  c.IssueDate,
			ExpiryDate: c.ExpiryDate,
		}
	}
	pv.Verdict.Credential = nil
	return pv
}
