package handler

import (
	"encoding/base64"
	"strings"
	"time"

	"blockcreds/internal/credential/identity"
	"blockcreds/internal/credential/models"
	id "blockcreds/pkg/domain"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/validation"
)

// MaxImageBytes bounds a decoded reference or presented image.
const MaxImageBytes = 5 << 20

// IssueRequest is the body of POST /credentials. The issuer is always the
// authenticated caller. The recipient is given either as a directory
// reference or as an email resolved through the directory.
type IssueRequest struct {
	Title            string         `json:"title" validate:"required,max=256"`
	Description      *string        `json:"description,omitempty" validate:"omitempty,max=4096"`
	RecipientRef     string         `json:"recipient_ref,omitempty" validate:"required_without=RecipientEmail,excluded_with=RecipientEmail"`
	RecipientEmail   string         `json:"recipient_email,omitempty" validate:"omitempty,max=254,email"`
	IssueDate        string         `json:"issue_date" validate:"required"`
	ExpiryDate       string         `json:"expiry_date,omitempty"`
	Fields           map[string]any `json:"fields,omitempty" validate:"max=64"`
	ReferenceImage   string         `json:"reference_image,omitempty"`
	TransactionRef   string         `json:"transaction_ref,omitempty" validate:"required_with=VerificationCode"`
	VerificationCode string         `json:"verification_code,omitempty" validate:"required_with=TransactionRef"`

	issueDate    time.Time
	expiryDate   *time.Time
	recipientRef id.UserID
	image        []byte
}

func (r *IssueRequest) Normalize() {
	if r == nil {
		return
	}
	r.Title = strings.TrimSpace(r.Title)
	if r.Description != nil {
		d := strings.TrimSpace(*r.Description)
		r.Description = &d
	}
	r.RecipientRef = strings.TrimSpace(r.RecipientRef)
	r.RecipientEmail = strings.TrimSpace(r.RecipientEmail)
	r.IssueDate = strings.TrimSpace(r.IssueDate)
	r.ExpiryDate = strings.TrimSpace(r.ExpiryDate)
	r.TransactionRef = strings.TrimSpace(r.TransactionRef)
	r.VerificationCode = strings.TrimSpace(r.VerificationCode)
}

// Validate checks the request and parses its typed fields.
func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	// Phase 1: presence and size limits
	if err := validation.Validate(r); err != nil {
		return err
	}

	// Phase 2: syntax
	var err error
	if r.issueDate, err = parseDate(r.IssueDate, "issue_date"); err != nil {
		return err
	}
	if r.ExpiryDate != "" {
		expiry, err := parseDate(r.ExpiryDate, "expiry_date")
		if err != nil {
			return err
		}
		r.expiryDate = &expiry
	}
	if r.RecipientRef != "" {
		if r.recipientRef, err = id.ParseUserID(r.RecipientRef); err != nil {
			return err
		}
	}
	if r.ReferenceImage != "" {
		if r.image, err = decodeImage(r.ReferenceImage, "reference_image"); err != nil {
			return err
		}
	}
	if r.TransactionRef != "" {
		if _, err := models.ParseTxRef(r.TransactionRef); err != nil {
			return err
		}
	}
	if r.VerificationCode != "" {
		if _, err := identity.NormalizeCode(r.VerificationCode); err != nil {
			return err
		}
	}
	return nil
}

// toModel builds the engine request. recipient is the resolved reference.
func (r *IssueRequest) toModel(issuer, recipient id.UserID) models.IssueRequest {
	var txRef models.TxRef
	if r.TransactionRef != "" {
		txRef, _ = models.ParseTxRef(r.TransactionRef)
	}
	return models.IssueRequest{
		Content: models.Content{
			Title:        r.Title,
			Description:  r.Description,
			IssuerRef:    issuer,
			RecipientRef: recipient,
			IssueDate:    r.issueDate,
			ExpiryDate:   r.expiryDate,
			Fields:       r.Fields,
		},
		ReferenceImage:   r.image,
		TransactionRef:   txRef,
		VerificationCode: models.VerificationCode(r.VerificationCode),
	}
}

// AnnotateRequest is the body of PATCH /credentials/{id}.
type AnnotateRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended revoked"`
}

func (r *AnnotateRequest) Normalize() {
	if r != nil {
		r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	}
}

func (r *AnnotateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}

// VerifyRequest is the body of POST /verify. Code syntax is not validated
// here: a malformed code is a verdict, not a request error.
type VerifyRequest struct {
	Code  string `json:"code" validate:"required"`
	Image string `json:"image,omitempty"`

	image []byte
}

func (r *VerifyRequest) Normalize() {
	if r != nil {
		r.Code = strings.TrimSpace(r.Code)
		r.Image = strings.TrimSpace(r.Image)
	}
}

func (r *VerifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if r.Image != "" {
		img, err := decodeImage(r.Image, "image")
		if err != nil {
			return err
		}
		r.image = img
	}
	return nil
}

// BatchVerifyRequest is the body of POST /verify/batch. Batch size is
// bounded by the engine; an item long enough that it cannot be any code is
// rejected with the request.
type BatchVerifyRequest struct {
	Codes []string `json:"codes" validate:"required,min=1,dive,max=512"`
}

func (r *BatchVerifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}

func parseDate(s, field string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeValidation, field+" must be an RFC 3339 timestamp or YYYY-MM-DD date")
}

// decodeImage accepts plain base64 or a data URL and enforces MaxImageBytes.
func decodeImage(s, field string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, dErrors.New(dErrors.CodeValidation, field+" is not a valid data URL")
		}
		s = payload
	}
	if base64.StdEncoding.DecodedLen(len(s)) > MaxImageBytes+3 {
		return nil, dErrors.New(dErrors.CodeValidation, field+" is too large")
	}
	img, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		img, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, field+" must be base64 encoded")
	}
	if len(img) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, field+" is empty")
	}
	if len(img) > MaxImageBytes {
		return nil, dErrors.New(dErrors.CodeValidation, field+" is too large")
	}
	return img, nil
}
