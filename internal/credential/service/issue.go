package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"blockcreds/internal/credential/chain"
	"blockcreds/internal/credential/identity"
	"blockcreds/internal/credential/models"
	"blockcreds/internal/credential/tracer"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/sentinel"
)

const (
	issueModeEngine   = "engine"
	issueModeClientTx = "client_tx"
)

// Issue anchors a credential on chain and persists it. When the request
// carries a TransactionRef the issuer already anchored it; otherwise the
// engine generates a code and submits the registration itself.
func (s *Service) Issue(ctx context.Context, req models.IssueRequest) (*models.IssueResult, error) {
	mode := issueModeEngine
	if !req.TransactionRef.IsZero() {
		mode = issueModeClientTx
	}
	ctx, span := s.tracer.Start(ctx, tracer.SpanIssue, tracer.Bool(tracer.AttrClientTxSuppl, mode == issueModeClientTx))

	result, err := s.issue(ctx, req, mode)
	span.End(err)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncIssueFailure(string(dErrors.CodeOf(err)))
		}
		s.emitIssueFailed(ctx, req, mode, err)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncIssued(mode)
	}
	s.emitIssued(ctx, req, mode, result)
	return result, nil
}

func (s *Service) issue(ctx context.Context, req models.IssueRequest, mode string) (*models.IssueResult, error) {
	if err := validateIssueRequest(req); err != nil {
		return nil, err
	}

	hash, err := identity.ComputeContentHash(req.Content, s.cfg.HashAlgorithm)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "credential content cannot be hashed")
	}

	if mode == issueModeClientTx {
		return s.issueWithClientTx(ctx, req, hash)
	}
	return s.issueWithSubmission(ctx, req, hash)
}

func validateIssueRequest(req models.IssueRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if req.IssuerRef.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "issuer is required")
	}
	if req.RecipientRef.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "recipient is required")
	}
	if req.IssueDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "issue date is required")
	}
	if req.ExpiryDate != nil && !req.ExpiryDate.After(req.IssueDate) {
		return dErrors.New(dErrors.CodeValidation, "expiry date must be after issue date")
	}
	if req.TransactionRef.IsZero() && req.VerificationCode != "" {
		return dErrors.New(dErrors.CodeValidation, "a verification code can only be supplied with its transaction")
	}
	if !req.TransactionRef.IsZero() && req.VerificationCode == "" {
		return dErrors.New(dErrors.CodeValidation, "a transaction must be supplied with the verification code it registered")
	}
	if !req.TransactionRef.IsZero() {
		if _, err := models.ParseTxRef(req.TransactionRef.String()); err != nil {
			return err
		}
	}
	return nil
}

// issueWithClientTx persists a credential the issuer anchored with its own
// signed transaction. The transaction must be mined and successful.
func (s *Service) issueWithClientTx(ctx context.Context, req models.IssueRequest, hash models.ContentHash) (*models.IssueResult, error) {
	status, err := s.transactionStatus(ctx, req.TransactionRef)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeChainSubmission, "could not confirm transaction on chain")
	}
	if status != models.TxSuccess {
		return nil, dErrors.New(dErrors.CodeTransactionNotConfirmed,
			fmt.Sprintf("transaction %s is %s", req.TransactionRef, status))
	}

	code, err := identity.NormalizeCode(req.VerificationCode.String())
	if err != nil {
		return nil, err
	}
	cred := s.newCredential(ctx, req, code, hash, req.TransactionRef)
	if err := s.store.Insert(ctx, cred); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "verification code is already issued")
		}
		return nil, storeError(err, "failed to persist credential")
	}
	return resultFor(cred), nil
}

// issueWithSubmission generates a code, anchors it and persists the record.
// A code the registry already holds is regenerated before anything is
// anchored. A code that loses the insert race is regenerated and
// resubmitted; the earlier transaction is left orphaned on chain and logged.
//
// The caller's cancellation does not abort a submission in flight; the
// submission timeout bounds it instead.
func (s *Service) issueWithSubmission(ctx context.Context, req models.IssueRequest, hash models.ContentHash) (*models.IssueResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SubmissionTimeout)
	defer cancel()

	gen := identity.NewCodeGenerator(s.random, s.store.Exists, s.cfg.MaxCodeAttempts)
	for attempt := 1; attempt <= s.cfg.MaxCodeAttempts; attempt++ {
		code, err := gen.Next(ctx)
		if err != nil {
			return nil, err
		}

		txRef, err := s.submit(ctx, models.Registration{
			Code:         code,
			IssuerRef:    req.IssuerRef,
			RecipientRef: req.RecipientRef,
			MetadataHash: hash,
		}, attempt)
		if chain.IsDuplicateCode(err) {
			s.recordCollision(ctx, code, attempt)
			continue
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeChainSubmission, "failed to anchor credential on chain")
		}

		cred := s.newCredential(ctx, req, code, hash, txRef)
		err = s.store.Insert(ctx, cred)
		if err == nil {
			return resultFor(cred), nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			s.logger.ErrorContext(ctx, "credential anchored but not persisted",
				"code", code,
				"tx_ref", txRef,
				"error", err,
			)
			return nil, storeError(err, "failed to persist credential")
		}
		s.logger.WarnContext(ctx, "verification code collided after submission, transaction orphaned",
			"code", code,
			"tx_ref", txRef,
			"attempt", attempt,
		)
		s.recordCollision(ctx, code, attempt)
	}
	return nil, dErrors.New(dErrors.CodeCodeGenerationExhausted, "could not generate a unique verification code")
}

func (s *Service) submit(ctx context.Context, reg models.Registration, attempt int) (models.TxRef, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanChainSubmit,
		tracer.String(tracer.AttrCode, reg.Code.String()),
		tracer.Int64(tracer.AttrCodeAttempt, int64(attempt)),
	)
	start := time.Now()
	ref, err := s.chain.Submit(ctx, reg)
	s.observeDependency("chain_submit", err, start)
	if err == nil {
		span.SetAttributes(tracer.String(tracer.AttrTxRef, ref.String()))
	}
	span.End(err)
	return ref, err
}

func (s *Service) transactionStatus(ctx context.Context, ref models.TxRef) (models.TxStatus, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanChainTxCheck, tracer.String(tracer.AttrTxRef, ref.String()))
	start := time.Now()
	status, err := s.chain.TransactionStatus(ctx, ref)
	s.observeDependency("chain_tx_status", err, start)
	span.End(err)
	return status, err
}

func (s *Service) recordCollision(ctx context.Context, code models.VerificationCode, attempt int) {
	if s.metrics != nil {
		s.metrics.IncCodeCollision()
	}
	s.logger.InfoContext(ctx, "verification code collision", "code", code, "attempt", attempt)
}

func (s *Service) newCredential(ctx context.Context, req models.IssueRequest, code models.VerificationCode,
	hash models.ContentHash, txRef models.TxRef,
) *models.Credential {
	now := s.now(ctx)
	return &models.Credential{
		ID:               models.NewCredentialID(),
		VerificationCode: code,
		ContentHash:      hash,
		TransactionRef:   txRef,
		Content:          req.Content,
		ReferenceImage:   req.ReferenceImage,
		Status:           models.StatusActive,
		OnChainState:     models.OnChainUnknown,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func resultFor(c *models.Credential) *models.IssueResult {
	return &models.IssueResult{
		ID:               c.ID,
		VerificationCode: c.VerificationCode,
		ContentHash:      c.ContentHash,
		TransactionRef:   c.TransactionRef,
		IssuedAt:         c.CreatedAt,
	}
}

func (s *Service) observeDependency(dep string, err error, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveDependency(dep, err, time.Since(start))
	}
}
