package service

import (
	"context"
	"errors"

	"blockcreds/internal/credential/models"
	"blockcreds/internal/credential/tracer"
	id "blockcreds/pkg/domain"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/sentinel"
)

// Annotate changes the status of a credential. Only the issuer may do so,
// and only non-trust fields are touched: content, code and transaction stay
// as anchored.
func (s *Service) Annotate(ctx context.Context, caller id.UserID, credID models.CredentialID, a models.Annotation) (*models.Credential, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanAnnotate, tracer.String(tracer.AttrCredentialID, credID.String()))
	cred, err := s.annotate(ctx, caller, credID, a)
	span.End(err)
	return cred, err
}

func (s *Service) annotate(ctx context.Context, caller id.UserID, credID models.CredentialID, a models.Annotation) (*models.Credential, error) {
	if caller.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is required")
	}
	if _, ok := models.ParseStatus(string(a.Status)); !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "status must be one of active, suspended, revoked")
	}

	cred, err := s.store.FindByID(ctx, credID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
		}
		return nil, storeError(err, "failed to load credential")
	}
	if cred.IssuerRef != caller {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the issuer may annotate this credential")
	}
	if cred.Status == a.Status {
		return cred, nil
	}

	previous := cred.Status
	now := s.now(ctx)
	if err := s.store.UpdateStatus(ctx, cred.ID, a.Status, now); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
		}
		return nil, storeError(err, "failed to update credential status")
	}
	cred.Status = a.Status
	cred.UpdatedAt = now

	s.emitAnnotated(ctx, caller, cred, previous)
	return cred, nil
}
