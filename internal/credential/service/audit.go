package service

import (
	"context"
	"strconv"

	"blockcreds/internal/credential/models"
	"blockcreds/internal/platform/privacy"
	id "blockcreds/pkg/domain"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/audit"
	"blockcreds/pkg/requestcontext"
)

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now(ctx)
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		event.ClientIP = privacy.AnonymizeIP(ip)
	}
	event.Agent = requestcontext.ClientAgent(ctx)

	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"action", event.Action,
			"code", event.Code,
		)
	}
}

func (s *Service) emitIssued(ctx context.Context, req models.IssueRequest, mode string, res *models.IssueResult) {
	s.emit(ctx, audit.Event{
		Timestamp: res.IssuedAt,
		Action:    audit.ActionCredentialIssued,
		ActorID:   req.IssuerRef,
		Subject:   res.ID.String(),
		Code:      res.VerificationCode.String(),
		Decision:  "issued",
		Details: map[string]string{
			"mode":         mode,
			"tx_ref":       res.TransactionRef.String(),
			"content_hash": res.ContentHash.String(),
		},
	})
}

func (s *Service) emitIssueFailed(ctx context.Context, req models.IssueRequest, mode string, err error) {
	s.emit(ctx, audit.Event{
		Action:   audit.ActionCredentialIssueFailed,
		ActorID:  req.IssuerRef,
		Code:     req.VerificationCode.String(),
		Decision: "rejected",
		Reason:   string(dErrors.CodeOf(err)),
		Details:  map[string]string{"mode": mode},
	})
}

func (s *Service) emitVerified(ctx context.Context, v models.Verdict, surface string) {
	event := audit.Event{
		Timestamp: v.CheckedAt,
		Action:    audit.ActionCredentialVerified,
		ActorID:   requestcontext.UserID(ctx),
		Code:      v.Code.String(),
		Decision:  decision(v.OverallValid),
		Reason:    string(v.Reason()),
		Details: map[string]string{
			"surface":     surface,
			"chain_valid": string(v.ChainValid),
			"image_match": string(v.ImageMatch),
			"policy":      string(v.Policy),
		},
	}
	if v.Credential != nil {
		event.Subject = v.Credential.ID.String()
	}
	if v.SimilarityScore != nil {
		event.Details["similarity_score"] = strconv.FormatFloat(*v.SimilarityScore, 'f', 4, 64)
	}
	s.emit(ctx, event)
}

func (s *Service) emitBatchVerified(ctx context.Context, res *models.BatchResult) {
	s.emit(ctx, audit.Event{
		Action:   audit.ActionBatchVerified,
		ActorID:  requestcontext.UserID(ctx),
		Decision: "completed",
		Details: map[string]string{
			"total":   strconv.Itoa(res.Summary.Total),
			"valid":   strconv.Itoa(res.Summary.Valid),
			"invalid": strconv.Itoa(res.Summary.Invalid),
		},
	})
}

func (s *Service) emitAnnotated(ctx context.Context, caller id.UserID, cred *models.Credential, previous models.Status) {
	s.emit(ctx, audit.Event{
		Timestamp: cred.UpdatedAt,
		Action:    audit.ActionCredentialAnnotated,
		ActorID:   caller,
		Subject:   cred.ID.String(),
		Code:      cred.VerificationCode.String(),
		Decision:  string(cred.Status),
		Details:   map[string]string{"previous_status": string(previous)},
	})
}

func decision(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
