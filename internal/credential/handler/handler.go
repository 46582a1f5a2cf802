// Package handler exposes issuance and verification over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"blockcreds/internal/credential/models"
	id "blockcreds/pkg/domain"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/httputil"
	"blockcreds/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,IdentityResolver

// Service is the engine surface used by the handlers.
type Service interface {
	Issue(ctx context.Context, req models.IssueRequest) (*models.IssueResult, error)
	Verify(ctx context.Context, rawCode string, presentedImage []byte) models.Verdict
	VerifyPublic(ctx context.Context, rawCode string, presentedImage []byte) models.PublicVerdict
	BatchVerify(ctx context.Context, codes []string) (*models.BatchResult, error)
	Annotate(ctx context.Context, caller id.UserID, credID models.CredentialID, a models.Annotation) (*models.Credential, error)
}

// IdentityResolver maps recipient emails to directory references and
// references to display names.
type IdentityResolver interface {
	Resolve(ctx context.Context, email string) (id.UserID, error)
	DisplayName(ctx context.Context, ref id.UserID) string
}

// Handler handles credential endpoints.
type Handler struct {
	service  Service
	resolver IdentityResolver
	logger   *slog.Logger
}

func New(service Service, resolver IdentityResolver, logger *slog.Logger) *Handler {
	return &Handler{service: service, resolver: resolver, logger: logger}
}

// RegisterPublic registers the anonymous verification routes.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/verify", h.handleVerify)
	r.Get("/verify/{code}", h.handleVerifyLink)
}

// RegisterIssuer registers the routes that act on behalf of an issuer.
// They expect the caller in the request context.
func (h *Handler) RegisterIssuer(r chi.Router) {
	r.Post("/credentials", h.handleIssue)
	r.Patch("/credentials/{id}", h.handleAnnotate)
	r.Post("/credentials/verify", h.handleVerifyFull)
}

// RegisterBatch registers batch verification, which also needs a caller.
func (h *Handler) RegisterBatch(r chi.Router) {
	r.Post("/verify/batch", h.handleBatchVerify)
}

func (h *Handler) caller(w http.ResponseWriter, ctx context.Context) (id.UserID, bool) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		h.logger.ErrorContext(ctx, "caller missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	issuer, ok := h.caller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	recipient := req.recipientRef
	if req.RecipientEmail != "" {
		ref, err := h.resolver.Resolve(ctx, req.RecipientEmail)
		if err != nil {
			h.logger.WarnContext(ctx, "failed to resolve recipient",
				"request_id", requestID,
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
		recipient = ref
	}

	res, err := h.service.Issue(ctx, req.toModel(issuer, recipient))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue credential",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toIssueResponse(res))
}

func (h *Handler) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := h.caller(w, ctx)
	if !ok {
		return
	}

	credID, err := models.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[AnnotateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cred, err := h.service.Annotate(ctx, caller, credID, models.Annotation{Status: models.Status(req.Status)})
	if err != nil {
		h.logger.WarnContext(ctx, "failed to annotate credential",
			"request_id", requestID,
			"credential_id", credID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toCredentialResponse(cred))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.writePublicVerdict(w, ctx, h.service.VerifyPublic(ctx, req.Code, req.image))
}

// handleVerifyLink serves the link printed on a credential. No image can be
// presented this way.
func (h *Handler) handleVerifyLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.writePublicVerdict(w, ctx, h.service.VerifyPublic(ctx, chi.URLParam(r, "code"), nil))
}

// handleVerifyFull lets an issuer verify one of its own credentials and see
// the full record. Other callers get the public view.
func (h *Handler) handleVerifyFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	v := h.service.Verify(ctx, req.Code, req.image)
	httputil.WriteJSON(w, http.StatusOK, h.verdictForCaller(ctx, caller, v))
}

func (h *Handler) handleBatchVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := h.caller(w, ctx)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[BatchVerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.BatchVerify(ctx, req.Codes)
	if err != nil {
		h.logger.WarnContext(ctx, "batch verification rejected",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := BatchVerifyResponse{
		Results: make([]VerdictResponse, 0, len(res.Verdicts)),
		Summary: BatchSummary{
			Total:   res.Summary.Total,
			Valid:   res.Summary.Valid,
			Invalid: res.Summary.Invalid,
		},
	}
	for _, v := range res.Verdicts {
		resp.Results = append(resp.Results, h.verdictForCaller(ctx, caller, v))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) writePublicVerdict(w http.ResponseWriter, ctx context.Context, pv models.PublicVerdict) {
	resp := verdictFields(pv.Verdict)
	resp.Credential = h.publicCredential(ctx, pv.View)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// verdictForCaller attaches the full record only when the caller issued it.
func (h *Handler) verdictForCaller(ctx context.Context, caller id.UserID, v models.Verdict) VerdictResponse {
	pv := models.NewPublicVerdict(v)
	resp := verdictFields(pv.Verdict)
	resp.Credential = h.publicCredential(ctx, pv.View)
	if v.Credential != nil && v.Credential.IssuerRef == caller {
		resp.Record = toCredentialResponse(v.Credential)
	}
	return resp
}

func (h *Handler) publicCredential(ctx context.Context, view *models.PublicView) *PublicCredential {
	if view == nil {
		return nil
	}
	return &PublicCredential{
		Title:      view.Title,
		IssuerName: h.resolver.DisplayName(ctx, view.IssuerRef),
		IssueDate:  view.IssueDate,
		ExpiryDate: view.ExpiryDate,
	}
}
