package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"blockcreds/internal/credential/chain"
	"blockcreds/internal/credential/identity"
	"blockcreds/internal/credential/models"
	"blockcreds/internal/credential/similarity"
	"blockcreds/internal/credential/tracer"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/sentinel"
)

// Verification surfaces, used as metric labels and audit details.
const (
	surfaceFull   = "full"
	surfacePublic = "public"
	surfaceBatch  = "batch"
)

// Verify runs the full trust decision for one code and an optional
// presented image. It never fails: every dependency problem is folded into
// the verdict.
func (s *Service) Verify(ctx context.Context, rawCode string, presentedImage []byte) models.Verdict {
	v := s.verify(ctx, rawCode, presentedImage, surfaceFull)
	s.emitVerified(ctx, v, surfaceFull)
	return v
}

// VerifyPublic runs the same decision for anonymous verifiers and strips
// the record down to its public view.
func (s *Service) VerifyPublic(ctx context.Context, rawCode string, presentedImage []byte) models.PublicVerdict {
	v := s.verify(ctx, rawCode, presentedImage, surfacePublic)
	s.emitVerified(ctx, v, surfacePublic)
	return models.NewPublicVerdict(v)
}

// BatchVerify verifies each code independently with bounded parallelism.
// Verdicts keep the request order; a failing dependency for one code never
// affects the others.
func (s *Service) BatchVerify(ctx context.Context, codes []string) (*models.BatchResult, error) {
	if len(codes) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one verification code is required")
	}
	if len(codes) > s.cfg.MaxBatchSize {
		return nil, dErrors.New(dErrors.CodeValidation, "too many verification codes in one batch")
	}

	ctx, span := s.tracer.Start(ctx, tracer.SpanBatchVerify, tracer.Int64(tracer.AttrBatchSize, int64(len(codes))))
	defer span.End(nil)
	if s.metrics != nil {
		s.metrics.ObserveBatchSize(len(codes))
	}

	verdicts := make([]models.Verdict, len(codes))
	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, code := range codes {
		g.Go(func() error {
			verdicts[i] = s.verify(ctx, code, nil, surfaceBatch)
			return nil
		})
	}
	_ = g.Wait()

	result := &models.BatchResult{
		Verdicts: verdicts,
		Summary:  models.BatchSummary{Total: len(verdicts)},
	}
	for _, v := range verdicts {
		if v.OverallValid {
			result.Summary.Valid++
		} else {
			result.Summary.Invalid++
		}
	}

	s.emitBatchVerified(ctx, result)
	return result, nil
}

func (s *Service) verify(ctx context.Context, rawCode string, presented []byte, surface string) models.Verdict {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerify, tracer.String(tracer.AttrCode, strings.TrimSpace(rawCode)))

	v := s.evaluate(ctx, rawCode, presented, span)

	span.SetAttributes(
		tracer.String(tracer.AttrChainValid, string(v.ChainValid)),
		tracer.String(tracer.AttrImageMatch, string(v.ImageMatch)),
		tracer.Bool(tracer.AttrOverallValid, v.OverallValid),
		tracer.String(tracer.AttrReason, string(v.Reason())),
		tracer.String(tracer.AttrPolicy, string(v.Policy)),
	)
	span.End(nil)

	if s.metrics != nil {
		s.metrics.ObserveVerification(surface, v.OverallValid, string(v.Reason()), time.Since(start))
	}
	return v
}

func (s *Service) policy() models.Policy {
	if s.cfg.ChainFailOpen {
		return models.PolicyFailOpen
	}
	return models.PolicyFailClosed
}

func (s *Service) evaluate(ctx context.Context, rawCode string, presented []byte, span tracer.Span) models.Verdict {
	now := s.now(ctx)
	v := models.Verdict{
		Code:       models.VerificationCode(strings.TrimSpace(rawCode)),
		ChainValid: models.ChainIndeterminate,
		ImageMatch: models.ImageNotApplicable,
		Policy:     s.policy(),
		CheckedAt:  now,
	}

	code, err := identity.NormalizeCode(rawCode)
	if err != nil {
		v.Reasons = []models.Reason{models.ReasonMalformedCode}
		return v
	}
	v.Code = code

	cred, err := s.findByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			v.Reasons = []models.Reason{models.ReasonNotFound}
			return v
		}
		s.logger.WarnContext(ctx, "credential lookup failed during verification", "code", code, "error", err)
		v.Reasons = []models.Reason{models.ReasonStoreUnavailable}
		return v
	}
	v.Credential = cred
	if cred.IsPending() {
		v.Reasons = []models.Reason{models.ReasonPending}
		return v
	}

	intact, err := identity.VerifyContentHash(cred.ContentHash, cred.Content)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored content hash cannot be recomputed", "code", code, "error", err)
		intact = false
	}
	v.ContentIntact = intact

	var (
		chainValid models.ChainValidity
		image      imageOutcome
		g          errgroup.Group
	)
	g.Go(func() error {
		chainValid = s.checkChain(ctx, code)
		return nil
	})
	g.Go(func() error {
		image = s.checkImage(ctx, cred, presented)
		return nil
	})
	_ = g.Wait()

	v.ChainValid = chainValid
	v.ImageMatch = image.match
	v.SimilarityScore = image.score
	v.PresentedImageIgnored = image.ignored
	v.Reasons = s.reasons(cred, intact, chainValid, image, now)
	v.OverallValid = len(v.Reasons) == 0

	s.refreshChainState(ctx, cred, chainValid, now, span)
	return v
}

// reasons lists every failed check, most severe first.
func (s *Service) reasons(cred *models.Credential, intact bool, chainValid models.ChainValidity,
	image imageOutcome, now time.Time,
) []models.Reason {
	var out []models.Reason
	if !intact {
		out = append(out, models.ReasonContentTampered)
	}
	switch cred.Status {
	case models.StatusRevoked:
		out = append(out, models.ReasonRevoked)
	case models.StatusSuspended:
		out = append(out, models.ReasonSuspended)
	}
	switch chainValid {
	case models.ChainInvalid:
		out = append(out, models.ReasonChainInvalid)
	case models.ChainIndeterminate:
		if !s.cfg.ChainFailOpen {
			out = append(out, models.ReasonChainUnavailable)
		}
	}
	if image.reason != "" {
		out = append(out, image.reason)
	}
	if cred.IsExpired(now) {
		out = append(out, models.ReasonExpired)
	}
	return out
}

func (s *Service) findByCode(ctx context.Context, code models.VerificationCode) (*models.Credential, error) {
	start := time.Now()
	cred, err := s.store.FindByCode(ctx, code)
	if err != nil && errors.Is(err, sentinel.ErrNotFound) {
		s.observeDependency("store_find", nil, start)
		return nil, err
	}
	s.observeDependency("store_find", err, start)
	return cred, err
}

func (s *Service) checkChain(ctx context.Context, code models.VerificationCode) models.ChainValidity {
	ctx, span := s.tracer.Start(ctx, tracer.SpanChainVerify, tracer.String(tracer.AttrCode, code.String()))
	start := time.Now()
	ok, err := s.chain.Verify(ctx, code)
	s.observeDependency("chain_verify", err, start)
	span.End(err)

	if err != nil {
		s.logger.WarnContext(ctx, "chain verification indeterminate",
			"code", code,
			"category", chain.CategoryOf(err),
			"error", err,
		)
		return models.ChainIndeterminate
	}
	if ok {
		return models.ChainValid
	}
	return models.ChainInvalid
}

type imageOutcome struct {
	match   models.ImageMatch
	score   *float64
	ignored bool
	reason  models.Reason
}

func (s *Service) checkImage(ctx context.Context, cred *models.Credential, presented []byte) imageOutcome {
	hasPresented := len(presented) > 0
	switch {
	case !cred.HasReferenceImage():
		return imageOutcome{match: models.ImageNotApplicable, ignored: hasPresented}
	case !hasPresented:
		return imageOutcome{match: models.ImageMismatched, reason: models.ReasonImageRequired}
	case s.scorer == nil:
		return imageOutcome{match: models.ImageMismatched, reason: models.ReasonScorerUnavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ScoreTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, tracer.SpanScore, tracer.String(tracer.AttrCode, cred.VerificationCode.String()))
	start := time.Now()
	score, err := s.scorer.Compare(ctx, presented, cred.ReferenceImage)
	s.observeDependency("scorer", err, start)
	span.End(err)

	if err != nil {
		s.logger.WarnContext(ctx, "similarity scoring failed",
			"code", cred.VerificationCode,
			"category", similarity.CategoryOf(err),
			"error", err,
		)
		return imageOutcome{match: models.ImageMismatched, reason: models.ReasonScorerUnavailable}
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		s.logger.WarnContext(ctx, "similarity score out of range", "code", cred.VerificationCode, "score", score)
		return imageOutcome{match: models.ImageMismatched, reason: models.ReasonScorerUnavailable}
	}

	if s.metrics != nil {
		s.metrics.ObserveSimilarityScore(score)
	}
	if score >= s.cfg.SimilarityThreshold {
		return imageOutcome{match: models.ImageMatched, score: &score}
	}
	return imageOutcome{match: models.ImageMismatched, score: &score, reason: models.ReasonImageMismatch}
}

// refreshChainState writes back a definitive chain answer that differs from
// the cached state. Failures are logged and counted; the verdict stands.
func (s *Service) refreshChainState(ctx context.Context, cred *models.Credential, chainValid models.ChainValidity,
	now time.Time, span tracer.Span,
) {
	var state models.OnChainState
	switch chainValid {
	case models.ChainValid:
		state = models.OnChainValid
	case models.ChainInvalid:
		state = models.OnChainInvalid
	default:
		return
	}
	if cred.OnChainState == state {
		return
	}

	err := s.store.UpdateOnChainState(ctx, cred.ID, state, now)
	if s.metrics != nil {
		s.metrics.IncChainStateRefresh(err == nil)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to refresh cached chain state",
			"credential_id", cred.ID,
			"state", state,
			"error", err,
		)
		return
	}
	cred.OnChainState = state
	cred.OnChainCheckedAt = &now
	span.AddEvent(tracer.EventCacheRefreshed, tracer.String("state", string(state)))
}
