package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,ChainClient,Scorer,AuditPublisher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"blockcreds/internal/credential/chain"
	"blockcreds/internal/credential/identity"
	"blockcreds/internal/credential/models"
	"blockcreds/internal/credential/service/mocks"
	"blockcreds/internal/credential/similarity"
	id "blockcreds/pkg/domain"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/audit"
	"blockcreds/pkg/platform/sentinel"
	"blockcreds/pkg/testutil"
)

// ServiceSuite drives the engine against mocked ports to pin down error
// translation and the trust policy at its boundaries.
type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *mocks.MockStore
	chain   *mocks.MockChainClient
	scorer  *mocks.MockScorer
	auditor *mocks.MockAuditPublisher
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.chain = mocks.NewMockChainClient(s.ctrl)
	s.scorer = mocks.NewMockScorer(s.ctrl)
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(mutate func(*Config)) *Service {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(s.store, s.chain, s.scorer, cfg,
		WithAuditor(s.auditor),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) credentialWithImage() *models.Credential {
	return testutil.NewCredentialBuilder().
		WithReferenceImage([]byte("reference")).
		Build()
}

// =============================================================================
// Configuration
// =============================================================================

func (s *ServiceSuite) TestNew_RejectsInvalidConfig() {
	cases := map[string]func(*Config){
		"threshold above one": func(c *Config) { c.SimilarityThreshold = 1.2 },
		"negative threshold":  func(c *Config) { c.SimilarityThreshold = -0.1 },
		"unknown hash":        func(c *Config) { c.HashAlgorithm = "md5" },
		"zero code attempts":  func(c *Config) { c.MaxCodeAttempts = 0 },
		"zero batch size":     func(c *Config) { c.MaxBatchSize = 0 },
		"zero concurrency":    func(c *Config) { c.BatchConcurrency = 0 },
		"zero score timeout":  func(c *Config) { c.ScoreTimeout = 0 },
		"zero submit timeout": func(c *Config) { c.SubmissionTimeout = 0 },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(s.store, s.chain, s.scorer, cfg)
			s.Error(err)
		})
	}

	_, err := New(nil, s.chain, s.scorer, DefaultConfig())
	s.Error(err)
	_, err = New(s.store, nil, s.scorer, DefaultConfig())
	s.Error(err)
}

// =============================================================================
// Verify: lookup
// =============================================================================

func (s *ServiceSuite) TestVerify_MalformedCodeNeverTouchesStore() {
	svc := s.newService(nil)

	v := svc.Verify(context.Background(), "BC-<script>", nil)

	s.False(v.OverallValid)
	s.Equal(models.ReasonMalformedCode, v.Reason())
	s.Equal(models.ChainIndeterminate, v.ChainValid)
}

func (s *ServiceSuite) TestVerify_NotFound() {
	svc := s.newService(nil)
	s.store.EXPECT().FindByCode(gomock.Any(), models.VerificationCode("BC-00000000-00000001")).
		Return(nil, sentinel.ErrNotFound)

	v := svc.Verify(context.Background(), " 0xBC-00000000-00000001 ", nil)

	s.False(v.OverallValid)
	s.Equal(models.ReasonNotFound, v.Reason())
	s.Equal(models.VerificationCode("BC-00000000-00000001"), v.Code)
	s.Nil(v.Credential)
}

func (s *ServiceSuite) TestVerify_StoreFailureIsAVerdict() {
	svc := s.newService(nil)
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

	v := svc.Verify(context.Background(), "BC-00000000-00000001", nil)

	s.False(v.OverallValid)
	s.Equal(models.ReasonStoreUnavailable, v.Reason())
}

func (s *ServiceSuite) TestVerify_PendingRecordIsNeverVerified() {
	svc := s.newService(nil)
	cred := testutil.NewCredentialBuilder().Pending().Build()
	s.store.EXPECT().FindByCode(gomock.Any(), cred.VerificationCode).Return(cred, nil)

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), nil)

	s.False(v.OverallValid)
	s.Equal(models.ReasonPending, v.Reason())
	s.Equal(models.ChainIndeterminate, v.ChainValid)
}

// =============================================================================
// Verify: chain policy
// =============================================================================

func (s *ServiceSuite) TestVerify_ChainUnreachableFailsClosed() {
	svc := s.newService(nil)
	cred := testutil.NewCredentialBuilder().Build()
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
	s.chain.EXPECT().Verify(gomock.Any(), cred.VerificationCode).
		Return(false, chain.NewError(chain.ErrorUnavailable, "verify", "rpc down", nil))

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), nil)

	s.False(v.OverallValid)
	s.Equal(models.ChainIndeterminate, v.ChainValid)
	s.Equal(models.ReasonChainUnavailable, v.Reason())
	s.Equal(models.PolicyFailClosed, v.Policy)
}

func (s *ServiceSuite) TestVerify_ChainUnreachableFailOpen() {
	svc := s.newService(func(c *Config) { c.ChainFailOpen = true })
	cred := testutil.NewCredentialBuilder().Build()
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
	s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(false, chain.ErrCircuitOpen)

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), nil)

	s.True(v.OverallValid)
	s.Equal(models.ChainIndeterminate, v.ChainValid)
	s.Equal(models.PolicyFailOpen, v.Policy)
	s.Empty(v.Reasons)
}

func (s *ServiceSuite) TestVerify_ChainSaysInvalid() {
	svc := s.newService(func(c *Config) { c.ChainFailOpen = true })
	cred := testutil.NewCredentialBuilder().Build()
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
	s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(false, nil)
	s.store.EXPECT().UpdateOnChainState(gomock.Any(), cred.ID, models.OnChainInvalid, s.now).Return(nil)

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), nil)

	s.False(v.OverallValid, "fail-open never overrides a definitive answer")
	s.Equal(models.ReasonChainInvalid, v.Reason())
}

// =============================================================================
// Verify: image policy
// =============================================================================

func (s *ServiceSuite) TestVerify_ThresholdIsInclusive() {
	cases := []struct {
		score float64
		match models.ImageMatch
		valid bool
	}{
		{0.85, models.ImageMatched, true},
		{0.8499, models.ImageMismatched, false},
		{1.0, models.ImageMatched, true},
		{0.0, models.ImageMismatched, false},
	}
	for _, tc := range cases {
		s.Run(fmt.Sprintf("score %.4f", tc.score), func() {
			svc := s.newService(nil)
			cred := s.credentialWithImage()
			cred.OnChainState = models.OnChainValid
			s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
			s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(true, nil)
			s.scorer.EXPECT().Compare(gomock.Any(), []byte("presented"), []byte("reference")).Return(tc.score, nil)

			v := svc.Verify(context.Background(), cred.VerificationCode.String(), []byte("presented"))

			s.Equal(tc.match, v.ImageMatch)
			s.Equal(tc.valid, v.OverallValid)
			s.Require().NotNil(v.SimilarityScore)
			s.InDelta(tc.score, *v.SimilarityScore, 1e-9)
			if !tc.valid {
				s.Equal(models.ReasonImageMismatch, v.Reason())
			}
		})
	}
}

func (s *ServiceSuite) TestVerify_ReferenceImageWithoutPresentedImage() {
	svc := s.newService(nil)
	cred := s.credentialWithImage()
	cred.OnChainState = models.OnChainValid
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
	s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(true, nil)

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), nil)

	s.False(v.OverallValid)
	s.Equal(models.ImageMismatched, v.ImageMatch)
	s.Equal(models.ReasonImageRequired, v.Reason())
	s.Nil(v.SimilarityScore)
}

func (s *ServiceSuite) TestVerify_PresentedImageWithoutReferenceIsIgnored() {
	svc := s.newService(nil)
	cred := testutil.NewCredentialBuilder().Build()
	cred.OnChainState = models.OnChainValid
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
	s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(true, nil)

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), []byte("presented"))

	s.True(v.OverallValid)
	s.Equal(models.ImageNotApplicable, v.ImageMatch)
	s.True(v.PresentedImageIgnored)
}

func (s *ServiceSuite) TestVerify_ScorerFailureFailsClosed() {
	for name, scoreErr := range map[string]error{
		"timeout":     similarity.NewError(similarity.ErrorTimeout, "http", "deadline", context.DeadlineExceeded),
		"bad data":    similarity.NewError(similarity.ErrorBadData, "http", "NaN", nil),
		"unavailable": similarity.NewError(similarity.ErrorUnavailable, "http", "503", nil),
	} {
		s.Run(name, func() {
			svc := s.newService(nil)
			cred := s.credentialWithImage()
			cred.OnChainState = models.OnChainValid
			s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
			s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(true, nil)
			s.scorer.EXPECT().Compare(gomock.Any(), gomock.Any(), gomock.Any()).Return(0.0, scoreErr)

			v := svc.Verify(context.Background(), cred.VerificationCode.String(), []byte("presented"))

			s.False(v.OverallValid)
			s.Equal(models.ImageMismatched, v.ImageMatch)
			s.Equal(models.ReasonScorerUnavailable, v.Reason())
		})
	}
}

func (s *ServiceSuite) TestVerify_OutOfRangeScoreIsRejected() {
	svc := s.newService(nil)
	cred := s.credentialWithImage()
	cred.OnChainState = models.OnChainValid
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
	s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(true, nil)
	s.scorer.EXPECT().Compare(gomock.Any(), gomock.Any(), gomock.Any()).Return(1.7, nil)

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), []byte("presented"))

	s.False(v.OverallValid)
	s.Equal(models.ReasonScorerUnavailable, v.Reason())
}

// =============================================================================
// Verify: supplements and reason ordering
// =============================================================================

func (s *ServiceSuite) TestVerify_TamperedContentWins() {
	svc := s.newService(nil)
	cred := testutil.NewCredentialBuilder().WithStatus(models.StatusRevoked).Build()
	cred.Title = "Certificate of Excellence"
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
	s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(false, nil)
	s.store.EXPECT().UpdateOnChainState(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), nil)

	s.False(v.OverallValid)
	s.False(v.ContentIntact)
	s.Equal([]models.Reason{
		models.ReasonContentTampered,
		models.ReasonRevoked,
		models.ReasonChainInvalid,
	}, v.Reasons)
}

func (s *ServiceSuite) TestVerify_StatusAndExpiry() {
	cases := map[string]struct {
		cred *models.Credential
		want models.Reason
	}{
		"revoked":   {testutil.NewCredentialBuilder().WithStatus(models.StatusRevoked).Build(), models.ReasonRevoked},
		"suspended": {testutil.NewCredentialBuilder().WithStatus(models.StatusSuspended).Build(), models.ReasonSuspended},
		"expired":   {testutil.NewCredentialBuilder().WithExpiry(time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)).Build(), models.ReasonExpired},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			svc := s.newService(nil)
			tc.cred.IssueDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			tc.cred.ContentHash = mustHash(tc.cred.Content)
			tc.cred.OnChainState = models.OnChainValid
			s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(tc.cred, nil)
			s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(true, nil)

			v := svc.Verify(context.Background(), tc.cred.VerificationCode.String(), nil)

			s.False(v.OverallValid)
			s.True(v.ContentIntact)
			s.Equal(models.ChainValid, v.ChainValid)
			s.Equal(tc.want, v.Reason())
		})
	}
}

// =============================================================================
// Verify: lazy chain-state refresh
// =============================================================================

func (s *ServiceSuite) TestVerify_RefreshesCachedChainState() {
	svc := s.newService(nil)
	cred := testutil.NewCredentialBuilder().Build()
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
	s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(true, nil)
	s.store.EXPECT().UpdateOnChainState(gomock.Any(), cred.ID, models.OnChainValid, s.now).Return(nil)

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), nil)

	s.True(v.OverallValid)
	s.Equal(models.OnChainValid, v.Credential.OnChainState)
}

func (s *ServiceSuite) TestVerify_RefreshFailureDoesNotChangeVerdict() {
	svc := s.newService(nil)
	cred := testutil.NewCredentialBuilder().Build()
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(cred, nil)
	s.chain.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(true, nil)
	s.store.EXPECT().UpdateOnChainState(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("read-only replica"))

	v := svc.Verify(context.Background(), cred.VerificationCode.String(), nil)

	s.True(v.OverallValid)
	s.Equal(models.OnChainUnknown, v.Credential.OnChainState)
}

func (s *ServiceSuite) TestVerify_NoRefreshWhenCacheAgreesOrIndeterminate() {
	svc := s.newService(nil)
	agreeing := testutil.NewCredentialBuilder().Build()
	agreeing.OnChainState = models.OnChainValid
	s.store.EXPECT().FindByCode(gomock.Any(), agreeing.VerificationCode).Return(agreeing, nil)
	s.chain.EXPECT().Verify(gomock.Any(), agreeing.VerificationCode).Return(true, nil)

	unreachable := testutil.NewCredentialBuilder().Build()
	s.store.EXPECT().FindByCode(gomock.Any(), unreachable.VerificationCode).Return(unreachable, nil)
	s.chain.EXPECT().Verify(gomock.Any(), unreachable.VerificationCode).Return(false, context.DeadlineExceeded)

	svc.Verify(context.Background(), agreeing.VerificationCode.String(), nil)
	svc.Verify(context.Background(), unreachable.VerificationCode.String(), nil)
	// gomock fails the test on any unexpected UpdateOnChainState call.
}

// =============================================================================
// Batch
// =============================================================================

func (s *ServiceSuite) TestBatchVerify_RejectsEmptyAndOversized() {
	svc := s.newService(func(c *Config) { c.MaxBatchSize = 2 })

	_, err := svc.BatchVerify(context.Background(), nil)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = svc.BatchVerify(context.Background(), []string{"a", "b", "c"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

// =============================================================================
// Issue: client-submitted transaction
// =============================================================================

func (s *ServiceSuite) issueRequest() models.IssueRequest {
	return models.IssueRequest{
		Content: models.Content{
			Title:        "Bachelor of Science",
			IssuerRef:    testutil.TestIDs.IssuerID1,
			RecipientRef: testutil.TestIDs.RecipientID1,
			IssueDate:    time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			Fields:       map[string]any{"major": "Physics"},
		},
	}
}

func (s *ServiceSuite) TestIssue_Validation() {
	svc := s.newService(nil)
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := map[string]func(*models.IssueRequest){
		"missing title":       func(r *models.IssueRequest) { r.Title = "  " },
		"missing issuer":      func(r *models.IssueRequest) { r.IssuerRef = id.UserID{} },
		"missing recipient":   func(r *models.IssueRequest) { r.RecipientRef = id.UserID{} },
		"missing issue date":  func(r *models.IssueRequest) { r.IssueDate = time.Time{} },
		"expiry before issue": func(r *models.IssueRequest) { r.ExpiryDate = &past },
		"code without tx":     func(r *models.IssueRequest) { r.VerificationCode = "BC-00000000-00000001" },
		"malformed tx ref": func(r *models.IssueRequest) {
			r.TransactionRef = "0x1234"
			r.VerificationCode = "BC-00000000-00000001"
		},
		"tx without its code": func(r *models.IssueRequest) { r.TransactionRef = testutil.TestTxRef(7) },
		"unhashable field":    func(r *models.IssueRequest) { r.Fields = map[string]any{"f": func() {}} },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			req := s.issueRequest()
			mutate(&req)
			_, err := svc.Issue(context.Background(), req)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
		})
	}
}

func (s *ServiceSuite) TestIssue_ClientTxNotConfirmed() {
	for _, status := range []models.TxStatus{models.TxFailed, models.TxPending, models.TxUnknown} {
		s.Run(string(status), func() {
			svc := s.newService(nil)
			req := s.issueRequest()
			req.TransactionRef = testutil.TestTxRef(7)
			req.VerificationCode = "WALLET-CODE-7"
			s.chain.EXPECT().TransactionStatus(gomock.Any(), req.TransactionRef).Return(status, nil)

			_, err := svc.Issue(context.Background(), req)
			s.True(dErrors.HasCode(err, dErrors.CodeTransactionNotConfirmed), "got %v", err)
		})
	}
}

func (s *ServiceSuite) TestIssue_ClientTxChainUnreachable() {
	svc := s.newService(nil)
	req := s.issueRequest()
	req.TransactionRef = testutil.TestTxRef(7)
	req.VerificationCode = "WALLET-CODE-7"
	s.chain.EXPECT().TransactionStatus(gomock.Any(), gomock.Any()).
		Return(models.TxUnknown, chain.NewError(chain.ErrorUnavailable, "tx_status", "rpc down", nil))

	_, err := svc.Issue(context.Background(), req)
	s.True(dErrors.HasCode(err, dErrors.CodeChainSubmission), "got %v", err)
}

func (s *ServiceSuite) TestIssue_ClientTxWithSuppliedCode() {
	svc := s.newService(nil)
	req := s.issueRequest()
	req.TransactionRef = testutil.TestTxRef(7)
	req.VerificationCode = "0xLEGACY-CODE-1"
	s.chain.EXPECT().TransactionStatus(gomock.Any(), gomock.Any()).Return(models.TxSuccess, nil)

	var stored *models.Credential
	s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c *models.Credential) error {
		stored = c
		return nil
	})

	res, err := svc.Issue(context.Background(), req)
	s.Require().NoError(err)
	s.Equal(models.VerificationCode("LEGACY-CODE-1"), res.VerificationCode)
	s.Equal(req.TransactionRef, stored.TransactionRef)
	s.Equal(models.StatusActive, stored.Status)
	s.Equal(models.OnChainUnknown, stored.OnChainState)
	s.Equal(res.ContentHash, stored.ContentHash)
}

func (s *ServiceSuite) TestIssue_ClientTxSuppliedCodeConflict() {
	svc := s.newService(nil)
	req := s.issueRequest()
	req.TransactionRef = testutil.TestTxRef(7)
	req.VerificationCode = "BC-00000000-00000001"
	s.chain.EXPECT().TransactionStatus(gomock.Any(), gomock.Any()).Return(models.TxSuccess, nil)
	s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)

	_, err := svc.Issue(context.Background(), req)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
}

// =============================================================================
// Issue: engine submission
// =============================================================================

func (s *ServiceSuite) TestIssue_SubmissionFailurePersistsNothing() {
	svc := s.newService(nil)
	s.store.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil)
	s.chain.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(models.TxRef(""), chain.NewError(chain.ErrorRejected, "submit", "reverted", nil))
	// no Insert expectation: gomock fails on any call

	_, err := svc.Issue(context.Background(), s.issueRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeChainSubmission), "got %v", err)
}

func (s *ServiceSuite) TestIssue_DuplicateCodeOnChainIsRegenerated() {
	svc := s.newService(nil)
	s.store.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil).Times(2)

	var submitted []models.VerificationCode
	gomock.InOrder(
		s.chain.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, reg models.Registration) (models.TxRef, error) {
				submitted = append(submitted, reg.Code)
				return "", chain.NewError(chain.ErrorRejected, "submit", "duplicate verification code", chain.ErrDuplicateCode)
			}),
		s.chain.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, reg models.Registration) (models.TxRef, error) {
				submitted = append(submitted, reg.Code)
				return testutil.TestTxRef(8), nil
			}),
	)
	s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.Issue(context.Background(), s.issueRequest())
	s.Require().NoError(err)
	s.Require().Len(submitted, 2)
	s.Equal(submitted[1], res.VerificationCode)
	s.Equal(testutil.TestTxRef(8), res.TransactionRef)
}

func (s *ServiceSuite) TestIssue_SubmissionIgnoresCallerCancellation() {
	svc := s.newService(nil)
	ctx, cancel := context.WithCancel(context.Background())

	s.store.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil)
	s.chain.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ models.Registration) (models.TxRef, error) {
			cancel()
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			_, hasDeadline := ctx.Deadline()
			s.True(hasDeadline, "submission is bounded by its own timeout")
			return testutil.TestTxRef(3), nil
		})
	s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.Issue(ctx, s.issueRequest())
	s.Require().NoError(err)
	s.Equal(testutil.TestTxRef(3), res.TransactionRef)
}

func (s *ServiceSuite) TestIssue_InsertFailureAfterSubmission() {
	svc := s.newService(nil)
	s.store.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil)
	s.chain.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(testutil.TestTxRef(9), nil)
	s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	_, err := svc.Issue(context.Background(), s.issueRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeInternal), "got %v", err)
}

func (s *ServiceSuite) TestIssue_ExistsFailure() {
	svc := s.newService(nil)
	s.store.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, errors.New("timeout"))

	_, err := svc.Issue(context.Background(), s.issueRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeInternal), "got %v", err)
}

// =============================================================================
// Annotate
// =============================================================================

func (s *ServiceSuite) TestAnnotate() {
	cred := testutil.NewCredentialBuilder().WithIssuer(testutil.TestIDs.IssuerID1).Build()

	s.Run("issuer revokes", func() {
		svc := s.newService(nil)
		s.store.EXPECT().FindByID(gomock.Any(), cred.ID).Return(cred, nil)
		s.store.EXPECT().UpdateStatus(gomock.Any(), cred.ID, models.StatusRevoked, s.now).Return(nil)

		got, err := svc.Annotate(context.Background(), testutil.TestIDs.IssuerID1, cred.ID,
			models.Annotation{Status: models.StatusRevoked})
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, got.Status)
	})

	s.Run("other caller is forbidden", func() {
		svc := s.newService(nil)
		s.store.EXPECT().FindByID(gomock.Any(), cred.ID).Return(cred, nil)

		_, err := svc.Annotate(context.Background(), testutil.TestIDs.IssuerID2, cred.ID,
			models.Annotation{Status: models.StatusRevoked})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "got %v", err)
	})

	s.Run("unknown credential", func() {
		svc := s.newService(nil)
		s.store.EXPECT().FindByID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)

		_, err := svc.Annotate(context.Background(), testutil.TestIDs.IssuerID1, models.NewCredentialID(),
			models.Annotation{Status: models.StatusSuspended})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
	})

	s.Run("invalid status", func() {
		svc := s.newService(nil)
		_, err := svc.Annotate(context.Background(), testutil.TestIDs.IssuerID1, cred.ID,
			models.Annotation{Status: "deleted"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	})

	s.Run("anonymous caller", func() {
		svc := s.newService(nil)
		_, err := svc.Annotate(context.Background(), id.UserID{}, cred.ID,
			models.Annotation{Status: models.StatusRevoked})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "got %v", err)
	})

	s.Run("store failure", func() {
		svc := s.newService(nil)
		s.store.EXPECT().FindByID(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))
		_, err := svc.Annotate(context.Background(), testutil.TestIDs.IssuerID1, cred.ID,
			models.Annotation{Status: models.StatusRevoked})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal), "got %v", err)
	})
}

// =============================================================================
// Audit
// =============================================================================

func (s *ServiceSuite) TestAuditFailureDoesNotFailOperation() {
	ctrl := gomock.NewController(s.T())
	failing := mocks.NewMockAuditPublisher(ctrl)
	failing.EXPECT().Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e audit.Event) error {
			s.Equal(audit.ActionCredentialVerified, e.Action)
			return errors.New("audit buffer full")
		})

	svc, err := New(s.store, s.chain, s.scorer, DefaultConfig(), WithAuditor(failing))
	s.Require().NoError(err)
	s.store.EXPECT().FindByCode(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)

	v := svc.Verify(context.Background(), "BC-00000000-00000001", nil)
	s.Equal(models.ReasonNotFound, v.Reason())
}

func mustHash(c models.Content) models.ContentHash {
	h, err := identity.ComputeContentHash(c, identity.DefaultAlgorithm)
	if err != nil {
		panic(err)
	}
	return h
}
