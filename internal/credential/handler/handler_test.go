package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"blockcreds/internal/credential/handler/mocks"
	"blockcreds/internal/credential/models"
	id "blockcreds/pkg/domain"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/httputil"
	"blockcreds/pkg/requestcontext"
	"blockcreds/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	service  *mocks.MockService
	resolver *mocks.MockIdentityResolver
	router   http.Handler
	issuer   id.UserID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

// asCaller stands in for the auth middleware: X-Test-User becomes the caller.
func asCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get("X-Test-User"); raw != "" {
			if ref, err := id.ParseUserID(raw); err == nil {
				r = r.WithContext(requestcontext.WithUserID(r.Context(), ref))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.resolver = mocks.NewMockIdentityResolver(s.ctrl)
	s.issuer = testutil.TestIDs.IssuerID1

	h := New(s.service, s.resolver, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(asCaller)
		h.RegisterIssuer(r)
		h.RegisterBatch(r)
	})
	s.router = r
}

func (s *HandlerSuite) do(method, path, body string, caller *id.UserID) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("X-Test-User", caller.String())
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, into any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), into), rec.Body.String())
}

func (s *HandlerSuite) errorCode(rec *httptest.ResponseRecorder) string {
	var body httputil.ErrorResponse
	s.decode(rec, &body)
	return body.Error
}

func validVerdict(code string, cred *models.Credential) models.Verdict {
	return models.Verdict{
		Code:          models.VerificationCode(code),
		ChainValid:    models.ChainValid,
		ImageMatch:    models.ImageNotApplicable,
		ContentIntact: true,
		OverallValid:  true,
		Policy:        models.PolicyFailClosed,
		CheckedAt:     time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		Credential:    cred,
	}
}

func (s *HandlerSuite) TestIssue() {
	s.Run("resolves recipient email and returns 201", func() {
		recipient := testutil.TestIDs.RecipientID1
		s.resolver.EXPECT().Resolve(gomock.Any(), "ada@example.org").Return(recipient, nil)
		s.service.EXPECT().Issue(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, req models.IssueRequest) (*models.IssueResult, error) {
				s.Equal(s.issuer, req.IssuerRef)
				s.Equal(recipient, req.RecipientRef)
				s.Equal("Master of Engineering", req.Title)
				s.Equal(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), req.IssueDate)
				s.Equal([]byte("portrait"), req.ReferenceImage)
				s.True(req.TransactionRef.IsZero())
				return &models.IssueResult{
					ID:               "cred_6f1c8d3e-2b4a-4c5d-9e8f-1a2b3c4d5e6f",
					VerificationCode: "BC-0011AABB-CCDDEEFF",
					ContentHash:      "sha256:00ff",
					TransactionRef:   testutil.TestTxRef(1),
					IssuedAt:         time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
				}, nil
			})

		image := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("portrait"))
		rec := s.do(http.MethodPost, "/credentials", `{
			"title": "  Master of Engineering ",
			"recipient_email": "ada@example.org",
			"issue_date": "2024-06-30",
			"reference_image": "`+image+`"
		}`, &s.issuer)

		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
		var body IssueResponse
		s.decode(rec, &body)
		s.Equal("BC-0011AABB-CCDDEEFF", body.VerificationCode)
		s.Equal("/verify/BC-0011AABB-CCDDEEFF", body.VerifyPath)
		s.Equal(testutil.TestTxRef(1).String(), body.TransactionRef)
	})

	s.Run("client transaction is passed through", func() {
		tx := testutil.TestTxRef(7)
		s.service.EXPECT().Issue(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, req models.IssueRequest) (*models.IssueResult, error) {
				s.Equal(tx, req.TransactionRef)
				s.Equal(models.VerificationCode("0xLEGACY-7"), req.VerificationCode)
				return nil, dErrors.New(dErrors.CodeTransactionNotConfirmed, "transaction is failed")
			})

		rec := s.do(http.MethodPost, "/credentials", `{
			"title": "Diploma",
			"recipient_ref": "`+testutil.TestIDs.RecipientID2.String()+`",
			"issue_date": "2024-06-30T12:00:00Z",
			"transaction_ref": "`+tx.String()+`",
			"verification_code": "0xLEGACY-7"
		}`, &s.issuer)

		s.Equal(http.StatusUnprocessableEntity, rec.Code)
		s.Equal(string(dErrors.CodeTransactionNotConfirmed), s.errorCode(rec))
	})

	s.Run("validation failures never reach the engine", func() {
		cases := map[string]string{
			"missing title":     `{"recipient_ref":"` + testutil.TestIDs.RecipientID1.String() + `","issue_date":"2024-06-30"}`,
			"both recipients":   `{"title":"T","recipient_ref":"` + testutil.TestIDs.RecipientID1.String() + `","recipient_email":"a@b.org","issue_date":"2024-06-30"}`,
			"no recipient":      `{"title":"T","issue_date":"2024-06-30"}`,
			"bad date":          `{"title":"T","recipient_email":"a@b.org","issue_date":"30/06/2024"}`,
			"bad image":         `{"title":"T","recipient_email":"a@b.org","issue_date":"2024-06-30","reference_image":"***"}`,
			"code without tx":   `{"title":"T","recipient_email":"a@b.org","issue_date":"2024-06-30","verification_code":"ABC"}`,
			"malformed tx":      `{"title":"T","recipient_email":"a@b.org","issue_date":"2024-06-30","transaction_ref":"0x12","verification_code":"ABC"}`,
			"bad recipient ref": `{"title":"T","recipient_ref":"nope","issue_date":"2024-06-30"}`,
			"tx without code":   `{"title":"T","recipient_email":"a@b.org","issue_date":"2024-06-30","transaction_ref":"` + testutil.TestTxRef(1).String() + `"}`,
			"bad email":         `{"title":"T","recipient_email":"Ada <a@b.org>","issue_date":"2024-06-30"}`,
			"title too long":    `{"title":"` + strings.Repeat("t", 257) + `","recipient_email":"a@b.org","issue_date":"2024-06-30"}`,
			"too many fields":   `{"title":"T","recipient_email":"a@b.org","issue_date":"2024-06-30","fields":` + manyFields(65) + `}`,
		}
		for name, body := range cases {
			rec := s.do(http.MethodPost, "/credentials", body, &s.issuer)
			s.Equal(http.StatusBadRequest, rec.Code, name)
			s.Equal(string(dErrors.CodeValidation), s.errorCode(rec), name)
		}
	})

	s.Run("malformed json is bad_request", func() {
		rec := s.do(http.MethodPost, "/credentials", `{"title":`, &s.issuer)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal(string(dErrors.CodeBadRequest), s.errorCode(rec))
	})

	s.Run("missing caller is unauthorized", func() {
		rec := s.do(http.MethodPost, "/credentials", `{}`, nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *HandlerSuite) TestAnnotate() {
	credID := models.CredentialID("cred_6f1c8d3e-2b4a-4c5d-9e8f-1a2b3c4d5e6f")

	s.Run("updates status", func() {
		cred := testutil.NewCredentialBuilder().WithIssuer(s.issuer).WithStatus(models.StatusRevoked).Build()
		cred.ID = credID
		s.service.EXPECT().
			Annotate(gomock.Any(), s.issuer, credID, models.Annotation{Status: models.StatusRevoked}).
			Return(cred, nil)

		rec := s.do(http.MethodPatch, "/credentials/"+credID.String(), `{"status":" Revoked "}`, &s.issuer)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var body CredentialResponse
		s.decode(rec, &body)
		s.Equal("revoked", body.Status)
		s.Equal(credID.String(), body.ID)
	})

	s.Run("forbidden for other callers", func() {
		other := testutil.TestIDs.IssuerID2
		s.service.EXPECT().Annotate(gomock.Any(), other, credID, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeForbidden, "only the issuer may annotate this credential"))

		rec := s.do(http.MethodPatch, "/credentials/"+credID.String(), `{"status":"suspended"}`, &other)
		s.Equal(http.StatusForbidden, rec.Code)
	})

	s.Run("rejects bad id and status", func() {
		rec := s.do(http.MethodPatch, "/credentials/42", `{"status":"revoked"}`, &s.issuer)
		s.Equal(http.StatusBadRequest, rec.Code)

		rec = s.do(http.MethodPatch, "/credentials/"+credID.String(), `{"status":"deleted"}`, &s.issuer)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestVerifyPublic() {
	cred := testutil.NewCredentialBuilder().WithIssuer(s.issuer).WithTitle("Diploma").Build()

	s.Run("post with image returns public view", func() {
		s.service.EXPECT().VerifyPublic(gomock.Any(), "BC-0011AABB-CCDDEEFF", []byte("face")).
			Return(models.NewPublicVerdict(validVerdict("BC-0011AABB-CCDDEEFF", cred)))
		s.resolver.EXPECT().DisplayName(gomock.Any(), s.issuer).Return("University Registrar")

		body := `{"code":"BC-0011AABB-CCDDEEFF","image":"` + base64.StdEncoding.EncodeToString([]byte("face")) + `"}`
		rec := s.do(http.MethodPost, "/verify", body, nil)

		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var resp VerdictResponse
		s.decode(rec, &resp)
		s.True(resp.OverallValid)
		s.Equal("true", resp.ChainValid)
		s.Equal("fail_closed", resp.Policy)
		s.Require().NotNil(resp.Credential)
		s.Equal("Diploma", resp.Credential.Title)
		s.Equal("University Registrar", resp.Credential.IssuerName)
		s.Nil(resp.Record)
		s.NotContains(rec.Body.String(), "recipient_ref")
	})

	s.Run("link verification answers 200 with the reason", func() {
		s.service.EXPECT().VerifyPublic(gomock.Any(), "0xLEGACY", nil).
			Return(models.NewPublicVerdict(models.Verdict{
				Code:       "LEGACY",
				ChainValid: models.ChainIndeterminate,
				ImageMatch: models.ImageNotApplicable,
				Reasons:    []models.Reason{models.ReasonNotFound},
				Policy:     models.PolicyFailClosed,
			}))

		rec := s.do(http.MethodGet, "/verify/0xLEGACY", "", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var resp VerdictResponse
		s.decode(rec, &resp)
		s.False(resp.OverallValid)
		s.Equal("not_found", resp.Reason)
		s.Nil(resp.Credential)
	})

	s.Run("missing code and bad image are request errors", func() {
		rec := s.do(http.MethodPost, "/verify", `{"code":"  "}`, nil)
		s.Equal(http.StatusBadRequest, rec.Code)

		rec = s.do(http.MethodPost, "/verify", `{"code":"BC-1","image":"%%%"}`, nil)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestVerifyFull() {
	own := testutil.NewCredentialBuilder().WithIssuer(s.issuer).Build()
	foreign := testutil.NewCredentialBuilder().WithIssuer(testutil.TestIDs.IssuerID2).Build()

	s.service.EXPECT().Verify(gomock.Any(), "BC-00000000-00000001", nil).
		Return(validVerdict("BC-00000000-00000001", own))
	s.service.EXPECT().Verify(gomock.Any(), "BC-00000000-00000002", nil).
		Return(validVerdict("BC-00000000-00000002", foreign))
	s.resolver.EXPECT().DisplayName(gomock.Any(), gomock.Any()).Return("Registrar").Times(2)

	rec := s.do(http.MethodPost, "/credentials/verify", `{"code":"BC-00000000-00000001"}`, &s.issuer)
	s.Require().Equal(http.StatusOK, rec.Code)
	var mine VerdictResponse
	s.decode(rec, &mine)
	s.Require().NotNil(mine.Record)
	s.Equal(own.RecipientRef.String(), mine.Record.RecipientRef)

	rec = s.do(http.MethodPost, "/credentials/verify", `{"code":"BC-00000000-00000002"}`, &s.issuer)
	s.Require().Equal(http.StatusOK, rec.Code)
	var theirs VerdictResponse
	s.decode(rec, &theirs)
	s.Nil(theirs.Record)
	s.NotNil(theirs.Credential)
}

func (s *HandlerSuite) TestBatchVerify() {
	s.Run("returns ordered results and summary", func() {
		cred := testutil.NewCredentialBuilder().WithIssuer(s.issuer).Build()
		s.service.EXPECT().BatchVerify(gomock.Any(), []string{"BC-00000000-00000001", "bad code"}).
			Return(&models.BatchResult{
				Verdicts: []models.Verdict{
					validVerdict("BC-00000000-00000001", cred),
					{Code: "bad code", Reasons: []models.Reason{models.ReasonMalformedCode}},
				},
				Summary: models.BatchSummary{Total: 2, Valid: 1, Invalid: 1},
			}, nil)
		s.resolver.EXPECT().DisplayName(gomock.Any(), s.issuer).Return("Registrar")

		rec := s.do(http.MethodPost, "/verify/batch", `{"codes":["BC-00000000-00000001","bad code"]}`, &s.issuer)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		var resp BatchVerifyResponse
		s.decode(rec, &resp)
		s.Equal(BatchSummary{Total: 2, Valid: 1, Invalid: 1}, resp.Summary)
		s.Require().Len(resp.Results, 2)
		s.True(resp.Results[0].OverallValid)
		s.NotNil(resp.Results[0].Record)
		s.Equal("malformed_code", resp.Results[1].Reason)
	})

	s.Run("oversized batch maps to 400", func() {
		s.service.EXPECT().BatchVerify(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeValidation, "too many verification codes in one batch"))

		rec := s.do(http.MethodPost, "/verify/batch", `{"codes":["a","b"]}`, &s.issuer)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("empty batch never reaches the engine", func() {
		rec := s.do(http.MethodPost, "/verify/batch", `{"codes":[]}`, &s.issuer)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func manyFields(n int) string {
	fields := make(map[string]int, n)
	for i := range n {
		fields[fmt.Sprintf("f%d", i)] = i
	}
	b, _ := json.Marshal(fields)
	return string(b)
}

func TestRequestValidationMessages(t *testing.T) {
	recipient := testutil.TestIDs.RecipientID1.String()
	tests := []struct {
		name string
		req  interface{ Validate() error }
		want string
	}{
		{
			name: "no recipient",
			req:  &IssueRequest{Title: "T", IssueDate: "2024-06-30"},
			want: "recipient_ref is required when recipient_email is absent",
		},
		{
			name: "both recipients",
			req:  &IssueRequest{Title: "T", IssueDate: "2024-06-30", RecipientRef: recipient, RecipientEmail: "a@b.org"},
			want: "recipient_ref cannot be combined with recipient_email",
		},
		{
			name: "transaction without its code",
			req:  &IssueRequest{Title: "T", IssueDate: "2024-06-30", RecipientRef: recipient, TransactionRef: testutil.TestTxRef(1).String()},
			want: "verification_code is required with transaction_ref",
		},
		{
			name: "code without its transaction",
			req:  &IssueRequest{Title: "T", IssueDate: "2024-06-30", RecipientRef: recipient, VerificationCode: "ABC"},
			want: "transaction_ref is required with verification_code",
		},
		{
			name: "blank title after trimming",
			req:  &IssueRequest{Title: "   ", IssueDate: "2024-06-30", RecipientRef: recipient},
			want: "title is required",
		},
		{
			name: "unknown status",
			req:  &AnnotateRequest{Status: "expired"},
			want: "status must be one of [active suspended revoked]",
		},
		{
			name: "empty batch",
			req:  &BatchVerifyRequest{Codes: []string{}},
			want: "codes must contain at least 1 items",
		},
		{
			name: "missing code",
			req:  &VerifyRequest{},
			want: "code is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if n, ok := tt.req.(interface{ Normalize() }); ok {
				n.Normalize()
			}
			err := tt.req.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("status is case-insensitive", func(t *testing.T) {
		req := &AnnotateRequest{Status: " Revoked "}
		req.Normalize()
		require.NoError(t, req.Validate())
	})
}

func TestDecodeImage(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 10)
	std := base64.StdEncoding.EncodeToString(payload)
	raw := base64.RawStdEncoding.EncodeToString(payload)

	for _, in := range []string{std, raw, "data:image/jpeg;base64," + std} {
		got, err := decodeImage(in, "image")
		if err != nil {
			t.Fatalf("decodeImage(%q): %v", in, err)
		}
		if !bytes.Equal(payload, got) {
			t.Fatalf("decodeImage(%q) = %x", in, got)
		}
	}

	tooBig := base64.StdEncoding.EncodeToString(make([]byte, MaxImageBytes+1))
	if _, err := decodeImage(tooBig, "image"); !dErrors.HasCode(err, dErrors.CodeValidation) {
		t.Fatalf("expected validation error for oversized image, got %v", err)
	}
	if _, err := decodeImage("data:image/png;base64", "image"); err == nil {
		t.Fatal("expected error for data URL without payload")
	}
}
