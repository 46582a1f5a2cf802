package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/cucumber/godog"

	credentialHandler "blockcreds/internal/credential/handler"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	POSTWithHeaders(path string, body interface{}, headers map[string]string) error
	GET(path string, headers map[string]string) error
	GetAccessToken() string
	AuthenticateIssuer(scopes []string) error
	SetChainReachable(reachable bool)
	GetLastResponseBody() []byte
	GetLastResponseStatus() int
}

// RegisterSteps registers issuance and verification step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &credentialSteps{tc: tc}

	// Setup steps
	ctx.Step(`^an issuer with scopes "([^"]*)"$`, steps.issuerWithScopes)
	ctx.Step(`^the ledger becomes unreachable$`, steps.ledgerBecomesUnreachable)

	// Issuance steps
	ctx.Step(`^I issue a credential titled "([^"]*)" to "([^"]*)"$`, steps.issueCredential)
	ctx.Step(`^I issue a credential titled "([^"]*)" to "([^"]*)" with a reference portrait$`, steps.issueCredentialWithPortrait)
	ctx.Step(`^I issue a credential anchored by transaction "([^"]*)" without its code$`, steps.issueClientTxWithoutCode)

	// Verification steps
	ctx.Step(`^I verify the issued code$`, steps.verifyIssuedCode)
	ctx.Step(`^I verify the issued code with the "([^"]*)" prefix$`, steps.verifyIssuedCodeWithPrefix)
	ctx.Step(`^I verify the issued code in lower case$`, steps.verifyIssuedCodeLowerCase)
	ctx.Step(`^I verify the issued code presenting a portrait$`, steps.verifyIssuedCodeWithPortrait)
	ctx.Step(`^I verify the code "([^"]*)"$`, steps.verifyCode)
	ctx.Step(`^I batch verify the issued code and "([^"]*)"$`, steps.batchVerify)

	// Verdict assertion steps
	ctx.Step(`^the verdict should be valid$`, steps.verdictShouldBeValid)
	ctx.Step(`^the verdict should be invalid because "([^"]*)"$`, steps.verdictShouldBeInvalidBecause)
	ctx.Step(`^the chain validity should be "([^"]*)"$`, steps.chainValidityShouldBe)
	ctx.Step(`^the batch summary should be (\d+) total, (\d+) valid, (\d+) invalid$`, steps.batchSummaryShouldBe)
	ctx.Step(`^batch result (\d+) should be invalid because "([^"]*)"$`, steps.batchResultShouldBeInvalidBecause)
}

type credentialSteps struct {
	tc     TestContext
	issued credentialHandler.IssueResponse
}

var portrait = base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nportrait"))

func (s *credentialSteps) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.tc.GetAccessToken()}
}

func (s *credentialSteps) issuerWithScopes(ctx context.Context, scopes string) error {
	return s.tc.AuthenticateIssuer(strings.Split(scopes, ","))
}

func (s *credentialSteps) ledgerBecomesUnreachable(ctx context.Context) error {
	s.tc.SetChainReachable(false)
	return nil
}

func (s *credentialSteps) issueCredential(ctx context.Context, title, recipient string) error {
	return s.issue(map[string]interface{}{
		"title":           title,
		"recipient_email": recipient,
		"issue_date":      "2024-06-30",
	})
}

func (s *credentialSteps) issueCredentialWithPortrait(ctx context.Context, title, recipient string) error {
	return s.issue(map[string]interface{}{
		"title":           title,
		"recipient_email": recipient,
		"issue_date":      "2024-06-30",
		"reference_image": portrait,
	})
}

func (s *credentialSteps) issueClientTxWithoutCode(ctx context.Context, txRef string) error {
	return s.tc.POSTWithHeaders("/credentials", map[string]interface{}{
		"title":           "Diploma",
		"recipient_email": "graduate@example.com",
		"issue_date":      "2024-06-30",
		"transaction_ref": txRef,
	}, s.authHeaders())
}

func (s *credentialSteps) issue(body map[string]interface{}) error {
	if err := s.tc.POSTWithHeaders("/credentials", body, s.authHeaders()); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 201 {
		return fmt.Errorf("issuance failed with status %d: %s", s.tc.GetLastResponseStatus(), string(s.tc.GetLastResponseBody()))
	}
	return json.Unmarshal(s.tc.GetLastResponseBody(), &s.issued)
}

func (s *credentialSteps) verifyIssuedCode(ctx context.Context) error {
	return s.tc.GET(s.issued.VerifyPath, nil)
}

func (s *credentialSteps) verifyIssuedCodeWithPrefix(ctx context.Context, prefix string) error {
	return s.verifyCode(ctx, prefix+s.issued.VerificationCode)
}

func (s *credentialSteps) verifyIssuedCodeLowerCase(ctx context.Context) error {
	return s.verifyCode(ctx, strings.ToLower(s.issued.VerificationCode))
}

func (s *credentialSteps) verifyIssuedCodeWithPortrait(ctx context.Context) error {
	return s.tc.POST("/verify", map[string]interface{}{
		"code":  s.issued.VerificationCode,
		"image": portrait,
	})
}

func (s *credentialSteps) verifyCode(ctx context.Context, code string) error {
	return s.tc.GET("/verify/"+url.PathEscape(code), nil)
}

func (s *credentialSteps) batchVerify(ctx context.Context, other string) error {
	return s.tc.POSTWithHeaders("/verify/batch", map[string]interface{}{
		"codes": []string{s.issued.VerificationCode, other},
	}, s.authHeaders())
}

func (s *credentialSteps) verdict() (credentialHandler.VerdictResponse, error) {
	var v credentialHandler.VerdictResponse
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &v); err != nil {
		return v, fmt.Errorf("failed to parse verdict: %w", err)
	}
	return v, nil
}

func (s *credentialSteps) verdictShouldBeValid(ctx context.Context) error {
	v, err := s.verdict()
	if err != nil {
		return err
	}
	if !v.OverallValid {
		return fmt.Errorf("expected a valid verdict, got reasons %v", v.Reasons)
	}
	return nil
}

func (s *credentialSteps) verdictShouldBeInvalidBecause(ctx context.Context, reason string) error {
	v, err := s.verdict()
	if err != nil {
		return err
	}
	return invalidBecause(v, reason)
}

func (s *credentialSteps) chainValidityShouldBe(ctx context.Context, validity string) error {
	v, err := s.verdict()
	if err != nil {
		return err
	}
	if v.ChainValid != validity {
		return fmt.Errorf("chain_valid: expected %s but got %s", validity, v.ChainValid)
	}
	return nil
}

func (s *credentialSteps) batch() (credentialHandler.BatchVerifyResponse, error) {
	var b credentialHandler.BatchVerifyResponse
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &b); err != nil {
		return b, fmt.Errorf("failed to parse batch response: %w", err)
	}
	return b, nil
}

func (s *credentialSteps) batchSummaryShouldBe(ctx context.Context, total, valid, invalid int) error {
	b, err := s.batch()
	if err != nil {
		return err
	}
	want := credentialHandler.BatchSummary{Total: total, Valid: valid, Invalid: invalid}
	if b.Summary != want {
		return fmt.Errorf("summary: expected %+v but got %+v", want, b.Summary)
	}
	return nil
}

func (s *credentialSteps) batchResultShouldBeInvalidBecause(ctx context.Context, index int, reason string) error {
	b, err := s.batch()
	if err != nil {
		return err
	}
	if index < 1 || index > len(b.Results) {
		return fmt.Errorf("batch has %d results, no result %d", len(b.Results), index)
	}
	return invalidBecause(b.Results[index-1], reason)
}

func invalidBecause(v credentialHandler.VerdictResponse, reason string) error {
	if v.OverallValid {
		return fmt.Errorf("expected an invalid verdict, got a valid one")
	}
	if v.Reason != reason {
		return fmt.Errorf("reason: expected %s but got %s (all: %v)", reason, v.Reason, v.Reasons)
	}
	return nil
}
