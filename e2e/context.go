package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	"blockcreds/internal/credential/chain"
	credentialHandler "blockcreds/internal/credential/handler"
	"blockcreds/internal/credential/models"
	"blockcreds/internal/credential/service"
	"blockcreds/internal/credential/similarity"
	credentialStore "blockcreds/internal/credential/store"
	"blockcreds/internal/directory"
	jwttoken "blockcreds/internal/jwt_token"
	"blockcreds/internal/platform/health"
	httptransport "blockcreds/internal/transport/http"
	id "blockcreds/pkg/domain"
)

const signingKey = "e2e-signing-key"

// switchableChain fronts the in-memory ledger and can be cut off to model an
// unreachable node.
type switchableChain struct {
	*chain.Ledger
	down atomic.Bool
}

func (c *switchableChain) Submit(ctx context.Context, reg models.Registration) (models.TxRef, error) {
	if c.down.Load() {
		return "", chain.NewError(chain.ErrorUnavailable, "submit", "node unreachable", nil)
	}
	return c.Ledger.Submit(ctx, reg)
}

func (c *switchableChain) TransactionStatus(ctx context.Context, ref models.TxRef) (models.TxStatus, error) {
	if c.down.Load() {
		return models.TxUnknown, chain.NewError(chain.ErrorUnavailable, "tx_status", "node unreachable", nil)
	}
	return c.Ledger.TransactionStatus(ctx, ref)
}

func (c *switchableChain) Verify(ctx context.Context, code models.VerificationCode) (bool, error) {
	if c.down.Load() {
		return false, chain.NewError(chain.ErrorUnavailable, "verify", "node unreachable", nil)
	}
	return c.Ledger.Verify(ctx, code)
}

// TestContext holds state between test steps. Every scenario runs against
// its own server backed by the in-memory store and ledger.
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte
	AccessToken      string

	server *httptest.Server
	chain  *switchableChain
	tokens *jwttoken.JWTService
	issuer id.UserID
}

// NewTestContext creates a new test context
func NewTestContext() *TestContext {
	return &TestContext{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start wires the engine behind the HTTP router and serves it.
func (tc *TestContext) Start(ctx context.Context) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc.chain = &switchableChain{Ledger: chain.NewLedger()}

	svc, err := service.New(
		credentialStore.NewInMemoryStore(),
		tc.chain,
		similarity.StaticScorer{Score: 0.95},
		service.DefaultConfig(),
		service.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	people := directory.New(directory.NewInMemoryStore(), logger)
	tc.issuer = id.NewUserID()
	if err := people.Register(ctx, tc.issuer, "registrar@example.edu", "Registrar"); err != nil {
		return fmt.Errorf("register issuer: %w", err)
	}

	tc.tokens = jwttoken.NewJWTService(signingKey, "blockcreds", "blockcreds", time.Hour)
	tc.server = httptest.NewServer(httptransport.NewRouter(httptransport.Dependencies{
		Logger:         logger,
		Credentials:    credentialHandler.New(svc, people, logger),
		Health:         health.New("e2e"),
		Validator:      tc.tokens,
		MaxBodyBytes:   8 << 20,
		RequestTimeout: 5 * time.Second,
	}))
	tc.BaseURL = tc.server.URL
	return nil
}

// Stop shuts the scenario's server down.
func (tc *TestContext) Stop() {
	if tc.server != nil {
		tc.server.Close()
	}
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.POSTWithHeaders(path, body, nil)
}

// POSTWithHeaders makes a POST request with optional headers
func (tc *TestContext) POSTWithHeaders(path string, body interface{}, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a field from the JSON response
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}

	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err == nil {
		if _, ok := data[text]; ok {
			return true
		}
	}
	return false
}

// Getter methods for step package interfaces

func (tc *TestContext) GetAccessToken() string {
	return tc.AccessToken
}

// AuthenticateIssuer mints a token for the scenario's issuer.
func (tc *TestContext) AuthenticateIssuer(scopes []string) error {
	token, err := tc.tokens.GenerateAccessToken(context.Background(), tc.issuer, scopes)
	if err != nil {
		return fmt.Errorf("generate access token: %w", err)
	}
	tc.AccessToken = token
	return nil
}

// SetChainReachable cuts the ledger off or restores it.
func (tc *TestContext) SetChainReachable(reachable bool) {
	tc.chain.down.Store(!reachable)
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}
