package similarity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures an HTTP scorer.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient HTTPDoer
}

// HTTPScorer calls an external embedding service (CLIP in production) at
// POST {base}/compare.
type HTTPScorer struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

type compareRequest struct {
	Presented string `json:"image_a"`
	Reference string `json:"image_b"`
}

type compareResponse struct {
	Success         *bool    `json:"success"`
	SimilarityScore *float64 `json:"similarity_score"`
	Error           string   `json:"error"`
}

func NewHTTPScorer(cfg HTTPConfig) *HTTPScorer {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPScorer{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, client: client}
}

func (s *HTTPScorer) Compare(ctx context.Context, presented, reference []byte) (float64, error) {
	body, err := json.Marshal(compareRequest{
		Presented: base64.StdEncoding.EncodeToString(presented),
		Reference: base64.StdEncoding.EncodeToString(reference),
	})
	if err != nil {
		return 0, NewError(ErrorInternal, "http", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/compare", bytes.NewReader(body))
	if err != nil {
		return 0, NewError(ErrorInternal, "http", "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return 0, NewError(ErrorTimeout, "http", "request timeout", err)
		}
		return 0, NewError(ErrorUnavailable, "http", "failed to execute request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, NewError(ErrorBadData, "http", "failed to read response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return 0, NewError(ErrorAuthentication, "http", fmt.Sprintf("authentication failed: %d", resp.StatusCode), nil)
	case http.StatusTooManyRequests:
		return 0, NewError(ErrorRateLimited, "http", "rate limit exceeded", nil)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return 0, NewError(ErrorInvalidImage, "http", "scorer rejected images", nil)
	default:
		if resp.StatusCode >= 500 {
			return 0, NewError(ErrorUnavailable, "http", fmt.Sprintf("scorer unavailable: %d", resp.StatusCode), nil)
		}
		return 0, NewError(ErrorBadData, "http", fmt.Sprintf("unexpected status: %d", resp.StatusCode), nil)
	}

	var parsed compareResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, NewError(ErrorBadData, "http", "failed to parse response", err)
	}
	if parsed.Success != nil && !*parsed.Success {
		return 0, NewError(ErrorInvalidImage, "http", "scorer reported failure: "+parsed.Error, nil)
	}
	if parsed.SimilarityScore == nil {
		return 0, NewError(ErrorBadData, "http", "response missing similarity_score", nil)
	}
	return normalizeScore("http", *parsed.SimilarityScore)
}

// Health pings the scorer.
func (s *HTTPScorer) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return NewError(ErrorUnavailable, "http", "health check failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NewError(ErrorUnavailable, "http", fmt.Sprintf("health check status %d", resp.StatusCode), nil)
	}
	return nil
}

var _ Scorer = (*HTTPScorer)(nil)
