package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/clipreel/api/internal/config"
)

// ErrScorerOverloaded marks the transient error class (HTTP 429/503) the
// scorer client retries on. Any other failure is a hard error.
var ErrScorerOverloaded = errors.New("scorer service overloaded")

// Scorer defines the interface for the AI clip-scoring service
type Scorer interface {
	AnalyzeClip(ctx context.Context, mediaURL, intent string) (*ClipAnalysis, error)
	SuggestRedundant(ctx context.Context, clips []ClipSummary) ([]int, error)
}

// ClipAnalysis is the scorer's verdict for one clip: the best segment of
// the source media for the given intent, plus scores in [0,1].
type ClipAnalysis struct {
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	Description string  `json:"description"`
	Relevance   float64 `json:"relevance"`
	Quality     float64 `json:"quality"`
	Confidence  float64 `json:"confidence"`
}

// ClipSummary is one entry of a redundancy-ranking request.
type ClipSummary struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
}

// analyzeRequest is the request body for single-clip analysis
type analyzeRequest struct {
	Model    string `json:"model"`
	MediaURL string `json:"media_url"`
	Intent   string `json:"intent"`
}

// redundancyRequest is the request body for redundancy ranking
type redundancyRequest struct {
	Model string        `json:"model"`
	Clips []ClipSummary `json:"clips"`
}

// redundancyResponse carries indices ordered most-redundant first
type redundancyResponse struct {
	Redundant []int `json:"redundant"`
}

// ScorerClient handles communication with the scoring service
type ScorerClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	sem        chan struct{} // caps concurrent calls to the service
}

// NewScorerClient creates a new scoring service client
func NewScorerClient(cfg *config.ScorerConfig) *ScorerClient {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	inFlight := cfg.MaxInFlight
	if inFlight <= 0 {
		inFlight = 2
	}
	return &ScorerClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: retries,
		sem:        make(chan struct{}, inFlight),
	}
}

// AnalyzeClip asks the scorer for the best segment of a source video.
// Transient overload errors are retried with exponential backoff; a
// malformed response shape is returned as a hard error so callers can
// degrade to their fallback.
func (c *ScorerClient) AnalyzeClip(ctx context.Context, mediaURL, intent string) (*ClipAnalysis, error) {
	reqBody := analyzeRequest{
		Model:    c.model,
		MediaURL: mediaURL,
		Intent:   intent,
	}

	var result ClipAnalysis
	if err := c.postWithRetry(ctx, "/v1/clips/analyze", reqBody, &result); err != nil {
		return nil, err
	}

	if err := validateAnalysis(&result); err != nil {
		return nil, fmt.Errorf("malformed scorer response: %w", err)
	}

	return &result, nil
}

// SuggestRedundant ranks the given clips by thematic redundancy,
// most-redundant first. Indices outside the request range are dropped.
func (c *ScorerClient) SuggestRedundant(ctx context.Context, clips []ClipSummary) ([]int, error) {
	if len(clips) == 0 {
		return nil, nil
	}

	reqBody := redundancyRequest{
		Model: c.model,
		Clips: clips,
	}

	var result redundancyResponse
	if err := c.postWithRetry(ctx, "/v1/clips/redundancy", reqBody, &result); err != nil {
		return nil, err
	}

	// Drop indices the service invented
	hints := make([]int, 0, len(result.Redundant))
	for _, idx := range result.Redundant {
		if idx >= 0 && idx < len(clips) {
			hints = append(hints, idx)
		}
	}

	return hints, nil
}

// postWithRetry sends a POST request, retrying only the overloaded class
// with exponential backoff and jitter.
func (c *ScorerClient) postWithRetry(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		lastErr = c.post(ctx, endpoint, body, result)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrScorerOverloaded) {
			return lastErr
		}
		if attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
		backoff += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
		log.Printf("[Scorer API] overloaded, retrying in %v (attempt %d/%d)", backoff, attempt, c.maxRetries)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("scorer retries exhausted: %w", lastErr)
}

// post sends a single POST request with JSON body, waiting for an
// in-flight slot first so concurrent workers cannot flood the service.
func (c *ScorerClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("%w (status %d)", ErrScorerOverloaded, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scorer API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// validateAnalysis rejects response shapes the pipeline cannot act on.
func validateAnalysis(a *ClipAnalysis) error {
	if a.EndSec <= a.StartSec {
		return fmt.Errorf("segment end %.2f not after start %.2f", a.EndSec, a.StartSec)
	}
	for name, v := range map[string]float64{
		"relevance":  a.Relevance,
		"quality":    a.Quality,
		"confidence": a.Confidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s score %.3f outside [0,1]", name, v)
		}
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ScorerClient) IsConfigured() bool {
	return c.apiKey != ""
}
