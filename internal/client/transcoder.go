package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/clipreel/api/internal/config"
)

// Transcoder defines the interface for video processing operations
type Transcoder interface {
	Normalize(ctx context.Context, req *NormalizeRequest) (*NormalizeResponse, error)
	Concatenate(ctx context.Context, req *ConcatRequest) (*ConcatResponse, error)
	Thumbnail(ctx context.Context, req *ThumbnailRequest) (*ThumbnailResponse, error)
	Probe(ctx context.Context, inputURL string) (*ProbeResponse, error)
	Fetch(ctx context.Context, url, destPath string) error
	HealthCheck(ctx context.Context) error
}

// NormalizeRequest trims a segment out of the source media and reformats
// it to the montage's canonical aspect ratio.
type NormalizeRequest struct {
	InputURL    string  `json:"input_url"`
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	AspectRatio string  `json:"aspect_ratio"`
	OutputKey   string  `json:"output_key"`
}

// NormalizeResponse represents the response from normalization
type NormalizeResponse struct {
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
}

// ConcatRequest concatenates normalized clips in the given order
type ConcatRequest struct {
	InputURLs []string `json:"input_urls"`
	OutputKey string   `json:"output_key"`
}

// ConcatResponse represents the response from concatenation
type ConcatResponse struct {
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
	Size      int64   `json:"size"`
}

// ThumbnailRequest extracts a poster frame from the assembled output
type ThumbnailRequest struct {
	InputURL  string `json:"input_url"`
	OutputKey string `json:"output_key"`
}

// ThumbnailResponse represents the response from thumbnail extraction
type ThumbnailResponse struct {
	OutputURL string `json:"output_url"`
}

// ProbeResponse carries media metadata
type ProbeResponse struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// TranscoderClient implements Transcoder for the ffmpeg microservice
type TranscoderClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewTranscoderClient creates a new transcoding client
func NewTranscoderClient(cfg *config.TranscoderConfig) *TranscoderClient {
	return &TranscoderClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Normalize trims and reformats a clip segment
func (c *TranscoderClient) Normalize(ctx context.Context, req *NormalizeRequest) (*NormalizeResponse, error) {
	var result NormalizeResponse
	if err := c.post(ctx, "/normalize", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Concatenate joins normalized clips into one output artifact
func (c *TranscoderClient) Concatenate(ctx context.Context, req *ConcatRequest) (*ConcatResponse, error) {
	var result ConcatResponse
	if err := c.post(ctx, "/concat", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Thumbnail extracts a poster frame
func (c *TranscoderClient) Thumbnail(ctx context.Context, req *ThumbnailRequest) (*ThumbnailResponse, error) {
	var result ThumbnailResponse
	if err := c.post(ctx, "/thumbnail", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Probe returns duration and dimensions of the given media
func (c *TranscoderClient) Probe(ctx context.Context, inputURL string) (*ProbeResponse, error) {
	req := map[string]string{"input_url": inputURL}
	var result ProbeResponse
	if err := c.post(ctx, "/probe", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Fetch downloads a produced artifact into the run's working directory.
func (c *TranscoderClient) Fetch(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("artifact fetch failed: status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}

	return nil
}

// HealthCheck checks if the transcoding service is available
func (c *TranscoderClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transcoder service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *TranscoderClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("transcoder service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *TranscoderClient) IsConfigured() bool {
	return c.baseURL != ""
}
