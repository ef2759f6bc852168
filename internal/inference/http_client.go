package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/errdefs/pkg/errhttp"
)

const (
	consultPath  = "/consult"
	generatePath = "/generate"
	healthPath   = "/health"

	maxResponseBytes = 8 << 20
)

// StatusError reports a non-2xx answer from the HTTP provider.
type StatusError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %v", e.Path, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// HTTPClientConfig holds configuration for the HTTP provider client.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPClient talks to the provider's JSON-over-HTTP endpoints.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP provider client.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Consult posts a consultation request.
func (c *HTTPClient) Consult(ctx context.Context, req ConsultRequest) (*ConsultResponse, error) {
	var resp ConsultResponse
	if err := c.post(ctx, consultPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Generate posts a generation request. A non-2xx answer whose body still
// carries a provider error is returned as a failed response, not a transport
// error.
func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	err := c.post(ctx, generatePath, req, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && resp.Error != "" {
		resp.Success = false
		return &resp, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the provider health endpoint.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{Path: healthPath, StatusCode: resp.StatusCode, Err: errhttp.ToNative(resp.StatusCode)}
	}
	return nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	c.logger.Debug("Inference provider responded",
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start),
	)

	decodeErr := json.Unmarshal(data, out)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Err: errhttp.ToNative(resp.StatusCode)}
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrMalformedResponse, path, decodeErr)
	}
	return nil
}
