// Package gateway holds the JSON-over-HTTP transport shared by the external
// automation services (structuring, transcription, exercise generation, rendering).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

var (
	// ErrUnavailable is returned without a network call while the circuit is open.
	ErrUnavailable = errors.New("gateway: service temporarily unavailable")
	// ErrNotConfigured is returned when a client has no base URL.
	ErrNotConfigured = errors.New("gateway: base URL required")
)

// StatusError reports a 5xx answer from the remote service.
type StatusError struct {
	Service    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: %s returned status %d", e.Service, e.StatusCode)
}

// LatencyObserver records call durations; *metrics.WorkflowMetrics satisfies it.
type LatencyObserver interface {
	ObserveGatewayLatency(service string, seconds float64)
}

// Config describes how to reach one external service.
type Config struct {
	Name        string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxFailures int
	HTTPClient  *http.Client
	Metrics     LatencyObserver
}

// Response is the raw answer of the service. Non-2xx statuses below 500 are
// returned as-is so callers can parse typed rejections from the body.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client posts JSON payloads and trips a circuit breaker on repeated transport
// or 5xx failures. It never retries.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Response]
	metrics LatencyObserver
}

// NewClient validates the configuration and returns a ready-to-use client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNotConfigured
	}
	name := cfg.Name
	if name == "" {
		name = "gateway"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about the service health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Client{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		breaker: breaker,
		metrics: cfg.Metrics,
	}, nil
}

// Name returns the service label used in errors and metrics.
func (c *Client) Name() string {
	return c.name
}

// PostJSON sends payload to path and returns the response. Transport failures,
// 5xx statuses and an open circuit are returned as errors.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (*Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to encode payload: %w", err)
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.do(ctx, path, data)
	})
	if c.metrics != nil {
		c.metrics.ObserveGatewayLatency(c.name, time.Since(start).Seconds())
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, c.name)
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, path string, data []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gateway: request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: %s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("gateway: %s read response failed: %w", c.name, err)
	}
	out := &Response{StatusCode: resp.StatusCode, Body: body}
	if resp.StatusCode >= http.StatusInternalServerError {
		return out, &StatusError{Service: c.name, StatusCode: resp.StatusCode}
	}
	return out, nil
}
