// Package jshost provides the HTTP client for a compiler service host.
package jshost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/bundlebridge/internal/observability"
)

// Client calls named services on a compiler host
type Client struct {
	// BaseURL is the host URL, e.g. http://127.0.0.1:9009
	BaseURL string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// Debug enables request logging
	Debug bool

	// UserAgent to use for requests
	UserAgent string
}

// ClientOption configures the client
type ClientOption func(*Client)

// NewClient creates a new host client. Calls have no timeout unless
// WithTimeout is given, since a first build may take a while.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		UserAgent:  "bundlebridge/1.0",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithDebug enables debug mode
func WithDebug(debug bool) ClientOption {
	return func(c *Client) {
		c.Debug = debug
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.HTTPClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.UserAgent = ua
	}
}

// Call posts payload to the named service and returns the raw response body.
// Non-2xx responses come back as *ServiceError.
func (c *Client) Call(ctx context.Context, service string, payload []byte) (body []byte, err error) {
	if service == "" {
		return nil, fmt.Errorf("service name is required")
	}

	ctx, span := observability.StartServiceCallSpan(ctx, service)
	defer func() { observability.EndSpan(span, err) }()

	resp, err := c.do(ctx, http.MethodPost, "/service/"+url.PathEscape(service), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, parseErrorBody(resp)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from service %s: %w", service, err)
	}
	return body, nil
}

// Status fetches the host's status document
func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, parseErrorBody(resp)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q", c.BaseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	if c.Debug {
		log.Debug().
			Str("method", method).
			Str("url", u.String()).
			Str("request_id", requestID).
			Str("trace_id", observability.ExtractTraceID(ctx)).
			Msg("Calling compiler host")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// parseErrorBody parses an error response body
func parseErrorBody(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ServiceError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read error response: %v", err),
		}
	}

	var svcErr ServiceError
	if err := json.Unmarshal(body, &svcErr); err != nil || svcErr.Message == "" {
		return &ServiceError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	svcErr.StatusCode = resp.StatusCode
	return &svcErr
}

// ServiceError is a non-2xx answer from the host
type ServiceError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("compiler host returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("compiler host returned %d", e.StatusCode)
}

// Status is the document served at /status
type Status struct {
	Status         string      `json:"status"`
	Version        string      `json:"version"`
	Uptime         string      `json:"uptime"`
	Services       []string    `json:"services"`
	ActiveWatchers int         `json:"active_watchers"`
	Watched        []string    `json:"watched,omitempty"`
	Memory         MemoryUsage `json:"memory"`
}

// MemoryUsage is the host machine's memory snapshot
type MemoryUsage struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}
