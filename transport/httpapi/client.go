// Package httpapi implements the typed HTTP client for the incident API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	duress "github.com/SarahJChong/emergency-duress-app-sub000"
	duressErrors "github.com/SarahJChong/emergency-duress-app-sub000/errors"
	"github.com/SarahJChong/emergency-duress-app-sub000/logging"
)

// Fixed user-facing failure messages, one per operation. Transport details
// stay in the wrapped cause; the UI shows these.
const (
	msgCreateFailed = "Failed to create incident."
	msgCancelFailed = "Failed to cancel incident."
	msgSyncFailed   = "Failed to sync incident."
	msgActiveFailed = "Failed to fetch active incident."
	msgListFailed   = "Failed to fetch incidents."
)

// Limits defines response size limits for the HTTP client
type Limits struct {
	MaxBodyBytes int64 // Maximum response body size in bytes
}

// Client is the HTTP implementation of duress.RemoteClient.
type Client struct {
	baseURL string
	http    *http.Client
	limits  Limits
	tokens  duress.TokenSource
	logger  *slog.Logger
}

// Compile-time check to ensure Client satisfies the RemoteClient interface
var _ duress.RemoteClient = (*Client)(nil)

// Option configures a Client using the functional options pattern
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.http = cl
	}
}

// WithLimits sets the response size limits
func WithLimits(l Limits) Option {
	return func(c *Client) {
		c.limits = l
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new incident API client. tokens supplies the bearer
// token for every request; a missing token fails the operation before
// anything is sent.
func NewClient(baseURL string, tokens duress.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limits: Limits{
			MaxBodyBytes: 8 << 20, // 8MB
		},
		tokens: tokens,
		logger: logging.WithComponent(logging.Component("httpapi")).Logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateIncident raises a new incident on the server.
func (c *Client) CreateIncident(ctx context.Context, req duress.CreateIncidentRequest) (*duress.CreateIncidentResponse, error) {
	var resp duress.CreateIncidentResponse
	if err := c.do(ctx, http.MethodPost, "/api/incidents", req, &resp, msgCreateFailed); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelIncident cancels the caller's active incident with a reason.
func (c *Client) CancelIncident(ctx context.Context, reason string) (*duress.Incident, error) {
	body := struct {
		CancellationReason string `json:"cancellationReason"`
	}{CancellationReason: reason}

	var incident duress.Incident
	if err := c.do(ctx, http.MethodPost, "/api/incidents/cancel", body, &incident, msgCancelFailed); err != nil {
		return nil, err
	}
	return &incident, nil
}

// SyncIncident replays one pending incident. The server reconciles it using
// CreatedAt as the idempotency key, so retries are safe.
func (c *Client) SyncIncident(ctx context.Context, req duress.SyncIncidentRequest) (*duress.Incident, error) {
	var incident duress.Incident
	if err := c.do(ctx, http.MethodPost, "/api/incidents/sync", req, &incident, msgSyncFailed); err != nil {
		return nil, err
	}
	return &incident, nil
}

// ActiveIncident returns the caller's open incident. A 404 means no active
// incident and yields (nil, nil).
func (c *Client) ActiveIncident(ctx context.Context) (*duress.Incident, error) {
	var incident duress.Incident
	found, err := c.get(ctx, "/api/incidents/active", &incident, msgActiveFailed)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &incident, nil
}

// ListIncidents returns the caller's incident history.
func (c *Client) ListIncidents(ctx context.Context) ([]duress.Incident, error) {
	var incidents []duress.Incident
	if _, err := c.get(ctx, "/api/incidents", &incidents, msgListFailed); err != nil {
		return nil, err
	}
	return incidents, nil
}

// newRequest builds an authorized request. No token is a precondition
// failure: nothing is sent.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	token, err := c.tokens.BearerToken(ctx)
	if err != nil {
		return nil, duressErrors.NewWithComponent(duressErrors.OpFetch, "transport", fmt.Errorf("failed to acquire token: %w", err))
	}
	if token == "" {
		return nil, duressErrors.NewPreconditionError(duressErrors.OpFetch, duressErrors.ErrNoAccessToken)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, duressErrors.NewWithComponent(duressErrors.OpFetch, "transport", fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

// do executes a JSON POST-style call and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, failMsg string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return duressErrors.NewWithComponent(duressErrors.OpFetch, "transport", fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := c.newRequest(ctx, method, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("sending request",
		slog.String("method", method),
		slog.String("path", path))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("request failed",
			slog.String("error", err.Error()),
			slog.String("path", path))
		return duressErrors.NewNetworkError(duressErrors.OpFetch, fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("request returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(detail)),
			slog.String("path", path))
		return duressErrors.NewWithComponent(duressErrors.OpFetch, "transport",
			fmt.Errorf("%s (status %d)", failMsg, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.limits.MaxBodyBytes)).Decode(out); err != nil {
		return duressErrors.NewWithComponent(duressErrors.OpFetch, "transport", fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// get executes a JSON GET call. It reports found=false on 404 so callers can
// map "no active incident" to nil rather than an error.
func (c *Client) get(ctx context.Context, path string, out interface{}, failMsg string) (found bool, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("request failed",
			slog.String("error", err.Error()),
			slog.String("path", path))
		return false, duressErrors.NewNetworkError(duressErrors.OpFetch, fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("request returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(detail)),
			slog.String("path", path))
		return false, duressErrors.NewWithComponent(duressErrors.OpFetch, "transport",
			fmt.Errorf("%s (status %d)", failMsg, resp.StatusCode))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, c.limits.MaxBodyBytes)).Decode(out); err != nil {
		return false, duressErrors.NewWithComponent(duressErrors.OpFetch, "transport", fmt.Errorf("failed to decode response: %w", err))
	}
	return true, nil
}
