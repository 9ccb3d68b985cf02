package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tablelink/bridge/internal/platform/discovery"
	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
	"github.com/tablelink/bridge/internal/platform/timeouts"
)

// InitRequest is the body of a session init or extend call.
type InitRequest struct {
	ExtendExisting bool   `json:"extend_existing,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// InitResponse is the backend session grant.
type InitResponse struct {
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	WasExtended bool      `json:"was_extended,omitempty"`
}

// HealthResponse is the backend health report. Service carries the identity
// used for discovery matching.
type HealthResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

// Client calls the backend session and health endpoints over the
// request/response channel.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a session client. A nil httpClient gets a default with
// the standard session request timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeouts.SessionRequest}
	}
	return &Client{httpClient: httpClient}
}

// InitSession creates a new session or extends an existing one.
func (c *Client) InitSession(ctx context.Context, baseURL string, request InitRequest) (InitResponse, error) {
	if c == nil || c.httpClient == nil {
		return InitResponse{}, errors.New("session client is not configured")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return InitResponse{}, errors.New("base url is required")
	}

	body, err := json.Marshal(request)
	if err != nil {
		return InitResponse{}, fmt.Errorf("marshal init request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, discovery.SessionInitURL(baseURL), bytes.NewReader(body))
	if err != nil {
		return InitResponse{}, fmt.Errorf("build init request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return InitResponse{}, transportError("session init", err)
	}
	defer resp.Body.Close()

	if err := authStatusError(resp.StatusCode); err != nil {
		return InitResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return InitResponse{}, bridgeerrors.New(bridgeerrors.CodeEndpointUnreachable,
			fmt.Sprintf("session init status %d", resp.StatusCode))
	}

	var grant InitResponse
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return InitResponse{}, bridgeerrors.Wrap(bridgeerrors.CodeMalformedEnvelope, "decode init response", err)
	}
	if strings.TrimSpace(grant.SessionID) == "" {
		return InitResponse{}, bridgeerrors.New(bridgeerrors.CodeMalformedEnvelope, "init response missing session id")
	}
	if grant.ExpiresAt.IsZero() {
		return InitResponse{}, bridgeerrors.New(bridgeerrors.CodeMalformedEnvelope, "init response missing expiry")
	}
	return grant, nil
}

// Health probes the backend health endpoint.
func (c *Client) Health(ctx context.Context, baseURL string) (HealthResponse, error) {
	if c == nil || c.httpClient == nil {
		return HealthResponse{}, errors.New("session client is not configured")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return HealthResponse{}, errors.New("base url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discovery.HealthURL(baseURL), nil)
	if err != nil {
		return HealthResponse{}, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthResponse{}, transportError("health probe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthResponse{}, bridgeerrors.New(bridgeerrors.CodeEndpointUnreachable,
			fmt.Sprintf("health status %d", resp.StatusCode))
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return HealthResponse{}, bridgeerrors.Wrap(bridgeerrors.CodeMalformedEnvelope, "decode health response", err)
	}
	return health, nil
}

func transportError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return bridgeerrors.Wrap(bridgeerrors.CodeRequestTimeout, operation+" timed out", err)
	}
	return bridgeerrors.Wrap(bridgeerrors.CodeEndpointUnreachable, operation+" failed", err)
}

func authStatusError(statusCode int) error {
	// 419 is the backend's session-timeout status; not in the stdlib table.
	if statusCode == http.StatusUnauthorized || statusCode == 419 {
		return bridgeerrors.New(bridgeerrors.CodeSessionExpired,
			fmt.Sprintf("session rejected with status %d", statusCode))
	}
	return nil
}
