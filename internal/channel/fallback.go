package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
	"github.com/tablelink/bridge/internal/platform/timeouts"
)

// Fallback is the HTTP request/response transport used when the persistent
// channel is down. Requests authenticate with the session id header.
type Fallback struct {
	httpClient *http.Client
}

// NewFallback creates the fallback transport. A nil httpClient gets a default
// with the standard fallback request timeout.
func NewFallback(httpClient *http.Client) *Fallback {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeouts.FallbackRequest}
	}
	return &Fallback{httpClient: httpClient}
}

// Descriptor reports the transport's routing status. The fallback channel is
// available whenever a valid session exists to authenticate with.
func (f *Fallback) Descriptor(baseURL string, sessionValid bool) Descriptor {
	return Descriptor{Kind: KindFallback, EndpointBaseURL: baseURL, Available: sessionValid}
}

// Send posts a payload to one fallback endpoint and returns the response
// body. A 401 or 419 surfaces as an auth-class error so the caller can
// trigger a session refresh.
func (f *Fallback) Send(ctx context.Context, baseURL, endpoint, sessionID string, payload json.RawMessage) (json.RawMessage, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("endpoint is required")
	}

	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/api/"+strings.Trim(endpoint, "/"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build fallback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, bridgeerrors.Wrap(bridgeerrors.CodeRequestTimeout, "fallback request timed out", err)
		}
		return nil, bridgeerrors.Wrap(bridgeerrors.CodeEndpointUnreachable, "fallback request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == 419 {
		return nil, bridgeerrors.New(bridgeerrors.CodeSessionExpired,
			fmt.Sprintf("fallback request rejected with status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, bridgeerrors.New(bridgeerrors.CodeEndpointUnreachable,
			fmt.Sprintf("fallback request status %d", resp.StatusCode))
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.CodeMalformedEnvelope, "decode fallback response", err)
	}
	return body, nil
}
