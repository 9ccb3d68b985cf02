package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
)

func TestInitSessionDecodesGrant(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/session/init" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var request InitRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !request.ExtendExisting {
			t.Error("expected extend_existing to be set")
		}
		if request.SessionID != "sess-old" {
			t.Errorf("expected session_id sess-old, got %q", request.SessionID)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id":   "sess-new",
			"expires_at":   expiresAt.Format(time.RFC3339),
			"was_extended": true,
		})
	}))
	defer server.Close()

	grant, err := NewClient(nil).InitSession(context.Background(), server.URL, InitRequest{
		ExtendExisting: true,
		SessionID:      "sess-old",
	})
	if err != nil {
		t.Fatalf("init session: %v", err)
	}
	if grant.SessionID != "sess-new" {
		t.Fatalf("expected sess-new, got %q", grant.SessionID)
	}
	if !grant.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expected expiry %v, got %v", expiresAt, grant.ExpiresAt)
	}
	if !grant.WasExtended {
		t.Fatal("expected was_extended")
	}
}

func TestInitSessionMapsAuthStatus(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, 419} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		_, err := NewClient(nil).InitSession(context.Background(), server.URL, InitRequest{})
		server.Close()
		if !bridgeerrors.HasCode(err, bridgeerrors.CodeSessionExpired) {
			t.Fatalf("status %d: expected session expired code, got %v", status, err)
		}
	}
}

func TestInitSessionRejectsIncompleteGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"session_id": ""})
	}))
	defer server.Close()

	_, err := NewClient(nil).InitSession(context.Background(), server.URL, InitRequest{})
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeMalformedEnvelope) {
		t.Fatalf("expected malformed envelope code, got %v", err)
	}
}

func TestInitSessionUnreachableEndpoint(t *testing.T) {
	_, err := NewClient(nil).InitSession(context.Background(), "http://127.0.0.1:1", InitRequest{})
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeEndpointUnreachable) {
		t.Fatalf("expected endpoint unreachable code, got %v", err)
	}
}

func TestHealthReportsIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"service": "tablelink-orchestrator",
			"version": "1.4.0",
		})
	}))
	defer server.Close()

	health, err := NewClient(nil).Health(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Service != "tablelink-orchestrator" {
		t.Fatalf("unexpected service identity %q", health.Service)
	}
	if health.Version != "1.4.0" {
		t.Fatalf("unexpected version %q", health.Version)
	}
}

func TestClientRequiresBaseURL(t *testing.T) {
	client := NewClient(nil)
	if _, err := client.InitSession(context.Background(), " ", InitRequest{}); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := client.Health(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestTransportErrorClassifiesTimeout(t *testing.T) {
	err := transportError("probe", context.DeadlineExceeded)
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeRequestTimeout) {
		t.Fatalf("expected timeout code, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected cause preserved in chain")
	}
}
