package channel

import (
	"context"
	"errors"
	"testing"

	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
	"github.com/tablelink/bridge/internal/session"
)

type fakeProber struct {
	identities map[string]string
	probed     []string
}

func (f *fakeProber) Health(_ context.Context, baseURL string) (session.HealthResponse, error) {
	f.probed = append(f.probed, baseURL)
	identity, ok := f.identities[baseURL]
	if !ok {
		return session.HealthResponse{}, errors.New("connection refused")
	}
	return session.HealthResponse{Service: identity, Version: "1.0.0"}, nil
}

func TestDiscoverBindsFirstMatchingIdentity(t *testing.T) {
	prober := &fakeProber{identities: map[string]string{
		"http://localhost:8788": "tablelink-orchestrator",
		"http://localhost:8789": "tablelink-orchestrator",
	}}

	baseURL, err := Discover(context.Background(), prober, []string{
		"http://localhost:8787",
		"http://localhost:8788",
		"http://localhost:8789",
	})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if baseURL != "http://localhost:8788" {
		t.Fatalf("expected first matching candidate, got %q", baseURL)
	}
	if len(prober.probed) != 2 {
		t.Fatalf("expected probing to stop at the first match, probed %v", prober.probed)
	}
}

func TestDiscoverSkipsWrongIdentity(t *testing.T) {
	prober := &fakeProber{identities: map[string]string{
		"http://localhost:8787": "unrelated-dev-server",
		"http://localhost:8788": "tablelink-orchestrator",
	}}

	baseURL, err := Discover(context.Background(), prober, []string{
		"http://localhost:8787",
		"http://localhost:8788",
	})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if baseURL != "http://localhost:8788" {
		t.Fatalf("expected mismatched candidate skipped, got %q", baseURL)
	}
}

func TestDiscoverReportsIdentityMismatch(t *testing.T) {
	prober := &fakeProber{identities: map[string]string{
		"http://localhost:8787": "unrelated-dev-server",
	}}

	_, err := Discover(context.Background(), prober, []string{"http://localhost:8787"})
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeIdentityMismatch) {
		t.Fatalf("expected identity mismatch code, got %v", err)
	}
}

func TestDiscoverNoEndpointReachable(t *testing.T) {
	prober := &fakeProber{}

	_, err := Discover(context.Background(), prober, []string{"http://localhost:8787"})
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeDiscoveryNoEndpoint) {
		t.Fatalf("expected no-endpoint code, got %v", err)
	}
}

func TestDiscoverRequiresCandidates(t *testing.T) {
	_, err := Discover(context.Background(), &fakeProber{}, nil)
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeDiscoveryNoEndpoint) {
		t.Fatalf("expected no-endpoint code, got %v", err)
	}
}
