package discovery

import "testing"

func TestCandidateBaseURLsDefaultsToLocalhost(t *testing.T) {
	urls := CandidateBaseURLs("")
	if len(urls) != len(DefaultCandidatePorts) {
		t.Fatalf("expected %d candidates, got %d", len(DefaultCandidatePorts), len(urls))
	}
	if urls[0] != "http://localhost:8787" {
		t.Fatalf("unexpected first candidate: %q", urls[0])
	}
}

func TestOrCandidateBaseURLsPrefersConfiguredValue(t *testing.T) {
	urls := OrCandidateBaseURLs(" http://backend:9000/ ", "ignored")
	if len(urls) != 1 {
		t.Fatalf("expected single candidate, got %d", len(urls))
	}
	if urls[0] != "http://backend:9000" {
		t.Fatalf("unexpected candidate: %q", urls[0])
	}
}

func TestWSEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8787", "ws://localhost:8787/ws"},
		{"https://backend.example", "wss://backend.example/ws"},
		{"http://localhost:8787/", "ws://localhost:8787/ws"},
	}
	for _, tc := range tests {
		if got := WSEndpoint(tc.base); got != tc.want {
			t.Fatalf("WSEndpoint(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestHealthAndSessionURLs(t *testing.T) {
	if got := HealthURL("http://localhost:8787/"); got != "http://localhost:8787/health" {
		t.Fatalf("unexpected health URL: %q", got)
	}
	if got := SessionInitURL("http://localhost:8787"); got != "http://localhost:8787/session/init" {
		t.Fatalf("unexpected session init URL: %q", got)
	}
}
