// Package discovery centralizes backend discovery conventions.
//
// The orchestrator backend and the bridge usually run on the same host, so
// the bridge self-pairs by probing a bounded set of loopback candidates and
// confirming the service identity instead of requiring port configuration.
package discovery

import (
	"strconv"
	"strings"
)

// ServiceOrchestrator is the identity the backend health endpoint must report
// for a probe to bind. Bare reachability is not enough: an unrelated service
// occupying a candidate port would otherwise misroute all traffic.
const ServiceOrchestrator = "tablelink-orchestrator"

// DefaultCandidatePorts lists the loopback ports probed during discovery, in
// preference order.
var DefaultCandidatePorts = []int{8787, 8788, 8789, 8790}

// CandidateBaseURLs returns the HTTP base URLs probed during discovery.
// An empty host defaults to localhost.
func CandidateBaseURLs(host string) []string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "localhost"
	}
	urls := make([]string, 0, len(DefaultCandidatePorts))
	for _, port := range DefaultCandidatePorts {
		urls = append(urls, "http://"+host+":"+strconv.Itoa(port))
	}
	return urls
}

// OrCandidateBaseURLs returns the configured base URL as a single-candidate
// list when set, otherwise the loopback convention.
func OrCandidateBaseURLs(value, host string) []string {
	value = strings.TrimSpace(value)
	if value != "" {
		return []string{strings.TrimRight(value, "/")}
	}
	return CandidateBaseURLs(host)
}

// HealthURL returns the health endpoint for a base URL.
func HealthURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/health"
}

// SessionInitURL returns the session init endpoint for a base URL.
func SessionInitURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/session/init"
}

// WSEndpoint converts an HTTP base URL into the persistent channel endpoint.
func WSEndpoint(baseURL string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		baseURL = "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		baseURL = "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL + "/ws"
}
