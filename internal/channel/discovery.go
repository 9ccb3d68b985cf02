package channel

import (
	"context"
	"log"

	"github.com/tablelink/bridge/internal/platform/discovery"
	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
	"github.com/tablelink/bridge/internal/platform/timeouts"
	"github.com/tablelink/bridge/internal/session"
)

// healthProber is satisfied by session.Client.
type healthProber interface {
	Health(ctx context.Context, baseURL string) (session.HealthResponse, error)
}

// Discover probes the candidate base URLs in order and returns the first one
// whose health endpoint reports the orchestrator identity. Each probe gets a
// short individual timeout so a dead candidate cannot stall the scan.
//
// A reachable candidate with the wrong identity is skipped, not fatal: the
// port may be occupied by an unrelated local service.
func Discover(ctx context.Context, prober healthProber, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", bridgeerrors.New(bridgeerrors.CodeDiscoveryNoEndpoint, "no candidate endpoints to probe")
	}

	var lastMismatch string
	for _, baseURL := range candidates {
		probeCtx, cancel := context.WithTimeout(ctx, timeouts.DiscoveryProbe)
		health, err := prober.Health(probeCtx, baseURL)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if health.Service != discovery.ServiceOrchestrator {
			log.Printf("channel: candidate %s reports identity %q, skipping", baseURL, health.Service)
			lastMismatch = health.Service
			continue
		}
		log.Printf("channel: discovered orchestrator at %s (version %s)", baseURL, health.Version)
		return baseURL, nil
	}

	if lastMismatch != "" {
		return "", bridgeerrors.WithMetadata(bridgeerrors.CodeIdentityMismatch,
			"reachable candidates report a different service identity",
			map[string]string{"reported": lastMismatch, "expected": discovery.ServiceOrchestrator})
	}
	return "", bridgeerrors.New(bridgeerrors.CodeDiscoveryNoEndpoint, "no orchestrator endpoint reachable")
}
