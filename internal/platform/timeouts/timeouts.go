// Package timeouts defines shared timeout constants used across the bridge.
// Centralizing these values prevents drift between the session, channel, and
// correlation layers and makes the durations discoverable.
package timeouts

import "time"

// DiscoveryProbe caps a single endpoint discovery probe. Probes run against a
// bounded candidate set, so the per-probe budget stays short.
const DiscoveryProbe = time.Second

// SessionRequest caps a single session init or extend call.
const SessionRequest = 10 * time.Second

// HealthProbe caps a liveness probe against the backend health endpoint.
const HealthProbe = 5 * time.Second

// WSDial caps the WebSocket dial for the persistent channel.
const WSDial = 5 * time.Second

// ConnectedWait bounds a one-shot wait for the persistent channel to report
// connected.
const ConnectedWait = 10 * time.Second

// CorrelatedProbe is the pending-command lifetime for liveness probes.
const CorrelatedProbe = 5 * time.Second

// CorrelatedCommand is the pending-command lifetime for ordinary calls.
const CorrelatedCommand = 30 * time.Second

// CorrelatedSideEffect is the pending-command lifetime for operations that
// trigger externally visible side effects. Abandoning such a command while it
// is still executing remotely would desynchronize both sides' understanding
// of the outcome, so the budget is deliberately generous.
const CorrelatedSideEffect = 2 * time.Minute

// FallbackRequest caps a single request over the HTTP fallback channel.
const FallbackRequest = 15 * time.Second

// Shutdown limits how long the bridge waits for in-flight work when stopping.
const Shutdown = 5 * time.Second
