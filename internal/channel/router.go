package channel

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tablelink/bridge/internal/correlate"
	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
	"github.com/tablelink/bridge/internal/platform/timeouts"
	"github.com/tablelink/bridge/internal/session"
)

// Result is the normalized outcome of a routed request, regardless of which
// transport carried it.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// endpointOperations translates REST-style endpoint names to persistent
// channel operation names, so callers write against one naming scheme
// regardless of the active transport.
var endpointOperations = map[string]string{
	"state/update":   TypeStateUpdate,
	"command/result": TypeCommandResult,
	"ping":           TypePing,
}

// OperationFor returns the persistent channel operation for an endpoint name.
func OperationFor(endpoint string) (string, bool) {
	operation, ok := endpointOperations[endpoint]
	return operation, ok
}

// Router owns endpoint discovery and picks the transport for each outgoing
// call: the persistent channel when connected, the HTTP fallback otherwise.
type Router struct {
	manager    *session.Manager
	client     *session.Client
	persistent *Persistent
	fallback   *Fallback
	correlator *correlate.Table
	candidates []string
	tracer     trace.Tracer

	baseURL string
}

// NewRouter creates a router over the given transports. The candidate list
// seeds discovery; an already-known base URL is passed as a single candidate.
func NewRouter(manager *session.Manager, client *session.Client, persistent *Persistent, fallback *Fallback, correlator *correlate.Table, candidates []string) *Router {
	return &Router{
		manager:    manager,
		client:     client,
		persistent: persistent,
		fallback:   fallback,
		correlator: correlator,
		candidates: candidates,
		tracer:     otel.Tracer("github.com/tablelink/bridge/internal/channel"),
	}
}

// Initialize discovers the orchestrator endpoint, establishes a session, and
// connects the persistent channel. A persistent connect failure is not fatal:
// the fallback transport still serves requests.
func (r *Router) Initialize(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "router.initialize")
	defer span.End()

	baseURL, err := Discover(ctx, r.client, r.candidates)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return err
	}
	r.baseURL = baseURL
	span.SetAttributes(attribute.String("endpoint.base_url", baseURL))

	if err := r.manager.Initialize(ctx, baseURL, session.InitOptions{ExtendExisting: true}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session initialize failed")
		return err
	}

	if err := r.persistent.Connect(ctx, baseURL); err != nil {
		log.Printf("channel: persistent connect failed, continuing on fallback: %v", err)
	}
	return nil
}

// BaseURL returns the discovered endpoint base URL, empty before Initialize.
func (r *Router) BaseURL() string {
	return r.baseURL
}

// Descriptors reports the routing status of both transports.
func (r *Router) Descriptors() []Descriptor {
	return []Descriptor{
		r.persistent.Descriptor(r.baseURL),
		r.fallback.Descriptor(r.baseURL, r.manager.IsValid()),
	}
}

// WaitConnected blocks until the persistent channel comes up or the wait
// budget elapses.
func (r *Router) WaitConnected(ctx context.Context, wait time.Duration) error {
	return r.persistent.WaitConnected(ctx, wait)
}

// SendRequest routes one request/response call. The persistent channel is
// preferred; a persistent send failure is retried exactly once over the
// fallback before the caller observes a failure. An auth-class fallback
// failure triggers a session refresh but is not retried here, so a broken
// session cannot loop; the caller retries the whole logical operation.
func (r *Router) SendRequest(ctx context.Context, endpoint string, payload json.RawMessage) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "router.send_request",
		trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	operation, ok := OperationFor(endpoint)
	if !ok {
		err := bridgeerrors.WithMetadata(bridgeerrors.CodeUnsupportedOperation,
			"no operation mapped for endpoint", map[string]string{"endpoint": endpoint})
		span.RecordError(err)
		span.SetStatus(codes.Error, "unmapped endpoint")
		return Result{}, err
	}

	if err := r.ensureSession(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return Result{}, err
	}

	if r.persistent.Available() {
		span.SetAttributes(attribute.String("channel.kind", string(KindPersistent)))
		result, err := r.sendPersistent(ctx, operation, payload)
		if err == nil {
			return result, nil
		}
		log.Printf("channel: persistent send of %s failed, retrying over fallback: %v", operation, err)
	}

	span.SetAttributes(attribute.String("channel.kind", string(KindFallback)))
	result, err := r.sendFallback(ctx, endpoint, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return Result{}, err
	}
	return result, nil
}

// Notify sends a fire-and-forget envelope, echoing the supplied correlation
// id so the orchestrator can match it to the command that asked for it.
func (r *Router) Notify(ctx context.Context, endpoint, correlationID string, payload json.RawMessage) error {
	ctx, span := r.tracer.Start(ctx, "router.notify",
		trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	operation, ok := OperationFor(endpoint)
	if !ok {
		return bridgeerrors.WithMetadata(bridgeerrors.CodeUnsupportedOperation,
			"no operation mapped for endpoint", map[string]string{"endpoint": endpoint})
	}

	if err := r.ensureSession(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	if r.persistent.Available() {
		err := r.persistent.Send(Envelope{Type: operation, RequestID: correlationID, Data: payload})
		if err == nil {
			return nil
		}
		log.Printf("channel: persistent notify of %s failed, retrying over fallback: %v", operation, err)
	}

	_, err := r.sendFallback(ctx, endpoint, wrapCorrelated(correlationID, payload))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ensureSession initializes the session before the first call after a
// disconnection. The persistent channel must never carry a call without a
// valid session.
func (r *Router) ensureSession(ctx context.Context) error {
	if r.manager.IsValid() {
		return nil
	}
	return r.manager.Initialize(ctx, r.baseURL, session.InitOptions{ExtendExisting: true})
}

func (r *Router) sendPersistent(ctx context.Context, operation string, payload json.RawMessage) (Result, error) {
	response, err := r.correlator.Dispatch(ctx, func(correlationID string) error {
		return r.persistent.Send(Envelope{
			Type:      operation,
			RequestID: correlationID,
			Data:      payload,
		})
	}, operationTimeout(operation))
	if err != nil {
		return Result{}, err
	}
	return decodeResult(response), nil
}

func (r *Router) sendFallback(ctx context.Context, endpoint string, payload json.RawMessage) (Result, error) {
	body, err := r.fallback.Send(ctx, r.baseURL, endpoint, r.manager.Session().ID, payload)
	if err != nil {
		if bridgeerrors.HasCode(err, bridgeerrors.CodeSessionExpired) {
			if refreshErr := r.manager.Refresh(ctx, r.baseURL); refreshErr != nil {
				log.Printf("channel: session refresh after auth failure failed: %v", refreshErr)
			}
		}
		return Result{}, err
	}
	return decodeResult(body), nil
}

// operationTimeout picks the correlation wait budget by operation class:
// liveness probes are short, side-effecting operations long, because
// abandoning a command mid-execution desynchronizes both sides.
func operationTimeout(operation string) time.Duration {
	switch operation {
	case TypePing:
		return timeouts.CorrelatedProbe
	case TypeCommandResult, TypeStateUpdate:
		return timeouts.CorrelatedCommand
	default:
		return timeouts.CorrelatedSideEffect
	}
}

// decodeResult normalizes a raw response body. A body that is not a Result
// shape is treated as bare payload data from a successful call.
func decodeResult(body json.RawMessage) Result {
	var result Result
	if err := json.Unmarshal(body, &result); err == nil && (result.Success || result.Data != nil || result.Error != "") {
		return result
	}
	return Result{Success: true, Data: body}
}

func wrapCorrelated(correlationID string, payload json.RawMessage) json.RawMessage {
	if correlationID == "" {
		return payload
	}
	wrapped, err := json.Marshal(struct {
		RequestID string          `json:"request_id"`
		Data      json.RawMessage `json:"data,omitempty"`
	}{RequestID: correlationID, Data: payload})
	if err != nil {
		return payload
	}
	return wrapped
}
