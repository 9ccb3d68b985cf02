package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/tablelink/bridge/internal/platform/discovery"
	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
	"github.com/tablelink/bridge/internal/platform/timeouts"
)

// InboundHandler executes commands the orchestrator pushes over the
// persistent channel.
type InboundHandler interface {
	HandleInbound(ctx context.Context, envelope Envelope)
}

// InboundHandlerFunc adapts a function to InboundHandler.
type InboundHandlerFunc func(ctx context.Context, envelope Envelope)

func (f InboundHandlerFunc) HandleInbound(ctx context.Context, envelope Envelope) {
	f(ctx, envelope)
}

// responseResolver is satisfied by correlate.Table.
type responseResolver interface {
	Resolve(correlationID string, response json.RawMessage) bool
}

// Persistent is the bidirectional WebSocket transport. It lives for the
// process lifetime: a dropped connection marks it unavailable instead of
// destroying it, and Connect can be called again.
type Persistent struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	encoder   *json.Encoder
	connected chan struct{}
	available bool

	handler  InboundHandler
	resolver responseResolver
	clock    func() time.Time
}

// NewPersistent creates a disconnected persistent channel. Inbound commands
// go to handler; correlated responses go to resolver.
func NewPersistent(handler InboundHandler, resolver responseResolver) *Persistent {
	return &Persistent{
		connected: make(chan struct{}),
		handler:   handler,
		resolver:  resolver,
		clock:     time.Now,
	}
}

// Connect dials the persistent endpoint for the given HTTP base URL and
// starts the read loop. It signals the one-shot connected event on success.
func (p *Persistent) Connect(ctx context.Context, baseURL string) error {
	endpoint := discovery.WSEndpoint(baseURL)
	config, err := websocket.NewConfig(endpoint, baseURL)
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.CodeChannelUnavailable, "build channel config", err)
	}

	type dialed struct {
		conn *websocket.Conn
		err  error
	}
	result := make(chan dialed, 1)
	go func() {
		conn, err := websocket.DialConfig(config)
		result <- dialed{conn: conn, err: err}
	}()

	dialCtx, cancel := context.WithTimeout(ctx, timeouts.WSDial)
	defer cancel()

	select {
	case <-dialCtx.Done():
		go func() {
			if d := <-result; d.conn != nil {
				_ = d.conn.Close()
			}
		}()
		return bridgeerrors.Wrap(bridgeerrors.CodeChannelUnavailable, "channel dial timed out", dialCtx.Err())
	case d := <-result:
		if d.err != nil {
			return bridgeerrors.Wrap(bridgeerrors.CodeChannelUnavailable, "channel dial failed", d.err)
		}
		p.mu.Lock()
		if p.available {
			p.mu.Unlock()
			_ = d.conn.Close()
			return nil
		}
		p.conn = d.conn
		p.encoder = json.NewEncoder(d.conn)
		p.available = true
		close(p.connected)
		p.mu.Unlock()

		go p.readLoop(ctx, d.conn)
		return nil
	}
}

// WaitConnected blocks until the connected event fires or the wait budget
// elapses. It replaces availability polling: observers register once and are
// released the moment the channel comes up.
func (p *Persistent) WaitConnected(ctx context.Context, wait time.Duration) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-connected:
		return nil
	case <-timer.C:
		return bridgeerrors.New(bridgeerrors.CodeChannelUnavailable, "channel did not connect in time")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available reports live connectivity.
func (p *Persistent) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Descriptor reports the transport's routing status.
func (p *Persistent) Descriptor(baseURL string) Descriptor {
	return Descriptor{Kind: KindPersistent, EndpointBaseURL: baseURL, Available: p.Available()}
}

// Send writes one envelope, stamping the timestamp. Writes are serialized
// under the channel lock because the JSON encoder is not safe for concurrent
// use.
func (p *Persistent) Send(envelope Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.available || p.encoder == nil {
		return bridgeerrors.New(bridgeerrors.CodeChannelUnavailable, "persistent channel is not connected")
	}
	if envelope.Timestamp == 0 {
		envelope.Timestamp = p.clock().UnixMilli()
	}
	if err := p.encoder.Encode(envelope); err != nil {
		p.markUnavailableLocked()
		return bridgeerrors.Wrap(bridgeerrors.CodeChannelUnavailable, "persistent channel send failed", err)
	}
	return nil
}

// Close tears the connection down and marks the channel unavailable.
func (p *Persistent) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markUnavailableLocked()
}

// markUnavailableLocked drops the connection and re-arms the connected
// signal so waiters registered after the drop observe the next connect.
func (p *Persistent) markUnavailableLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
	p.encoder = nil
	if p.available {
		p.connected = make(chan struct{})
	}
	p.available = false
}

func (p *Persistent) readLoop(ctx context.Context, conn *websocket.Conn) {
	decoder := json.NewDecoder(conn)
	for {
		var envelope Envelope
		if err := decoder.Decode(&envelope); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Printf("channel: persistent read failed: %v", err)
			}
			p.mu.Lock()
			if p.conn == conn {
				p.markUnavailableLocked()
			}
			p.mu.Unlock()
			return
		}
		p.route(ctx, envelope)
	}
}

// route classifies one inbound envelope. Orchestrator commands go to the
// handler; anything else carrying a request id resolves a pending dispatch.
// Unclassifiable envelopes are a protocol error: logged and discarded,
// never fatal to the connection.
func (p *Persistent) route(ctx context.Context, envelope Envelope) {
	switch envelope.Type {
	case TypeStateQuery, TypeEncounterCreate, TypeTurnAdvance, TypeAttributeModify:
		if p.handler != nil {
			p.handler.HandleInbound(ctx, envelope)
		}
	default:
		if envelope.RequestID != "" && p.resolver != nil {
			p.resolver.Resolve(envelope.RequestID, envelope.Data)
			return
		}
		log.Printf("channel: discarding envelope with unknown type %q", envelope.Type)
	}
}
