package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
	"github.com/tablelink/bridge/internal/storage"
)

// EventKind classifies a lifecycle event.
type EventKind string

const (
	// EventCreated fires when a fresh session is granted.
	EventCreated EventKind = "session.created"
	// EventExtended fires when an existing session is extended.
	EventExtended EventKind = "session.extended"
	// EventRefreshed fires when a refresh replaces the session.
	EventRefreshed EventKind = "session.refreshed"
	// EventCleared fires when the session is dropped on disconnect.
	EventCleared EventKind = "session.cleared"
	// EventCircuitOpened fires when the refresh circuit breaker opens.
	EventCircuitOpened EventKind = "session.circuit_opened"
	// EventCritical fires when refresh retries exhaust inside the critical
	// window. Surfaced through the callback so the caller keeps operating on
	// a best-effort basis instead of unwinding.
	EventCritical EventKind = "session.critical"
)

// Event is a lifecycle notification.
type Event struct {
	Kind    EventKind
	Message string
	At      time.Time
}

// InitOptions controls session initialization.
type InitOptions struct {
	// ExtendExisting extends the current session when it is still valid
	// instead of unconditionally creating a new one.
	ExtendExisting bool
}

// Options tunes lifecycle thresholds and the retry policy. Zero values take
// documented defaults.
type Options struct {
	WarningThreshold       time.Duration // default 5m
	CriticalThreshold      time.Duration // default 1m
	SafetyBuffer           time.Duration // default 5m
	WarningRefreshInterval time.Duration // default 30s
	HealthInterval         time.Duration // default 1m

	MaxRetries      uint          // default 3
	BaseDelay       time.Duration // default 1s
	MaxDelay        time.Duration // default 30s
	CircuitCoolDown time.Duration // default 2m

	// OnEvent receives lifecycle notifications. Optional.
	OnEvent func(Event)
}

func (o Options) withDefaults() Options {
	if o.WarningThreshold <= 0 {
		o.WarningThreshold = 5 * time.Minute
	}
	if o.CriticalThreshold <= 0 {
		o.CriticalThreshold = time.Minute
	}
	if o.SafetyBuffer <= 0 {
		o.SafetyBuffer = 5 * time.Minute
	}
	if o.WarningRefreshInterval <= 0 {
		o.WarningRefreshInterval = 30 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = time.Minute
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.CircuitCoolDown <= 0 {
		o.CircuitCoolDown = 2 * time.Minute
	}
	return o
}

// Manager owns the session and its refresh state. All other components read
// the session through accessors and never mutate it.
type Manager struct {
	mu                  sync.Mutex
	session             Session
	refreshing          bool
	consecutiveFailures int
	lastAttempt         time.Time
	circuitOpen         bool
	circuitResetAt      time.Time
	refreshTimer        *time.Timer
	healthCancel        context.CancelFunc

	client *Client
	store  storage.SessionStore
	clock  func() time.Time
	opts   Options
}

// NewManager creates a session lifecycle manager. The store is optional and
// enables resume-on-restart; pass nil to keep sessions in memory only.
func NewManager(client *Client, store storage.SessionStore, opts Options) *Manager {
	return &Manager{
		client: client,
		store:  store,
		clock:  time.Now,
		opts:   opts.withDefaults(),
	}
}

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// IsValid reports whether the current session is usable.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ValidAt(m.clock())
}

// State classifies the current session by time to expiry.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.StateAt(m.clock(), m.opts.WarningThreshold, m.opts.CriticalThreshold)
}

// ConsecutiveFailures reports the refresh failure streak.
func (m *Manager) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

// CircuitOpen reports whether the refresh circuit breaker is open.
func (m *Manager) CircuitOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.circuitOpen
}

// Initialize creates a new session, or extends the existing one when
// opts.ExtendExisting is set and a valid session (in memory or persisted) is
// available. On success the refresh state resets and the next proactive
// refresh is scheduled.
func (m *Manager) Initialize(ctx context.Context, baseURL string, opts InitOptions) error {
	if m == nil || m.client == nil {
		return errors.New("session manager is not configured")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return errors.New("base url is required")
	}

	request := InitRequest{}
	if opts.ExtendExisting {
		if existing := m.resumableSessionID(ctx); existing != "" {
			request.ExtendExisting = true
			request.SessionID = existing
		}
	}

	grant, err := m.client.InitSession(ctx, baseURL, request)
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.CodeSessionRefreshFailed, "initialize session", err)
	}

	m.commitGrant(ctx, baseURL, grant)
	return nil
}

// Refresh renews the session: extension first, then full re-initialization,
// with bounded retry and backoff. It fails fast without any network call
// when a refresh is already in flight or the circuit breaker is open and not
// yet eligible for reset.
func (m *Manager) Refresh(ctx context.Context, baseURL string) error {
	if m == nil || m.client == nil {
		return errors.New("session manager is not configured")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return errors.New("base url is required")
	}

	m.mu.Lock()
	now := m.clock()
	if m.refreshing {
		m.mu.Unlock()
		return bridgeerrors.New(bridgeerrors.CodeRefreshInFlight, "refresh already in flight")
	}
	if m.circuitOpen {
		if now.Before(m.circuitResetAt) {
			m.mu.Unlock()
			return bridgeerrors.New(bridgeerrors.CodeCircuitOpen, "refresh circuit breaker is open")
		}
		// Cool-down elapsed: allow one attempt through.
		m.circuitOpen = false
	}
	m.refreshing = true
	m.lastAttempt = now
	sessionID := m.session.ID
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	grant, err := m.refreshWithRetry(ctx, baseURL, sessionID)
	if err != nil {
		m.noteRefreshExhausted(err)
		return bridgeerrors.Wrap(bridgeerrors.CodeSessionRefreshFailed, "refresh session", err)
	}

	m.commitGrant(ctx, baseURL, grant)
	return nil
}

// StartHealthMonitoring begins the periodic liveness probe. While the session
// sits in the warning window the probe actively tests connectivity and
// triggers an early refresh on failure. Monitoring stops when ctx ends or on
// Disconnect.
func (m *Manager) StartHealthMonitoring(ctx context.Context, baseURL string) {
	if m == nil || m.client == nil {
		return
	}

	m.mu.Lock()
	if m.healthCancel != nil {
		m.healthCancel()
	}
	monitorCtx, cancel := context.WithCancel(ctx)
	m.healthCancel = cancel
	interval := m.opts.HealthInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				m.healthTick(monitorCtx, baseURL)
			}
		}
	}()
}

// Disconnect clears the session, cancels timers and monitors, and removes
// the persisted grant.
func (m *Manager) Disconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.session = Session{}
	m.resetRefreshStateLocked()
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	if m.healthCancel != nil {
		m.healthCancel()
		m.healthCancel = nil
	}
	onEvent := m.opts.OnEvent
	now := m.clock()
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteSession(ctx); err != nil {
			log.Printf("session: delete persisted grant: %v", err)
		}
	}
	emit(onEvent, Event{Kind: EventCleared, Message: "session cleared on disconnect", At: now})
}

// RefreshDelay computes the proactive refresh delay for a given time to
// expiry: immediate inside the safety buffer, frequent inside the warning
// window, otherwise a single timer firing safety-buffer before expiry.
func RefreshDelay(timeToExpiry time.Duration, opts Options) time.Duration {
	opts = opts.withDefaults()
	switch {
	case timeToExpiry < opts.SafetyBuffer:
		return 0
	case timeToExpiry <= opts.WarningThreshold+opts.SafetyBuffer:
		untilCritical := timeToExpiry - opts.CriticalThreshold
		if untilCritical < opts.WarningRefreshInterval {
			return untilCritical
		}
		return opts.WarningRefreshInterval
	default:
		return timeToExpiry - opts.SafetyBuffer
	}
}

func (m *Manager) refreshWithRetry(ctx context.Context, baseURL, sessionID string) (InitResponse, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.opts.BaseDelay
	policy.MaxInterval = m.opts.MaxDelay
	policy.RandomizationFactor = 0.5

	operation := func() (InitResponse, error) {
		grant, err := m.attemptRefresh(ctx, baseURL, sessionID)
		if err != nil {
			m.mu.Lock()
			m.consecutiveFailures++
			m.lastAttempt = m.clock()
			m.mu.Unlock()
			return InitResponse{}, err
		}
		return grant, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(m.opts.MaxRetries),
	)
}

// attemptRefresh tries extension first and falls back to a full
// re-initialization within the same attempt.
func (m *Manager) attemptRefresh(ctx context.Context, baseURL, sessionID string) (InitResponse, error) {
	if strings.TrimSpace(sessionID) != "" {
		grant, err := m.client.InitSession(ctx, baseURL, InitRequest{
			ExtendExisting: true,
			SessionID:      sessionID,
		})
		if err == nil {
			return grant, nil
		}
		log.Printf("session: extend failed, falling back to full init: %v", err)
	}
	return m.client.InitSession(ctx, baseURL, InitRequest{})
}

func (m *Manager) commitGrant(ctx context.Context, baseURL string, grant InitResponse) {
	m.mu.Lock()
	previousID := m.session.ID
	m.session = Session{ID: grant.SessionID, ExpiresAt: grant.ExpiresAt}
	m.resetRefreshStateLocked()
	m.scheduleRefreshLocked(baseURL)
	onEvent := m.opts.OnEvent
	now := m.clock()
	m.mu.Unlock()

	if m.store != nil {
		err := m.store.PutSession(ctx, storage.SessionRecord{
			SessionID: grant.SessionID,
			ExpiresAt: grant.ExpiresAt,
			BaseURL:   baseURL,
			SavedAt:   now,
		})
		if err != nil {
			log.Printf("session: persist grant: %v", err)
		}
	}

	kind := EventCreated
	switch {
	case grant.WasExtended:
		kind = EventExtended
	case previousID != "" && previousID != grant.SessionID:
		kind = EventRefreshed
	}
	emit(onEvent, Event{Kind: kind, Message: "session grant committed", At: now})
}

func (m *Manager) resetRefreshStateLocked() {
	m.refreshing = false
	m.consecutiveFailures = 0
	m.lastAttempt = time.Time{}
	m.circuitOpen = false
	m.circuitResetAt = time.Time{}
}

// scheduleRefreshLocked re-arms the proactive refresh timer. The previous
// timer is always stopped first so no timer is left dangling.
func (m *Manager) scheduleRefreshLocked(baseURL string) {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	timeToExpiry := m.session.ExpiresAt.Sub(m.clock())
	if timeToExpiry <= 0 {
		return
	}
	delay := RefreshDelay(timeToExpiry, m.opts)
	m.refreshTimer = time.AfterFunc(delay, func() {
		if err := m.Refresh(context.Background(), baseURL); err != nil {
			log.Printf("session: scheduled refresh: %v", err)
		}
	})
}

func (m *Manager) noteRefreshExhausted(cause error) {
	m.mu.Lock()
	now := m.clock()
	opened := false
	if m.consecutiveFailures >= int(m.opts.MaxRetries) && !m.circuitOpen {
		m.circuitOpen = true
		m.circuitResetAt = now.Add(m.opts.CircuitCoolDown)
		opened = true
	}
	state := m.session.StateAt(now, m.opts.WarningThreshold, m.opts.CriticalThreshold)
	onEvent := m.opts.OnEvent
	m.mu.Unlock()

	if opened {
		emit(onEvent, Event{
			Kind:    EventCircuitOpened,
			Message: "refresh retries exhausted, circuit breaker open",
			At:      now,
		})
	}
	if state == StateCritical || state == StateExpired {
		emit(onEvent, Event{
			Kind:    EventCritical,
			Message: "session unrecoverable: " + cause.Error(),
			At:      now,
		})
	}
}

func (m *Manager) healthTick(ctx context.Context, baseURL string) {
	state := m.State()
	if state != StateWarning && state != StateCritical {
		return
	}
	if _, err := m.client.Health(ctx, baseURL); err != nil {
		log.Printf("session: health probe failed in %s window, refreshing early: %v", state, err)
		if err := m.Refresh(ctx, baseURL); err != nil {
			log.Printf("session: early refresh: %v", err)
		}
	}
}

// resumableSessionID returns the current session id when valid, otherwise a
// persisted grant that has not yet expired.
func (m *Manager) resumableSessionID(ctx context.Context) string {
	m.mu.Lock()
	now := m.clock()
	if m.session.ValidAt(now) {
		id := m.session.ID
		m.mu.Unlock()
		return id
	}
	m.mu.Unlock()

	if m.store == nil {
		return ""
	}
	record, err := m.store.GetSession(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("session: load persisted grant: %v", err)
		}
		return ""
	}
	if now.After(record.ExpiresAt) {
		return ""
	}
	return record.SessionID
}

func emit(onEvent func(Event), evt Event) {
	if onEvent == nil {
		return
	}
	onEvent(evt)
}
