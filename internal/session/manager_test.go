package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
	"github.com/tablelink/bridge/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memorySessionStore struct {
	mu     sync.Mutex
	record storage.SessionRecord
	loaded bool
}

func (s *memorySessionStore) PutSession(_ context.Context, record storage.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = record
	s.loaded = true
	return nil
}

func (s *memorySessionStore) GetSession(context.Context) (storage.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return storage.SessionRecord{}, storage.ErrNotFound
	}
	return s.record, nil
}

func (s *memorySessionStore) DeleteSession(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = storage.SessionRecord{}
	s.loaded = false
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, 0, len(r.events))
	for _, evt := range r.events {
		kinds = append(kinds, evt.Kind)
	}
	return kinds
}

func (r *eventRecorder) has(kind EventKind) bool {
	for _, k := range r.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func grantHandler(t *testing.T, requests *atomic.Int64, expiresIn time.Duration) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		var request InitRequest
		_ = json.NewDecoder(r.Body).Decode(&request)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id":   "sess-granted",
			"expires_at":   time.Now().Add(expiresIn).UTC().Format(time.RFC3339),
			"was_extended": request.ExtendExisting,
		})
	}
}

func testOptions(recorder *eventRecorder) Options {
	opts := Options{
		MaxRetries:      2,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		CircuitCoolDown: time.Minute,
	}
	if recorder != nil {
		opts.OnEvent = recorder.record
	}
	return opts
}

func TestInitializeCreatesSession(t *testing.T) {
	recorder := &eventRecorder{}
	server := httptest.NewServer(grantHandler(t, nil, time.Hour))
	defer server.Close()

	manager := NewManager(NewClient(nil), nil, testOptions(recorder))
	if err := manager.Initialize(context.Background(), server.URL, InitOptions{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !manager.IsValid() {
		t.Fatal("expected valid session after initialize")
	}
	if got := manager.Session().ID; got != "sess-granted" {
		t.Fatalf("unexpected session id %q", got)
	}
	if !recorder.has(EventCreated) {
		t.Fatalf("expected created event, got %v", recorder.kinds())
	}
}

func TestInitializeExtendExistingSendsSessionID(t *testing.T) {
	recorder := &eventRecorder{}
	var sawSessionID atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request InitRequest
		_ = json.NewDecoder(r.Body).Decode(&request)
		sawSessionID.Store(request.SessionID)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id":   "sess-extended",
			"expires_at":   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			"was_extended": true,
		})
	}))
	defer server.Close()

	manager := NewManager(NewClient(nil), nil, testOptions(recorder))
	manager.session = Session{ID: "sess-current", ExpiresAt: time.Now().Add(time.Hour)}

	if err := manager.Initialize(context.Background(), server.URL, InitOptions{ExtendExisting: true}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got, _ := sawSessionID.Load().(string); got != "sess-current" {
		t.Fatalf("expected extend request to carry sess-current, got %q", got)
	}
	if !recorder.has(EventExtended) {
		t.Fatalf("expected extended event, got %v", recorder.kinds())
	}
}

func TestInitializeResumesPersistedGrant(t *testing.T) {
	var sawSessionID atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request InitRequest
		_ = json.NewDecoder(r.Body).Decode(&request)
		sawSessionID.Store(request.SessionID)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id": "sess-resumed",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	}))
	defer server.Close()

	store := &memorySessionStore{}
	_ = store.PutSession(context.Background(), storage.SessionRecord{
		SessionID: "sess-persisted",
		ExpiresAt: time.Now().Add(30 * time.Minute),
	})

	manager := NewManager(NewClient(nil), store, testOptions(nil))
	if err := manager.Initialize(context.Background(), server.URL, InitOptions{ExtendExisting: true}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got, _ := sawSessionID.Load().(string); got != "sess-persisted" {
		t.Fatalf("expected resume with persisted id, got %q", got)
	}
}

func TestRefreshSuccessResetsConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(grantHandler(t, nil, time.Hour))
	defer server.Close()

	manager := NewManager(NewClient(nil), nil, testOptions(nil))
	manager.consecutiveFailures = 2

	if err := manager.Refresh(context.Background(), server.URL); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := manager.ConsecutiveFailures(); got != 0 {
		t.Fatalf("expected failures reset to 0, got %d", got)
	}
}

func TestRefreshInFlightFailsFastWithoutNetworkCall(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(grantHandler(t, &requests, time.Hour))
	defer server.Close()

	manager := NewManager(NewClient(nil), nil, testOptions(nil))
	manager.refreshing = true

	err := manager.Refresh(context.Background(), server.URL)
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeRefreshInFlight) {
		t.Fatalf("expected refresh-in-flight code, got %v", err)
	}
	if got := requests.Load(); got != 0 {
		t.Fatalf("expected no network calls, got %d", got)
	}
}

func TestCircuitBreakerOpensAndResets(t *testing.T) {
	recorder := &eventRecorder{}
	var requests atomic.Int64
	var failing atomic.Bool
	failing.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		grantHandler(t, nil, time.Hour)(w, r)
	}))
	defer server.Close()

	clock := newFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	manager := NewManager(NewClient(nil), nil, testOptions(recorder))
	manager.clock = clock.Now

	// Exhaust retries: MaxRetries attempts, all failing.
	err := manager.Refresh(context.Background(), server.URL)
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeSessionRefreshFailed) {
		t.Fatalf("expected refresh failure, got %v", err)
	}
	if !manager.CircuitOpen() {
		t.Fatal("expected circuit breaker to open after exhausting retries")
	}
	if !recorder.has(EventCircuitOpened) {
		t.Fatalf("expected circuit-opened event, got %v", recorder.kinds())
	}

	// While open, refresh fails fast without touching the network.
	before := requests.Load()
	err = manager.Refresh(context.Background(), server.URL)
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeCircuitOpen) {
		t.Fatalf("expected circuit-open code, got %v", err)
	}
	if requests.Load() != before {
		t.Fatal("expected no network calls while circuit is open")
	}

	// After the cool-down elapses the next attempt goes through.
	failing.Store(false)
	clock.Advance(2 * time.Minute)
	if err := manager.Refresh(context.Background(), server.URL); err != nil {
		t.Fatalf("refresh after cool-down: %v", err)
	}
	if requests.Load() == before {
		t.Fatal("expected a network call after cool-down")
	}
	if manager.CircuitOpen() {
		t.Fatal("expected circuit closed after successful refresh")
	}
}

func TestRefreshCriticalEventInsideCriticalWindow(t *testing.T) {
	recorder := &eventRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	clock := newFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	manager := NewManager(NewClient(nil), nil, testOptions(recorder))
	manager.clock = clock.Now
	manager.session = Session{ID: "sess-1", ExpiresAt: clock.Now().Add(30 * time.Second)}

	if err := manager.Refresh(context.Background(), server.URL); err == nil {
		t.Fatal("expected refresh failure")
	}
	if !recorder.has(EventCritical) {
		t.Fatalf("expected critical event when retries exhaust in critical window, got %v", recorder.kinds())
	}
}

func TestRefreshFallsBackToFullInitWhenExtendRejected(t *testing.T) {
	var initRequests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request InitRequest
		_ = json.NewDecoder(r.Body).Decode(&request)
		if request.ExtendExisting {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		initRequests.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id": "sess-fresh",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	}))
	defer server.Close()

	manager := NewManager(NewClient(nil), nil, testOptions(nil))
	manager.session = Session{ID: "sess-stale", ExpiresAt: time.Now().Add(time.Hour)}

	if err := manager.Refresh(context.Background(), server.URL); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if initRequests.Load() == 0 {
		t.Fatal("expected fallback to full init")
	}
	if got := manager.Session().ID; got != "sess-fresh" {
		t.Fatalf("expected sess-fresh, got %q", got)
	}
}

func TestDisconnectClearsSessionAndStore(t *testing.T) {
	recorder := &eventRecorder{}
	store := &memorySessionStore{}
	_ = store.PutSession(context.Background(), storage.SessionRecord{
		SessionID: "sess-1",
		ExpiresAt: time.Now().Add(time.Hour),
	})

	manager := NewManager(NewClient(nil), store, testOptions(recorder))
	manager.session = Session{ID: "sess-1", ExpiresAt: time.Now().Add(time.Hour)}

	manager.Disconnect(context.Background())
	if manager.IsValid() {
		t.Fatal("expected invalid session after disconnect")
	}
	if _, err := store.GetSession(context.Background()); err != storage.ErrNotFound {
		t.Fatalf("expected persisted grant removed, got %v", err)
	}
	if !recorder.has(EventCleared) {
		t.Fatalf("expected cleared event, got %v", recorder.kinds())
	}
}

func TestRefreshDelaySchedule(t *testing.T) {
	opts := Options{
		WarningThreshold:       5 * time.Minute,
		CriticalThreshold:      time.Minute,
		SafetyBuffer:           5 * time.Minute,
		WarningRefreshInterval: 30 * time.Second,
	}
	tests := []struct {
		name         string
		timeToExpiry time.Duration
		want         time.Duration
	}{
		{"inside safety buffer refreshes immediately", 2 * time.Minute, 0},
		{"warning window uses frequent cadence", 8 * time.Minute, 30 * time.Second},
		{"long lifetime schedules one timer before expiry", time.Hour, 55 * time.Minute},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := RefreshDelay(tc.timeToExpiry, opts); got != tc.want {
				t.Fatalf("RefreshDelay(%v) = %v, want %v", tc.timeToExpiry, got, tc.want)
			}
		})
	}
}

func TestRefreshDelayCapsAtCriticalThreshold(t *testing.T) {
	// With a tight safety buffer the cadence shortens so the timer never
	// fires after the critical threshold has already passed.
	opts := Options{
		WarningThreshold:       5 * time.Minute,
		CriticalThreshold:      45 * time.Second,
		SafetyBuffer:           time.Minute,
		WarningRefreshInterval: 30 * time.Second,
	}
	if got := RefreshDelay(65*time.Second, opts); got != 20*time.Second {
		t.Fatalf("RefreshDelay = %v, want 20s", got)
	}
}
