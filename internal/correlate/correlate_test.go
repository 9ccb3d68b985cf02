package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	bridgeerrors "github.com/tablelink/bridge/internal/platform/errors"
)

func TestDispatchResolvesMatchingResponse(t *testing.T) {
	table := NewTable()
	captured := make(chan string, 1)

	go func() {
		correlationID := <-captured
		if !table.Resolve(correlationID, json.RawMessage(`{"ok":true}`)) {
			t.Error("expected resolve to succeed")
		}
	}()

	response, err := table.Dispatch(context.Background(), func(correlationID string) error {
		captured <- correlationID
		return nil
	}, time.Second)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(response) != `{"ok":true}` {
		t.Fatalf("unexpected response %s", response)
	}
	if table.PendingCount() != 0 {
		t.Fatalf("expected empty table, got %d pending", table.PendingCount())
	}
}

func TestResolveAtMostOnce(t *testing.T) {
	table := NewTable()
	captured := make(chan string, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := table.Dispatch(context.Background(), func(correlationID string) error {
			captured <- correlationID
			return nil
		}, time.Second)
		if err != nil {
			t.Errorf("dispatch: %v", err)
		}
	}()

	correlationID := <-captured
	if !table.Resolve(correlationID, json.RawMessage(`1`)) {
		t.Fatal("expected first resolve to succeed")
	}
	// Second resolve for the same id is a no-op and must not panic or block.
	if table.Resolve(correlationID, json.RawMessage(`2`)) {
		t.Fatal("expected second resolve to be discarded")
	}
	<-done
}

func TestResolveUnknownIDIsNoOp(t *testing.T) {
	table := NewTable()
	if table.Resolve("never-registered", json.RawMessage(`{}`)) {
		t.Fatal("expected unknown correlation id to be discarded")
	}
}

func TestDispatchTimeoutReleasesEntry(t *testing.T) {
	table := NewTable()

	_, err := table.Dispatch(context.Background(), func(string) error { return nil }, 10*time.Millisecond)
	if !bridgeerrors.HasCode(err, bridgeerrors.CodeRequestTimeout) {
		t.Fatalf("expected timeout code, got %v", err)
	}
	if table.PendingCount() != 0 {
		t.Fatalf("expected entry released on timeout, got %d pending", table.PendingCount())
	}
}

func TestDispatchSendFailureReleasesEntry(t *testing.T) {
	table := NewTable()
	sendErr := errors.New("channel closed")

	_, err := table.Dispatch(context.Background(), func(string) error { return sendErr }, time.Second)
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected send error, got %v", err)
	}
	if table.PendingCount() != 0 {
		t.Fatalf("expected entry released on send failure, got %d pending", table.PendingCount())
	}
}

func TestDispatchContextCancellation(t *testing.T) {
	table := NewTable()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := table.Dispatch(ctx, func(string) error { return nil }, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if table.PendingCount() != 0 {
		t.Fatalf("expected entry released on cancellation, got %d pending", table.PendingCount())
	}
}

func TestDispatchGeneratesUniqueIDs(t *testing.T) {
	table := NewTable()
	seen := make(map[string]struct{})
	idCh := make(chan string, 1)

	for i := 0; i < 20; i++ {
		go func() {
			_, _ = table.Dispatch(context.Background(), func(correlationID string) error {
				idCh <- correlationID
				return nil
			}, time.Second)
		}()
		correlationID := <-idCh
		if _, ok := seen[correlationID]; ok {
			t.Fatalf("duplicate correlation id %q", correlationID)
		}
		seen[correlationID] = struct{}{}
		table.Resolve(correlationID, json.RawMessage(`{}`))
	}
}
