package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestInbox(t *testing.T) (*Inbox, *MemoryStore, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = c.now
	inbox := NewInbox(store, DefaultInboxConfig(), nil)
	inbox.now = c.now
	return inbox, store, c
}

func TestProcessRunsOnce(t *testing.T) {
	inbox, _, _ := newTestInbox(t)
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"report":"ok"}`), nil
	}

	first, err := inbox.Process(ctx, "k1", "insights", json.RawMessage(`{}`), fn)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !first.IsNew || first.Duplicate {
		t.Errorf("first result = %+v", first)
	}

	second, err := inbox.Process(ctx, "k1", "insights", json.RawMessage(`{}`), fn)
	if err != nil {
		t.Fatalf("Process() replay error = %v", err)
	}
	if !second.Duplicate || string(second.Result) != `{"report":"ok"}` {
		t.Errorf("replay result = %+v", second)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestProcessRetriesRecoverableErrors(t *testing.T) {
	inbox, store, _ := newTestInbox(t)
	ctx := context.Background()

	attempt := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		attempt++
		if attempt == 1 {
			return nil, errors.New("broker unavailable")
		}
		return json.RawMessage(`{}`), nil
	}

	if _, err := inbox.Process(ctx, "k2", "insights", nil, fn); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	entry, _ := store.Get(ctx, "k2")
	if entry.Status != StatusRecoverable {
		t.Fatalf("status = %s, want RECOVERABLE", entry.Status)
	}

	res, err := inbox.Process(ctx, "k2", "insights", nil, fn)
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if !res.WasRecovered || res.IsNew {
		t.Errorf("retry result = %+v", res)
	}
}

func TestProcessTerminalErrors(t *testing.T) {
	inbox, store, _ := newTestInbox(t)
	ctx := context.Background()

	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return nil, Terminal(fmt.Errorf("decode panel: %w", errors.New("bad json")))
	}

	_, err := inbox.Process(ctx, "k3", "insights", nil, fn)
	if !IsTerminal(err) {
		t.Fatalf("error = %v, want terminal", err)
	}
	entry, _ := store.Get(ctx, "k3")
	if entry.Status != StatusFailed {
		t.Errorf("status = %s, want FAILED", entry.Status)
	}

	_, err = inbox.Process(ctx, "k3", "insights", nil, fn)
	if !errors.Is(err, ErrPreviouslyFailed) {
		t.Errorf("replay error = %v, want ErrPreviouslyFailed", err)
	}
}

func TestProcessInProgressAndStaleRecovery(t *testing.T) {
	inbox, store, c := newTestInbox(t)
	ctx := context.Background()

	if err := store.Start(ctx, "k4", "insights", nil, c.t.Add(time.Hour)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	noop := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}

	if _, err := inbox.Process(ctx, "k4", "insights", nil, noop); !errors.Is(err, ErrMessageInProgress) {
		t.Fatalf("error = %v, want ErrMessageInProgress", err)
	}

	c.t = c.t.Add(DefaultInboxConfig().RecoveryTimeout + time.Second)
	res, err := inbox.Process(ctx, "k4", "insights", nil, noop)
	if err != nil {
		t.Fatalf("stale Process() error = %v", err)
	}
	if !res.WasRecovered {
		t.Errorf("result = %+v, want recovered", res)
	}
}

func TestCleanupAndRecoverStale(t *testing.T) {
	inbox, store, c := newTestInbox(t)
	ctx := context.Background()

	store.Start(ctx, "expired", "h", nil, c.t.Add(time.Minute))
	store.Start(ctx, "stuck", "h", nil, c.t.Add(30*24*time.Hour))

	c.t = c.t.Add(10 * time.Minute)
	if err := inbox.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := store.Get(ctx, "expired"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry still present: %v", err)
	}

	n, err := inbox.RecoverStaleEntries(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RecoverStaleEntries() = %d, %v", n, err)
	}

	stats, err := inbox.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalEntries != 1 || stats.Recoverable != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGenerateKey(t *testing.T) {
	at := time.Date(2026, 4, 1, 8, 30, 15, 0, time.UTC)

	a := GenerateKey("kafka", "patient-1", "panel-1", at)
	b := GenerateKey("kafka", "patient-1", "panel-1", at.Add(30*time.Second))
	if a != b {
		t.Error("keys within the same minute differ")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64", len(a))
	}

	if GenerateKey("kafka", "patient-1", "panel-2", at) == a {
		t.Error("different panels share a key")
	}
	if GenerateKey("kafka", "patient-1", "panel-1", at.Add(2*time.Minute)) == a {
		t.Error("different minutes share a key")
	}
}

func TestTerminal(t *testing.T) {
	if Terminal(nil) != nil {
		t.Error("Terminal(nil) != nil")
	}
	base := errors.New("invalid panel")
	err := fmt.Errorf("handle: %w", Terminal(base))
	if !IsTerminal(err) || !errors.Is(err, base) {
		t.Errorf("wrapped terminal error lost: %v", err)
	}
	if IsTerminal(base) {
		t.Error("plain error reported terminal")
	}
}
