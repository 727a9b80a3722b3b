package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func tripConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.FailureThreshold = 2
	cfg.MinRequests = 100
	cfg.Timeout = time.Hour
	return cfg
}

func fail(context.Context) (any, error) { return nil, errBackend }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	cfg := tripConfig("history")
	cfg.OnStateChange = func(name string, to State) {
		if name != "history" {
			t.Errorf("name = %s", name)
		}
		transitions = append(transitions, to)
	}

	cb, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(ctx, fail); !errors.Is(err, errBackend) {
			t.Fatalf("Execute() error = %v, want backend error", err)
		}
	}

	if !cb.IsOpen() {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("transitions = %v", transitions)
	}

	called := false
	_, err = cb.Execute(ctx, func(context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute() on open circuit = %v, want ErrOpen", err)
	}
	if called {
		t.Error("guarded function ran while open")
	}
}

func TestIgnoredErrorsDoNotTrip(t *testing.T) {
	notFound := errors.New("series not found")
	cfg := tripConfig("history")
	cfg.Ignore = func(err error) bool { return errors.Is(err, notFound) }

	cb, _ := New(cfg, nil)
	for i := 0; i < 5; i++ {
		_, err := cb.Execute(context.Background(), func(context.Context) (any, error) {
			return nil, notFound
		})
		if !errors.Is(err, notFound) {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if !cb.IsClosed() {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
}

func TestExecuteWithFallback(t *testing.T) {
	cb, _ := New(tripConfig("producer"), nil)
	ctx := context.Background()
	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)

	got, err := cb.ExecuteWithFallback(ctx, fail, func(err error) (any, error) {
		return "cached", nil
	})
	if err != nil || got != "cached" {
		t.Errorf("fallback = %v, %v", got, err)
	}
}

func TestDo(t *testing.T) {
	cb, _ := New(DefaultConfig("typed"), nil)

	n, err := Do(context.Background(), cb, func(context.Context) (int, error) { return 7, nil })
	if err != nil || n != 7 {
		t.Errorf("Do() = %d, %v", n, err)
	}

	p, err := Do(context.Background(), cb, func(context.Context) (*int, error) { return nil, nil })
	if err != nil || p != nil {
		t.Errorf("Do() nil pointer = %v, %v", p, err)
	}
}

func TestStateLevel(t *testing.T) {
	if StateClosed.Level() != 0 || StateHalfOpen.Level() != 1 || StateOpen.Level() != 2 {
		t.Error("unexpected state levels")
	}
}

func TestManager(t *testing.T) {
	m := NewManager(nil)

	a, err := m.GetOrCreate("producer", tripConfig(""))
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	b, _ := m.GetOrCreate("producer", tripConfig(""))
	if a != b {
		t.Error("GetOrCreate returned a second breaker for the same name")
	}
	m.GetOrCreate("history", tripConfig(""))

	statuses := m.GetHealthStatus()
	if len(statuses) != 2 || statuses[0].Name != "history" || statuses[1].Name != "producer" {
		t.Fatalf("statuses = %+v", statuses)
	}
	if !m.Healthy() {
		t.Error("fresh breakers reported unhealthy")
	}

	a.Execute(context.Background(), fail)
	a.Execute(context.Background(), fail)
	if m.Healthy() {
		t.Error("open breaker reported healthy")
	}
	if _, ok := m.Get("history"); !ok {
		t.Error("Get(history) missing")
	}
	if len(m.All()) != 2 {
		t.Errorf("All() = %d breakers", len(m.All()))
	}
}

func TestNewRequiresName(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error for empty name")
	}
}
