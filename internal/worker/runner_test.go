package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/ledger"
	"github.com/mailsweep/mailsweep/internal/unsubscribe"
)

type stubStore struct {
	links map[string]string
}

func (s *stubStore) GetUnsubscribeLink(messageID string) (string, error) {
	link, ok := s.links[messageID]
	if !ok {
		return "", fmt.Errorf("unknown message %s", messageID)
	}
	return link, nil
}

type stubEngine struct {
	mu       sync.Mutex
	outcomes []unsubscribe.Outcome // consumed in order; last one repeats
	calls    int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	block       time.Duration
}

func (s *stubEngine) Attempt(ctx context.Context, target unsubscribe.Target) unsubscribe.Outcome {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxInFlight.Load()
		if cur <= max || s.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if s.block > 0 {
		time.Sleep(s.block)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	s.calls++
	return s.outcomes[idx]
}

func newTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	led, err := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { led.Close() })
	return led
}

func waitForAttempts(t *testing.T, led *ledger.Store, messageID string, want int) []ledger.Attempt {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := led.History(messageID)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		done := 0
		for _, row := range rows {
			if row.Status == ledger.StatusSuccess || row.Status == ledger.StatusFailed {
				done++
			}
		}
		if done >= want {
			return rows
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d terminal attempts for %s", want, messageID)
	return nil
}

func TestEnqueueQueueFull(t *testing.T) {
	cfg := config.WorkerConfig{Workers: 1, QueueSize: 2, MaxAttempts: 1}
	r := NewRunner(cfg, &stubStore{}, newTestLedger(t), &stubEngine{}, zerolog.Nop())
	// Runner not started: the queue only fills

	if _, err := r.Enqueue("<m1@x>"); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if _, err := r.Enqueue("<m2@x>"); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if _, err := r.Enqueue("<m3@x>"); err == nil {
		t.Fatal("expected queue-full error")
	}
}

func TestEnqueueRequiresMessageID(t *testing.T) {
	r := NewRunner(config.WorkerConfig{}, &stubStore{}, newTestLedger(t), &stubEngine{}, zerolog.Nop())
	if _, err := r.Enqueue(""); err == nil {
		t.Fatal("expected error for empty message ID")
	}
}

func TestMissingLinkShortCircuits(t *testing.T) {
	led := newTestLedger(t)
	engine := &stubEngine{outcomes: []unsubscribe.Outcome{{Success: true, Method: "one_click"}}}
	r := NewRunner(config.WorkerConfig{Workers: 1, QueueSize: 8, MaxAttempts: 2},
		&stubStore{links: map[string]string{"<nolink@x>": ""}}, led, engine, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	if _, err := r.Enqueue("<nolink@x>"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rows := waitForAttempts(t, led, "<nolink@x>", 1)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Status != ledger.StatusFailed || rows[0].Detail != unsubscribe.ReasonNoUnsubscribeLink {
		t.Errorf("row = %+v, want failed/no_unsubscribe_link", rows[0])
	}
	if engine.calls != 0 {
		t.Errorf("engine called %d times, want 0", engine.calls)
	}
}

func TestRetryOnTransportFailure(t *testing.T) {
	led := newTestLedger(t)
	engine := &stubEngine{outcomes: []unsubscribe.Outcome{
		{Success: false, Method: "http", Detail: unsubscribe.ReasonNetworkError},
		{Success: true, Method: "one_click"},
	}}
	r := NewRunner(config.WorkerConfig{Workers: 1, QueueSize: 8, MaxAttempts: 2},
		&stubStore{links: map[string]string{"<m@x>": "https://example.com/unsub"}}, led, engine, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	if _, err := r.Enqueue("<m@x>"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rows := waitForAttempts(t, led, "<m@x>", 2)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (retry is a new row)", len(rows))
	}
	// Newest first
	if rows[0].Status != ledger.StatusSuccess || rows[0].Method != "one_click" {
		t.Errorf("retry row = %+v", rows[0])
	}
	if rows[1].Status != ledger.StatusFailed || rows[1].Detail != unsubscribe.ReasonNetworkError {
		t.Errorf("first row = %+v", rows[1])
	}
}

func TestNoRetryOnTerminalFailure(t *testing.T) {
	led := newTestLedger(t)
	engine := &stubEngine{outcomes: []unsubscribe.Outcome{
		{Success: false, Method: "http", Detail: unsubscribe.ReasonClientError},
	}}
	r := NewRunner(config.WorkerConfig{Workers: 1, QueueSize: 8, MaxAttempts: 2},
		&stubStore{links: map[string]string{"<m@x>": "https://example.com/unsub"}}, led, engine, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	if _, err := r.Enqueue("<m@x>"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForAttempts(t, led, "<m@x>", 1)
	time.Sleep(50 * time.Millisecond) // give a wrong retry a chance to appear
	rows, err := led.History("<m@x>")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1 (client_error is not retryable)", len(rows))
	}
	if engine.calls != 1 {
		t.Errorf("engine called %d times, want 1", engine.calls)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	led := newTestLedger(t)
	links := make(map[string]string)
	for i := 0; i < 12; i++ {
		links[fmt.Sprintf("<m%d@x>", i)] = "https://example.com/unsub"
	}
	engine := &stubEngine{
		outcomes: []unsubscribe.Outcome{{Success: true, Method: "one_click"}},
		block:    20 * time.Millisecond,
	}
	r := NewRunner(config.WorkerConfig{Workers: 3, QueueSize: 32, MaxAttempts: 1},
		&stubStore{links: links}, led, engine, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	for id := range links {
		if _, err := r.Enqueue(id); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		total, succeeded, _, err := led.Stats()
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if total == 12 && succeeded == 12 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if max := engine.maxInFlight.Load(); max > 3 {
		t.Errorf("max concurrent attempts = %d, want <= 3", max)
	}
}

func TestGracefulShutdown(t *testing.T) {
	r := NewRunner(config.WorkerConfig{Workers: 2, QueueSize: 8, MaxAttempts: 1},
		&stubStore{}, newTestLedger(t), &stubEngine{outcomes: []unsubscribe.Outcome{{Success: true}}}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit after cancellation")
	}
}
