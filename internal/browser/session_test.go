package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSessionSlotBlocksSecondSession(t *testing.T) {
	// Hold the only slot: a second session must wait, and give up when its
	// context expires, without ever launching a browser.
	sessionSlot <- struct{}{}
	defer func() { <-sessionSlot }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	ran := false
	err := WithSession(ctx, DefaultConfig(), zerolog.Nop(), func(*Session) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
	if ran {
		t.Error("session ran while the slot was held")
	}
	if got := InFlightSessions(); got != 0 {
		t.Errorf("in-flight sessions = %d, want 0", got)
	}
}

func TestSessionSlotReleasedOnEveryExit(t *testing.T) {
	// The launch may fail (no browser binary) or succeed; on either path the
	// slot must be free again once WithSession returns.
	err := WithSession(context.Background(), DefaultConfig(), zerolog.Nop(), func(*Session) error {
		if got := InFlightSessions(); got != 1 {
			t.Errorf("in-flight sessions during fn = %d, want 1", got)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrSessionStart) {
		t.Errorf("unexpected error: %v", err)
	}

	select {
	case sessionSlot <- struct{}{}:
		<-sessionSlot
	default:
		t.Error("session slot still held after WithSession returned")
	}
	if got := InFlightSessions(); got != 0 {
		t.Errorf("in-flight sessions = %d, want 0", got)
	}
}
