package inbox

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestInboxStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertAndGetUnsubscribeLink(t *testing.T) {
	store := newTestInboxStore(t)

	msg := Message{
		MessageID:      "<promo-1@shop.example.com>",
		From:           "deals@shop.example.com",
		Subject:        "Big sale",
		UnsubscribeURL: "https://shop.example.com/unsub?u=1",
		ReceivedAt:     time.Now(),
	}
	if err := store.Upsert(msg); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	link, err := store.GetUnsubscribeLink(msg.MessageID)
	if err != nil {
		t.Fatalf("GetUnsubscribeLink: %v", err)
	}
	if link != msg.UnsubscribeURL {
		t.Errorf("link = %q, want %q", link, msg.UnsubscribeURL)
	}

	if _, err := store.GetUnsubscribeLink("<missing@example.com>"); err == nil {
		t.Error("expected error for unknown message")
	}
}

func TestUpsertKeepsClassification(t *testing.T) {
	store := newTestInboxStore(t)

	msg := Message{MessageID: "<m@example.com>", From: "a@example.com", ReceivedAt: time.Now()}
	if err := store.Upsert(msg); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.SetClassification(msg.MessageID, "promotions", "weekly deals digest"); err != nil {
		t.Fatalf("SetClassification: %v", err)
	}

	// Re-ingesting the same message must not wipe the classification
	msg.UnsubscribeURL = "https://example.com/unsub"
	if err := store.Upsert(msg); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}

	got, err := store.Get(msg.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Category != "promotions" || got.Summary != "weekly deals digest" {
		t.Errorf("classification lost: category=%q summary=%q", got.Category, got.Summary)
	}
	if got.UnsubscribeURL != "https://example.com/unsub" {
		t.Errorf("link not updated: %q", got.UnsubscribeURL)
	}
}

func TestMessageWithoutLink(t *testing.T) {
	store := newTestInboxStore(t)

	msg := Message{MessageID: "<nolink@example.com>", From: "x@example.com", ReceivedAt: time.Now()}
	if err := store.Upsert(msg); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	link, err := store.GetUnsubscribeLink(msg.MessageID)
	if err != nil {
		t.Fatalf("GetUnsubscribeLink: %v", err)
	}
	if link != "" {
		t.Errorf("link = %q, want empty", link)
	}
}
