package classify

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

type stubCompleter struct {
	response string
	err      error
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return s.response, s.err
}

func (s *stubCompleter) Name() string { return "stub" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantCategory string
		wantSummary  string
		wantErr      bool
	}{
		{
			name:         "plain json",
			response:     `{"category": "promotions", "summary": "weekly discount codes"}`,
			wantCategory: "promotions",
			wantSummary:  "weekly discount codes",
		},
		{
			name:         "fenced json",
			response:     "```json\n{\"category\": \"newsletters\", \"summary\": \"tech digest\"}\n```",
			wantCategory: "newsletters",
			wantSummary:  "tech digest",
		},
		{
			name:         "unknown category falls back to other",
			response:     `{"category": "spam", "summary": "something"}`,
			wantCategory: "other",
			wantSummary:  "something",
		},
		{
			name:         "mixed case category normalized",
			response:     `{"category": "Updates", "summary": "order shipped"}`,
			wantCategory: "updates",
			wantSummary:  "order shipped",
		},
		{
			name:     "no json at all",
			response: "I cannot classify this email.",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&stubCompleter{response: tt.response}, zerolog.Nop())
			got, err := c.Classify(context.Background(), "deals@example.com", "Sale!", "Huge sale now on.")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCategory)
			}
			if got.Summary != tt.wantSummary {
				t.Errorf("Summary = %q, want %q", got.Summary, tt.wantSummary)
			}
		})
	}
}

func TestClassifyCompleterError(t *testing.T) {
	c := NewClassifier(&stubCompleter{err: fmt.Errorf("api unavailable")}, zerolog.Nop())
	if _, err := c.Classify(context.Background(), "a@example.com", "s", "b"); err == nil {
		t.Fatal("expected error when completer fails")
	}
}
