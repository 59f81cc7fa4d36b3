package ai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mailsweep/mailsweep/internal/analyzer"
)

type stubCompleter struct {
	response string
	err      error
	prompt   string
}

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.response, s.err
}

func (s *stubCompleter) Name() string { return "stub" }

func newTestClient(response string, err error) (*DirectiveClient, *stubCompleter) {
	stub := &stubCompleter{response: response, err: err}
	return NewDirectiveClient(stub, zerolog.Nop()), stub
}

const directiveJSON = `{
  "strategy": "form_submit",
  "form_index": 0,
  "fields": [{"selector": "input[name='email']", "value": "user@example.com"}],
  "submit_selector": "button[type='submit']",
  "confidence": "high"
}`

func TestResolveParsesDirective(t *testing.T) {
	client, _ := newTestClient(directiveJSON, nil)

	directive, err := client.Resolve(context.Background(), analyzer.CompactView{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if directive.Strategy != StrategyFormSubmit {
		t.Errorf("strategy = %q, want form_submit", directive.Strategy)
	}
	if directive.FormIndex == nil || *directive.FormIndex != 0 {
		t.Errorf("form_index = %v, want 0", directive.FormIndex)
	}
	if len(directive.Fields) != 1 || directive.Fields[0].Value != "user@example.com" {
		t.Errorf("fields = %+v", directive.Fields)
	}
}

func TestResolveFencedAndUnfencedMatch(t *testing.T) {
	plain, _ := newTestClient(directiveJSON, nil)
	fenced, _ := newTestClient("```json\n"+directiveJSON+"\n```", nil)

	a, err := plain.Resolve(context.Background(), analyzer.CompactView{})
	if err != nil {
		t.Fatalf("plain Resolve() error: %v", err)
	}
	b, err := fenced.Resolve(context.Background(), analyzer.CompactView{})
	if err != nil {
		t.Fatalf("fenced Resolve() error: %v", err)
	}
	if a.Strategy != b.Strategy || a.SubmitSelector != b.SubmitSelector || len(a.Fields) != len(b.Fields) {
		t.Errorf("fenced and unfenced responses parsed differently: %+v vs %+v", a, b)
	}
}

func TestResolveSurroundingProse(t *testing.T) {
	client, _ := newTestClient("Here is the plan:\n"+directiveJSON+"\nGood luck!", nil)
	directive, err := client.Resolve(context.Background(), analyzer.CompactView{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if directive.Strategy != StrategyFormSubmit {
		t.Errorf("strategy = %q, want form_submit", directive.Strategy)
	}
}

func TestResolveRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{name: "missing strategy", response: `{"fields": []}`},
		{name: "bogus strategy", response: `{"strategy": "teleport"}`},
		{name: "no json at all", response: "I cannot help with that."},
		{name: "truncated json", response: `{"strategy": "form_submit", "fields": [`},
		{name: "model error", response: "", err: errors.New("rate limited")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(tt.response, tt.err)
			if _, err := client.Resolve(context.Background(), analyzer.CompactView{}); err == nil {
				t.Error("Resolve() should have failed")
			}
		})
	}
}

func TestResolveSimple(t *testing.T) {
	client, stub := newTestClient(`{"method": "form_submit", "form_data": {"email": "user@example.com"}}`, nil)

	directive, err := client.ResolveSimple(context.Background(), "<form></form>")
	if err != nil {
		t.Fatalf("ResolveSimple() error: %v", err)
	}
	if directive.Method != "form_submit" {
		t.Errorf("method = %q, want form_submit", directive.Method)
	}
	if directive.FormData["email"] != "user@example.com" {
		t.Errorf("form_data = %v", directive.FormData)
	}
	if stub.prompt == "" {
		t.Error("prompt not sent")
	}
}

func TestExtractJSONBraceInString(t *testing.T) {
	got, err := extractJSON(`{"strategy": "button_click", "submit_selector": "button[data-x='{a}']"}`)
	if err != nil {
		t.Fatalf("extractJSON() error: %v", err)
	}
	var d Directive
	if err := json.Unmarshal([]byte(got), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.SubmitSelector != "button[data-x='{a}']" {
		t.Errorf("selector = %q", d.SubmitSelector)
	}
}
