package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mailsweep/mailsweep/internal/analyzer"
)

// Directive strategies
const (
	StrategyFormSubmit  = "form_submit"
	StrategyButtonClick = "button_click"
	StrategyLinkClick   = "link_click"
	StrategyUnknown     = "unknown"
)

// Directive is the machine-actionable instruction set parsed from a model
// response. strategy "unknown" means no further automation is attempted.
type Directive struct {
	Strategy       string          `json:"strategy"`
	FormIndex      *int            `json:"form_index,omitempty"`
	Fields         []FieldValue    `json:"fields,omitempty"`
	Selects        []FieldValue    `json:"selects,omitempty"`
	Checkboxes     []CheckboxState `json:"checkboxes,omitempty"`
	SubmitSelector string          `json:"submit_selector,omitempty"`
	Confidence     string          `json:"confidence,omitempty"` // high, medium, low
}

type FieldValue struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type CheckboxState struct {
	Selector string `json:"selector"`
	Checked  bool   `json:"checked"`
}

// SimpleDirective is the terser legacy shape used for the plain form-POST
// fallback when browser automation is unavailable.
type SimpleDirective struct {
	Method   string            `json:"method"` // form_submit, button_click, unknown
	FormData map[string]string `json:"form_data,omitempty"`
}

// DirectiveClient asks the reasoning model how to unsubscribe from a given
// page. All responses are treated as untrusted text and parsed defensively.
type DirectiveClient struct {
	completer Completer
	logger    zerolog.Logger
}

func NewDirectiveClient(completer Completer, logger zerolog.Logger) *DirectiveClient {
	return &DirectiveClient{completer: completer, logger: logger}
}

const directivePromptHeader = `You are helping automate an email unsubscribe page. Below is a structured description of the page's forms, buttons and links.

Respond with ONLY a JSON object, no prose, matching:
{
  "strategy": "form_submit" | "button_click" | "link_click" | "unknown",
  "form_index": <int, when strategy is form_submit>,
  "fields": [{"selector": "...", "value": "..."}],
  "selects": [{"selector": "...", "value": "..."}],
  "checkboxes": [{"selector": "...", "checked": true}],
  "submit_selector": "...",
  "confidence": "high" | "medium" | "low"
}

Rules:
- For email fields use the placeholder address user@example.com.
- If a reason dropdown exists, prefer an option like "no longer interested".
- Check any confirmation checkboxes required to unsubscribe.
- Set confidence by how clear the unsubscribe path is.
- If no automated path exists, use strategy "unknown".

Page:
`

// Resolve sends the compact page view to the model and parses the returned
// directive. A response that cannot be parsed, or that is missing the
// strategy field, is an error.
func (c *DirectiveClient) Resolve(ctx context.Context, view analyzer.CompactView) (*Directive, error) {
	pageJSON, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("marshal page view: %w", err)
	}

	raw, err := c.completer.Complete(ctx, directivePromptHeader+string(pageJSON))
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	jsonStr, err := extractJSON(raw)
	if err != nil {
		c.logger.Warn().Str("raw", truncate(raw, 300)).Msg("model response had no JSON object")
		return nil, fmt.Errorf("no JSON in model response: %w", err)
	}

	var directive Directive
	if err := json.Unmarshal([]byte(jsonStr), &directive); err != nil {
		return nil, fmt.Errorf("parse directive: %w", err)
	}
	if directive.Strategy == "" {
		return nil, fmt.Errorf("directive missing strategy")
	}
	switch directive.Strategy {
	case StrategyFormSubmit, StrategyButtonClick, StrategyLinkClick, StrategyUnknown:
	default:
		return nil, fmt.Errorf("unrecognized strategy %q", directive.Strategy)
	}
	return &directive, nil
}

const simplePromptHeader = `This HTML is an email unsubscribe page. Decide how to complete the unsubscribe with a single HTTP request.

Respond with ONLY a JSON object:
{"method": "form_submit" | "button_click" | "unknown", "form_data": {"field_name": "value"}}

Use user@example.com for any email field. If the page cannot be completed this way, use method "unknown".

HTML:
`

// ResolveSimple asks for the legacy {method, form_data} directive over raw
// HTML, for the plain form-POST fallback.
func (c *DirectiveClient) ResolveSimple(ctx context.Context, html string) (*SimpleDirective, error) {
	raw, err := c.completer.Complete(ctx, simplePromptHeader+html)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	jsonStr, err := extractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("no JSON in model response: %w", err)
	}

	var directive SimpleDirective
	if err := json.Unmarshal([]byte(jsonStr), &directive); err != nil {
		return nil, fmt.Errorf("parse directive: %w", err)
	}
	if directive.Method == "" {
		return nil, fmt.Errorf("directive missing method")
	}
	return &directive, nil
}

// ExtractJSON pulls the first balanced top-level JSON object out of model
// output, tolerating markdown code fences and surrounding prose.
func ExtractJSON(text string) (string, error) {
	return extractJSON(text)
}

func extractJSON(text string) (string, error) {
	text = stripCodeFences(text)

	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("json object not found")
}

func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx != -1 {
			text = text[idx+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
