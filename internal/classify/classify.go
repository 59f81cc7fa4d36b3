// Package classify asks the AI backend to categorize and summarize ingested
// messages. Classification is advisory: failure never blocks ingestion.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mailsweep/mailsweep/internal/ai"
)

// Valid message categories
const (
	CategoryPromotions  = "promotions"
	CategoryNewsletters = "newsletters"
	CategorySocial      = "social"
	CategoryUpdates     = "updates"
	CategoryForums      = "forums"
	CategoryOther       = "other"
)

var validCategories = map[string]bool{
	CategoryPromotions:  true,
	CategoryNewsletters: true,
	CategorySocial:      true,
	CategoryUpdates:     true,
	CategoryForums:      true,
	CategoryOther:       true,
}

// Result is the classification of one message
type Result struct {
	Category string `json:"category"`
	Summary  string `json:"summary"`
}

type Classifier struct {
	completer ai.Completer
	logger    zerolog.Logger
}

func NewClassifier(completer ai.Completer, logger zerolog.Logger) *Classifier {
	return &Classifier{completer: completer, logger: logger}
}

const promptHeader = `Classify this email. Respond with ONLY a JSON object, no other text:
{"category": "<one of: promotions, newsletters, social, updates, forums, other>", "summary": "<one short line describing the email>"}

Email:
`

const bodyLimit = 2000

// Classify categorizes one message from its sender, subject and body text.
func (c *Classifier) Classify(ctx context.Context, sender, subject, body string) (*Result, error) {
	if len(body) > bodyLimit {
		body = body[:bodyLimit]
	}

	prompt := fmt.Sprintf("%sFrom: %s\nSubject: %s\n\n%s", promptHeader, sender, subject, body)

	raw, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}

	return parseResult(raw)
}

func parseResult(raw string) (*Result, error) {
	jsonText, err := ai.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("no JSON in classification response: %w", err)
	}

	var r Result
	if err := json.Unmarshal([]byte(jsonText), &r); err != nil {
		return nil, fmt.Errorf("failed to parse classification: %w", err)
	}

	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	if !validCategories[r.Category] {
		r.Category = CategoryOther
	}
	r.Summary = strings.TrimSpace(r.Summary)

	return &r, nil
}
