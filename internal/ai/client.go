// Package ai talks to the external reasoning model and turns its untrusted
// text output into machine-actionable unsubscribe directives.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultModel = "claude-sonnet-4-5-20250929"

	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
	maxTokens  = 1024

	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
	maxPromptSize  = 200000 // ~200KB limit for safety
)

// Completer is the single gateway to the reasoning backend: one prompt in,
// one text response out. Responses are untrusted text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

type anthropicClient struct {
	apiKey string
	model  string
	http   *http.Client
	logger zerolog.Logger
}

// Options configures the Anthropic-backed Completer.
type Options struct {
	APIKeyEnv string // env var holding the key (default ANTHROPIC_API_KEY)
	Model     string
	Timeout   time.Duration
	Logger    zerolog.Logger
}

// NewClient creates the default Anthropic messages-API Completer.
func NewClient(opts Options) (Completer, error) {
	env := opts.APIKeyEnv
	if env == "" {
		env = "ANTHROPIC_API_KEY"
	}
	key := strings.TrimSpace(os.Getenv(env))
	if key == "" {
		return nil, fmt.Errorf("missing %s", env)
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "\"'")
	if model == "" {
		model = defaultModel
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &anthropicClient{
		apiKey: key,
		model:  model,
		http:   &http.Client{Timeout: timeout},
		logger: opts.Logger,
	}, nil
}

func (c *anthropicClient) Name() string { return c.model }

func (c *anthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	if len(prompt) > maxPromptSize {
		c.logger.Warn().Int("size", len(prompt)).Msg("prompt too large, truncating")
		prompt = prompt[:maxPromptSize] + "... [truncated]"
	}

	payload := anthropicPayload{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicContent{{Type: "text", Text: prompt}},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("retrying model call")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, retriable, err := c.doRequest(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retriable {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *anthropicClient) doRequest(ctx context.Context, body []byte) (text string, retriable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("http request: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr anthropicError
		msg := string(data)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		if len(msg) > 500 {
			msg = msg[:500] + "..."
		}
		c.logger.Error().Int("status", resp.StatusCode).Str("error", msg).Msg("model API error")
		// Only rate limits and server errors are worth retrying
		retriable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retriable, fmt.Errorf("anthropic %d: %s", resp.StatusCode, msg)
	}

	var ar anthropicResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return "", false, fmt.Errorf("parse response: %w", err)
	}
	var buf bytes.Buffer
	for _, content := range ar.Content {
		if content.Type == "text" {
			buf.WriteString(content.Text)
		}
	}
	return buf.String(), false, nil
}

type anthropicPayload struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
