// Package unsubscribe implements the ordered strategy chain that takes an
// unsubscribe target from cheapest to most expensive method until one works.
package unsubscribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailsweep/mailsweep/internal/ai"
	"github.com/mailsweep/mailsweep/internal/analyzer"
	"github.com/mailsweep/mailsweep/internal/browser"
	"github.com/mailsweep/mailsweep/internal/detect"
	"github.com/mailsweep/mailsweep/internal/email"
)

// Method names recorded in the ledger
const (
	MethodMailto           = "mailto"
	MethodRedirect         = "redirect"
	MethodAPIJSON          = "api_json"
	MethodAPIJSONUncertain = "api_json_uncertain"
	MethodOneClick         = "one_click"
	MethodBrowserConfirmed = "browser_automation_confirmed"
	MethodBrowser          = "browser_automation"
	MethodFormConfirmed    = "form_submit_confirmed"
	MethodFormSubmit       = "form_submit"
)

// Failure reasons
const (
	ReasonNetworkError      = "network_error"
	ReasonServerError       = "server_error"
	ReasonClientError       = "client_error"
	ReasonUnknownStrategy   = "unknown_strategy"
	ReasonAIAnalysisFailed  = "ai_analysis_failed"
	ReasonFormParseFailed   = "form_parse_failed"
	ReasonRequiresBrowser   = "requires_browser"
	ReasonMethodUnknown     = "method_unknown"
	ReasonUnexpectedStatus  = "unexpected_response"
	ReasonFormSubmitFailed  = "form_submit_failed"
	ReasonSessionStart      = "session_start_failed"
	ReasonNavigationFailed  = "navigation_failed"
	ReasonMailtoFailed      = "mailto_failed"
	ReasonNoUnsubscribeLink = "no_unsubscribe_link"
)

// Outcome is the terminal result of one unsubscribe attempt
type Outcome struct {
	Success bool
	Method  string
	Detail  string
}

// Target identifies what to unsubscribe from
type Target struct {
	MessageID string
	URL       string
}

// Engine runs the fallback chain. It is stateless per attempt.
type Engine struct {
	client     *http.Client
	directives *ai.DirectiveClient
	sender     email.Sender // nil disables mailto: targets
	account    string       // the mailbox being swept, used as mailto From
	browserCfg browser.Config
	logger     zerolog.Logger
}

type Options struct {
	Directives   *ai.DirectiveClient
	Sender       email.Sender
	Account      string
	Browser      browser.Config
	FetchTimeout time.Duration
	Logger       zerolog.Logger
}

func NewEngine(opts Options) *Engine {
	timeout := opts.FetchTimeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}

	return &Engine{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		directives: opts.Directives,
		sender:     opts.Sender,
		account:    opts.Account,
		browserCfg: opts.Browser,
		logger:     opts.Logger,
	}
}

// Attempt runs the chain for one target and returns the terminal outcome.
func (e *Engine) Attempt(ctx context.Context, target Target) Outcome {
	if target.URL == "" {
		return Outcome{Success: false, Method: "", Detail: ReasonNoUnsubscribeLink}
	}

	if strings.HasPrefix(strings.ToLower(target.URL), "mailto:") {
		return e.attemptMailto(ctx, target.URL)
	}

	body, outcome, done := e.fetch(ctx, target.URL)
	if done {
		return outcome
	}

	if out, ok := e.tryJSON(body); ok {
		return out
	}

	if detect.LooksLikeSuccess(body) {
		return Outcome{Success: true, Method: MethodOneClick}
	}

	// Everything past here needs interpretation of the page
	reason := ReasonRequiresBrowser

	if captcha := browser.DetectCaptcha(body); captcha.Found {
		e.logger.Info().Str("url", target.URL).Str("type", captcha.Type).Msg("captcha on page, skipping browser")
	} else if out, fallReason, ok := e.tryBrowser(ctx, target.URL, body); ok {
		return out
	} else if fallReason != "" {
		reason = fallReason
	}

	return e.tryLegacyForm(ctx, target.URL, body, reason)
}

// attemptMailto sends the unsubscribe request by email. The subject comes
// from the mailto's ?subject= parameter, defaulting to "unsubscribe".
func (e *Engine) attemptMailto(ctx context.Context, target string) Outcome {
	if e.sender == nil {
		return Outcome{Success: false, Method: MethodMailto, Detail: ReasonMailtoFailed}
	}

	parsed, err := url.Parse(target)
	if err != nil || parsed.Opaque == "" {
		return Outcome{Success: false, Method: MethodMailto, Detail: ReasonMailtoFailed}
	}

	subject := parsed.Query().Get("subject")
	if subject == "" {
		subject = "unsubscribe"
	}

	result := e.sender.Send(ctx, email.Message{
		To:      parsed.Opaque,
		From:    e.account,
		Subject: subject,
		Body:    "Please remove this address from your mailing list.",
	})
	if !result.Success {
		e.logger.Warn().Err(result.Error).Str("to", parsed.Opaque).Msg("mailto unsubscribe failed")
		return Outcome{Success: false, Method: MethodMailto, Detail: ReasonMailtoFailed}
	}

	return Outcome{Success: true, Method: MethodMailto}
}

// fetch performs the initial GET. done is true when the chain terminates here.
func (e *Engine) fetch(ctx context.Context, target string) (body string, out Outcome, done bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", Outcome{Success: false, Method: "http", Detail: ReasonNetworkError}, true
	}
	setBrowserHeaders(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", Outcome{Success: false, Method: "http", Detail: ReasonNetworkError}, true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// Some providers unsubscribe on the GET and then redirect away.
		// A terminal redirect after the chain is treated as success.
		return "", Outcome{Success: true, Method: MethodRedirect}, true
	case resp.StatusCode >= 500:
		return "", Outcome{Success: false, Method: "http", Detail: ReasonServerError}, true
	case resp.StatusCode >= 400:
		return "", Outcome{Success: false, Method: "http", Detail: ReasonClientError}, true
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", Outcome{Success: false, Method: "http", Detail: ReasonNetworkError}, true
	}
	return string(raw), Outcome{}, false
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Connection", "keep-alive")
}

var affirmativeRe = regexp.MustCompile(`(?i)success|unsubscrib|removed`)

// jsonOutcomeKeys are the top-level keys scanned for an API result
var jsonOutcomeKeys = []string{"success", "status", "result", "message", "unsubscribed"}

// tryJSON handles API-style responses. ok is false when the body is not
// parseable JSON, in which case the chain continues treating it as HTML.
func (e *Engine) tryJSON(body string) (Outcome, bool) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return Outcome{}, false
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return Outcome{}, false
	}

	obj, isObj := parsed.(map[string]any)
	if !isObj {
		// Valid JSON without outcome keys: the endpoint accepted the
		// request, so call it success with lower confidence.
		return Outcome{Success: true, Method: MethodAPIJSONUncertain}, true
	}

	for _, key := range jsonOutcomeKeys {
		val, present := obj[key]
		if !present {
			continue
		}
		switch v := val.(type) {
		case bool:
			if v {
				return Outcome{Success: true, Method: MethodAPIJSON}, true
			}
		case string:
			if affirmativeRe.MatchString(v) || strings.EqualFold(v, "ok") || strings.EqualFold(v, "true") {
				return Outcome{Success: true, Method: MethodAPIJSON}, true
			}
		}
	}

	return Outcome{Success: true, Method: MethodAPIJSONUncertain}, true
}

// tryBrowser runs the AI-directed browser stage. ok means a terminal outcome
// was produced; otherwise fallReason carries the most specific failure for
// the legacy-form stage to inherit.
func (e *Engine) tryBrowser(ctx context.Context, target, html string) (out Outcome, fallReason string, ok bool) {
	if e.directives == nil {
		return Outcome{}, ReasonRequiresBrowser, false
	}

	page, err := analyzer.Analyze(html)
	if err != nil {
		return Outcome{}, ReasonFormParseFailed, false
	}

	directive, err := e.directives.Resolve(ctx, analyzer.Simplify(page))
	if err != nil {
		e.logger.Warn().Err(err).Str("url", target).Msg("directive resolution failed")
		return Outcome{}, ReasonAIAnalysisFailed, false
	}
	if directive.Strategy == ai.StrategyUnknown {
		return Outcome{}, ReasonUnknownStrategy, false
	}

	var result Outcome
	sessionErr := browser.WithSession(ctx, e.browserCfg, e.logger, func(s *browser.Session) error {
		if err := s.Navigate(target, e.browserCfg.Timeout); err != nil {
			return fmt.Errorf("%s: %w", ReasonNavigationFailed, err)
		}

		if err := e.dispatch(s, directive); err != nil {
			s.Screenshot("dispatch_failed")
			return err
		}

		s.Settle()

		text, err := s.PageText()
		if err == nil && detect.LooksLikeSuccess(text) {
			result = Outcome{Success: true, Method: MethodBrowserConfirmed}
		} else {
			// The actions all succeeded; without page confirmation the
			// result is still reported as success, less certainly.
			result = Outcome{Success: true, Method: MethodBrowser}
		}
		return nil
	})

	if sessionErr != nil {
		switch {
		case strings.Contains(sessionErr.Error(), ReasonNavigationFailed):
			return Outcome{}, ReasonNavigationFailed, false
		case errors.Is(sessionErr, browser.ErrSessionStart):
			return Outcome{}, ReasonSessionStart, false
		default:
			e.logger.Warn().Err(sessionErr).Str("url", target).Msg("browser automation failed")
			return Outcome{}, ReasonRequiresBrowser, false
		}
	}

	return result, "", true
}

// sessionDriver is the subset of browser session operations the engine
// drives. Satisfied by *browser.Session.
type sessionDriver interface {
	FillField(selector, value string) error
	SelectOption(selector, value string) error
	SetCheckbox(selector string, checked bool) error
	SubmitForm(formIndex int, submitSelector string) error
	Click(selector string) error
}

// dispatch executes one directive inside a live session.
func (e *Engine) dispatch(s sessionDriver, d *ai.Directive) error {
	switch d.Strategy {
	case ai.StrategyFormSubmit:
		for _, f := range d.Fields {
			if err := s.FillField(f.Selector, f.Value); err != nil {
				return fmt.Errorf("fill %s: %w", f.Selector, err)
			}
		}
		for _, sel := range d.Selects {
			if err := s.SelectOption(sel.Selector, sel.Value); err != nil {
				return fmt.Errorf("select %s: %w", sel.Selector, err)
			}
		}
		for _, cb := range d.Checkboxes {
			if err := s.SetCheckbox(cb.Selector, cb.Checked); err != nil {
				return fmt.Errorf("checkbox %s: %w", cb.Selector, err)
			}
		}
		formIndex := 0
		if d.FormIndex != nil {
			formIndex = *d.FormIndex
		}
		return s.SubmitForm(formIndex, d.SubmitSelector)

	case ai.StrategyButtonClick:
		selector := d.SubmitSelector
		if selector == "" {
			selector = "button"
		}
		return s.Click(selector)

	case ai.StrategyLinkClick:
		selector := d.SubmitSelector
		if selector == "" {
			selector = "a"
		}
		return s.Click(selector)
	}

	return fmt.Errorf("%s: %s", ReasonUnknownStrategy, d.Strategy)
}

// tryLegacyForm is the last resort: ask the AI for a single equivalent HTTP
// request and replay it without a browser.
func (e *Engine) tryLegacyForm(ctx context.Context, target, html, priorReason string) Outcome {
	if e.directives == nil {
		return Outcome{Success: false, Method: MethodFormSubmit, Detail: priorReason}
	}

	sd, err := e.directives.ResolveSimple(ctx, html)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", target).Msg("simple directive resolution failed")
		return Outcome{Success: false, Method: MethodFormSubmit, Detail: priorReason}
	}

	if !strings.EqualFold(sd.Method, ai.StrategyFormSubmit) {
		return Outcome{Success: false, Method: MethodFormSubmit, Detail: ReasonMethodUnknown}
	}

	form := url.Values{}
	for k, v := range sd.FormData {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return Outcome{Success: false, Method: MethodFormSubmit, Detail: ReasonFormSubmitFailed}
	}
	setBrowserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.client.Do(req)
	if err != nil {
		return Outcome{Success: false, Method: MethodFormSubmit, Detail: ReasonFormSubmitFailed}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{Success: false, Method: MethodFormSubmit, Detail: ReasonFormSubmitFailed}
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if detect.LooksLikeSuccess(string(raw)) {
		return Outcome{Success: true, Method: MethodFormConfirmed}
	}
	return Outcome{Success: true, Method: MethodFormSubmit}
}

// IsRetryable reports whether a failure reason is transport-flavored and
// worth another attempt.
func IsRetryable(detail string) bool {
	return detail == ReasonNetworkError || detail == ReasonServerError
}
