// Package browser provides headless Chrome automation for unsubscribe pages
// that need real interaction.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// ErrSessionStart marks a browser that could not be launched. It is
// recoverable: callers fall back to non-browser strategies.
var ErrSessionStart = errors.New("browser session start failed")

// Browser sessions are memory-heavy, so at most one runs at a time across
// the whole process. All other work uses the larger worker pool.
var sessionSlot = make(chan struct{}, 1)

var inFlight atomic.Int32

// InFlightSessions returns the number of currently open sessions.
func InFlightSessions() int { return int(inFlight.Load()) }

// Config holds browser automation settings
type Config struct {
	Headless      bool
	Timeout       time.Duration
	ScreenshotDir string
	UserAgent     string
	WindowWidth   int
	WindowHeight  int
}

// DefaultConfig returns sensible default browser settings
func DefaultConfig() Config {
	return Config{
		Headless:     true,
		Timeout:      60 * time.Second,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		WindowWidth:  1920,
		WindowHeight: 1080,
	}
}

// Session is one live browser instance. It is only valid inside the
// WithSession callback that created it.
type Session struct {
	ctx    context.Context
	cfg    Config
	logger zerolog.Logger
}

// WithSession acquires the global session slot, launches a browser, runs fn,
// and tears everything down on every exit path, including a panic inside fn.
func WithSession(ctx context.Context, cfg Config, logger zerolog.Logger, fn func(*Session) error) (err error) {
	select {
	case sessionSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sessionSlot }()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	// Running page.Enable forces the browser to actually launch, so a
	// missing Chrome binary surfaces here rather than mid-automation.
	if startErr := chromedp.Run(browserCtx, page.Enable()); startErr != nil {
		return fmt.Errorf("%w: %v", ErrSessionStart, startErr)
	}

	inFlight.Add(1)
	defer inFlight.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("browser session panicked")
			err = fmt.Errorf("browser session panic: %v", r)
		}
	}()

	return fn(&Session{ctx: browserCtx, cfg: cfg, logger: logger})
}

// Navigate loads url and waits for the document body plus a short settle
// delay for dynamic content.
func (s *Session) Navigate(url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(500*time.Millisecond),
	); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// PageText returns the page's visible text.
func (s *Session) PageText() (string, error) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	var text string
	if err := chromedp.Run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text)); err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return text, nil
}

// PageHTML returns the current page HTML.
func (s *Session) PageHTML() (string, error) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

var (
	nameAttrRe        = regexp.MustCompile(`name=['"]?([^'"\]]+)`)
	idAttrRe          = regexp.MustCompile(`id=['"]?([^'"\]]+)`)
	placeholderAttrRe = regexp.MustCompile(`placeholder=['"]?([^'"\]]+)`)
)

// FillField fills a text input. The provided selector is tried first; if it
// matches nothing, progressively looser selectors derived from its name, id
// and placeholder attributes are tried in that order.
func (s *Session) FillField(selector, value string) error {
	for _, sel := range fieldSelectorFallbacks(selector) {
		if s.fillSelector(sel, value) {
			return nil
		}
	}
	return fmt.Errorf("no fillable element for %q", selector)
}

func fieldSelectorFallbacks(selector string) []string {
	fallbacks := []string{selector}
	if m := nameAttrRe.FindStringSubmatch(selector); m != nil {
		fallbacks = append(fallbacks, fmt.Sprintf("[name='%s']", m[1]))
	}
	if strings.HasPrefix(selector, "#") {
		fallbacks = append(fallbacks, fmt.Sprintf("[id='%s']", strings.TrimPrefix(selector, "#")))
	} else if m := idAttrRe.FindStringSubmatch(selector); m != nil {
		fallbacks = append(fallbacks, "#"+m[1])
	}
	if m := placeholderAttrRe.FindStringSubmatch(selector); m != nil {
		fallbacks = append(fallbacks, fmt.Sprintf("[placeholder='%s']", m[1]))
	}
	return fallbacks
}

func (s *Session) fillSelector(selector, value string) bool {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	var exists bool
	err := chromedp.Run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`(function() {
			var el = document.querySelector("%s");
			return el !== null && el.offsetParent !== null;
		})()`, escapeSelector(selector)),
		&exists,
	))
	if err != nil || !exists {
		return false
	}

	err = chromedp.Run(ctx,
		chromedp.Clear(selector),
		chromedp.SendKeys(selector, value),
	)
	return err == nil
}

// SelectOption sets a dropdown's value by option value or visible text. The
// value is assigned directly and a change event is dispatched, since many
// frameworks only react to change, not to direct mutation.
func (s *Session) SelectOption(selector, value string) error {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	js := fmt.Sprintf(`(function() {
		var select = document.querySelector("%s");
		if (!select) return false;

		var value = "%s".toLowerCase();
		for (var i = 0; i < select.options.length; i++) {
			var opt = select.options[i];
			if (opt.value.toLowerCase() === value ||
				opt.text.toLowerCase() === value ||
				opt.value.toLowerCase().includes(value) ||
				opt.text.toLowerCase().includes(value)) {
				select.value = opt.value;
				select.dispatchEvent(new Event('change', { bubbles: true }));
				return true;
			}
		}
		return false;
	})()`, escapeSelector(selector), escapeJSString(value))

	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("select option: %w", err)
	}
	if !ok {
		return fmt.Errorf("no matching option for %q in %q", value, selector)
	}
	return nil
}

// SetCheckbox sets a checkbox's checked state, dispatching a change event.
func (s *Session) SetCheckbox(selector string, checked bool) error {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	js := fmt.Sprintf(`(function() {
		var el = document.querySelector("%s");
		if (!el || el.type !== 'checkbox') return false;
		if (el.checked !== %t) {
			el.checked = %t;
			el.dispatchEvent(new Event('change', { bubbles: true }));
		}
		return true;
	})()`, escapeSelector(selector), checked, checked)

	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("set checkbox: %w", err)
	}
	if !ok {
		return fmt.Errorf("no checkbox at %q", selector)
	}
	return nil
}

// Click clicks the element at selector. Falls back to matching a link or
// button by visible text, then to a raw DOM click.
func (s *Session) Click(selector string) error {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Click(selector, chromedp.NodeVisible)); err == nil {
		return nil
	}

	// The selector may actually be link text rather than a valid selector
	byText := fmt.Sprintf(`(function() {
		var wanted = "%s".toLowerCase();
		var els = document.querySelectorAll('a, button');
		for (var i = 0; i < els.length; i++) {
			var el = els[i];
			if (el.offsetParent !== null && el.textContent.trim().toLowerCase().includes(wanted)) {
				el.click();
				return true;
			}
		}
		return false;
	})()`, escapeJSString(selector))

	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(byText, &ok)); err == nil && ok {
		return nil
	}

	raw := fmt.Sprintf(`(function() {
		var el = document.querySelector("%s");
		if (!el) return false;
		el.click();
		return true;
	})()`, escapeSelector(selector))

	if err := chromedp.Run(ctx, chromedp.Evaluate(raw, &ok)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("no clickable element at %q", selector)
	}
	return nil
}

// SubmitForm submits the form at formIndex. It prefers clicking a submit
// control (submitSelector first, then any submit-typed control inside the
// form); when none is clickable it invokes the form's native submit.
func (s *Session) SubmitForm(formIndex int, submitSelector string) error {
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()

	if submitSelector != "" {
		if err := chromedp.Run(ctx, chromedp.Click(submitSelector, chromedp.NodeVisible)); err == nil {
			return nil
		}
	}

	js := fmt.Sprintf(`(function() {
		var form = document.forms[%d];
		if (!form) return false;
		var btn = form.querySelector("button[type='submit'], input[type='submit'], button:not([type])");
		if (btn) {
			btn.click();
			return true;
		}
		if (form.requestSubmit) {
			form.requestSubmit();
		} else {
			form.submit();
		}
		return true;
	})()`, formIndex)

	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("submit form %d: %w", formIndex, err)
	}
	if !ok {
		return fmt.Errorf("no form at index %d", formIndex)
	}
	return nil
}

// Settle waits the fixed post-action period for navigation or XHR to finish.
func (s *Session) Settle() {
	select {
	case <-s.ctx.Done():
	case <-time.After(2 * time.Second):
	}
}

// Screenshot captures the page for diagnostics. Best effort: every failure
// is swallowed and an empty path returned.
func (s *Session) Screenshot(label string) string {
	if s.cfg.ScreenshotDir == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		s.logger.Debug().Err(err).Msg("screenshot capture failed")
		return ""
	}
	if err := os.MkdirAll(s.cfg.ScreenshotDir, 0755); err != nil {
		return ""
	}

	path := filepath.Join(s.cfg.ScreenshotDir, fmt.Sprintf("%s_%d.png", label, time.Now().Unix()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return ""
	}
	return path
}

// escapeSelector escapes special characters in CSS selectors for JS strings
func escapeSelector(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func escapeJSString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
