package inbox

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link keywords, scored. Strong ones clearly mean unsubscribe; weak ones
// only count when a strong signal is already present.
var (
	strongLinkPatterns = []string{
		"unsubscribe", "opt-out", "optout", "opt_out",
		"email-preferences", "email_preferences",
		"manage-preferences", "manage_preferences",
		"/unsub", "list-unsubscribe",
	}

	weakLinkPatterns = []string{
		"preferences", "remove", "stop",
	}

	linkTextPatterns = []string{
		"unsubscribe", "opt out", "opt-out", "stop receiving",
		"manage preferences", "email preferences", "remove me",
	}

	trackingPatterns = []string{
		"track", "pixel", "beacon",
		"open.gif", "spacer.gif", "1x1",
	}

	urlRegex = regexp.MustCompile(`https?://[^\s<>"']+`)
)

// ExtractUnsubscribeLink returns the best unsubscribe target for a message.
// The List-Unsubscribe header wins when present, with https entries preferred
// over mailto; otherwise the bodies are scanned for unsubscribe-looking links.
func ExtractUnsubscribeLink(listUnsubHeader, htmlBody, textBody string) string {
	if target := parseListUnsubscribe(listUnsubHeader); target != "" {
		return target
	}
	if target := scanHTMLLinks(htmlBody); target != "" {
		return target
	}
	return scanTextLinks(textBody)
}

// parseListUnsubscribe handles the RFC 2369 header format: comma-separated
// angle-bracketed URIs, e.g. <mailto:u@x.com>, <https://x.com/unsub?t=1>.
func parseListUnsubscribe(header string) string {
	if header == "" {
		return ""
	}

	var httpTarget, mailtoTarget string
	for _, entry := range strings.Split(header, ",") {
		entry = strings.TrimSpace(entry)
		entry = strings.TrimPrefix(entry, "<")
		entry = strings.TrimSuffix(entry, ">")
		if entry == "" {
			continue
		}

		lower := strings.ToLower(entry)
		switch {
		case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
			if httpTarget == "" {
				httpTarget = entry
			}
		case strings.HasPrefix(lower, "mailto:"):
			if mailtoTarget == "" {
				mailtoTarget = entry
			}
		}
	}

	if httpTarget != "" {
		return httpTarget
	}
	return mailtoTarget
}

// scanHTMLLinks scores every anchor in the HTML body and returns the best
// unsubscribe candidate.
func scanHTMLLinks(html string) string {
	if html == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return scanTextLinks(html)
	}

	best := ""
	bestScore := 0

	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = cleanURL(href)
		if href == "" || isTrackingURL(href) {
			return
		}

		score := scoreLink(strings.ToLower(href), strings.ToLower(strings.TrimSpace(sel.Text())))
		if score > bestScore {
			best = href
			bestScore = score
		}
	})

	return best
}

// scanTextLinks finds unsubscribe-looking URLs in plain text.
func scanTextLinks(text string) string {
	if text == "" {
		return ""
	}

	for _, raw := range urlRegex.FindAllString(text, -1) {
		u := cleanURL(raw)
		if u == "" || isTrackingURL(u) {
			continue
		}
		if scoreLink(strings.ToLower(u), "") > 0 {
			return u
		}
	}
	return ""
}

func scoreLink(lowerURL, lowerText string) int {
	score := 0
	for _, pattern := range strongLinkPatterns {
		if strings.Contains(lowerURL, pattern) {
			score += 10
		}
	}
	for _, pattern := range linkTextPatterns {
		if lowerText != "" && strings.Contains(lowerText, pattern) {
			score += 10
		}
	}
	if score > 0 {
		for _, pattern := range weakLinkPatterns {
			if strings.Contains(lowerURL, pattern) {
				score += 2
			}
		}
	}
	return score
}

// cleanURL normalizes and validates a URL
func cleanURL(rawURL string) string {
	rawURL = strings.TrimRight(rawURL, ".,;:!?)")

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	if parsed.Host == "" {
		return ""
	}
	return parsed.String()
}

// isTrackingURL filters out tracking pixels and beacons
func isTrackingURL(u string) bool {
	lower := strings.ToLower(u)
	for _, pattern := range trackingPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	if strings.HasSuffix(lower, ".gif") {
		return true
	}
	return false
}
