// Package analyzer parses unsubscribe pages into a structured description of
// their forms, fields, buttons and candidate links.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Keywords that mark a button or link as unsubscribe-related
var unsubscribeKeywords = []string{
	"unsubscribe",
	"opt out",
	"opt-out",
	"remove",
	"stop email",
	"manage preference",
	"email preference",
}

const pageTextLimit = 500

// PageAnalysis is the structured view of one fetched page. It lives for a
// single attempt and is never persisted.
type PageAnalysis struct {
	Forms    []Form
	Buttons  []Button
	Links    []Link
	PageText string
}

type Form struct {
	Index         int
	Action        string
	Method        string
	Fields        []Field
	SubmitButtons []Button
}

type Field struct {
	Element     string // input, select, textarea
	Type        string
	Name        string
	ID          string
	Selector    string
	Required    bool
	Placeholder string
	Options     []string // select options
}

type Button struct {
	Element       string
	Type          string
	Text          string
	ID            string
	Selector      string
	IsUnsubscribe bool
}

type Link struct {
	Href string
	Text string
}

// Analyze parses html and extracts every form with its fields and submit
// controls, all document-level buttons, and the links that look like
// unsubscribe candidates.
func Analyze(html string) (*PageAnalysis, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	analysis := &PageAnalysis{}

	doc.Find("form").Each(func(i int, form *goquery.Selection) {
		analysis.Forms = append(analysis.Forms, parseForm(i, form))
	})

	doc.Find("button, input[type='submit'], input[type='button']").Each(func(_ int, sel *goquery.Selection) {
		analysis.Buttons = append(analysis.Buttons, parseButton(sel))
	})

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		text := strings.TrimSpace(sel.Text())
		if isUnsubscribeText(text) || isUnsubscribeText(href) ||
			isUnsubscribeText(sel.AttrOr("class", "")) || isUnsubscribeText(sel.AttrOr("id", "")) {
			analysis.Links = append(analysis.Links, Link{Href: href, Text: text})
		}
	})

	analysis.PageText = visibleText(doc, pageTextLimit)

	if len(analysis.Forms) == 0 && len(analysis.Buttons) == 0 && len(analysis.Links) == 0 && analysis.PageText == "" {
		return nil, fmt.Errorf("page has no actionable content")
	}

	return analysis, nil
}

func parseForm(index int, form *goquery.Selection) Form {
	f := Form{
		Index:  index,
		Action: form.AttrOr("action", ""),
		Method: strings.ToLower(form.AttrOr("method", "post")),
	}
	if f.Method == "" {
		f.Method = "post"
	}

	form.Find("input, select, textarea").Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)
		typ := sel.AttrOr("type", "")

		// Submit controls belong to the submit list, not the field list
		if tag == "input" && (typ == "submit" || typ == "button") {
			f.SubmitButtons = append(f.SubmitButtons, parseButton(sel))
			return
		}

		field := Field{
			Element:     tag,
			Type:        typ,
			Name:        sel.AttrOr("name", ""),
			ID:          sel.AttrOr("id", ""),
			Placeholder: sel.AttrOr("placeholder", ""),
		}
		_, field.Required = sel.Attr("required")
		field.Selector = synthesizeSelector(tag, field.ID, field.Name, typ)

		if tag == "select" {
			sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
				if v, ok := opt.Attr("value"); ok && v != "" {
					field.Options = append(field.Options, v)
				} else if text := strings.TrimSpace(opt.Text()); text != "" {
					field.Options = append(field.Options, text)
				}
			})
		}

		f.Fields = append(f.Fields, field)
	})

	form.Find("button").Each(func(_ int, sel *goquery.Selection) {
		f.SubmitButtons = append(f.SubmitButtons, parseButton(sel))
	})

	return f
}

func parseButton(sel *goquery.Selection) Button {
	tag := goquery.NodeName(sel)
	b := Button{
		Element: tag,
		Type:    sel.AttrOr("type", ""),
		ID:      sel.AttrOr("id", ""),
	}
	if tag == "input" {
		b.Text = sel.AttrOr("value", "")
	} else {
		b.Text = strings.TrimSpace(sel.Text())
	}
	b.Selector = synthesizeSelector(tag, b.ID, sel.AttrOr("name", ""), b.Type)
	b.IsUnsubscribe = isUnsubscribeText(b.Text) ||
		isUnsubscribeText(sel.AttrOr("class", "")) ||
		isUnsubscribeText(b.ID)
	return b
}

// synthesizeSelector builds a CSS selector for an element, most specific
// attribute combination first.
func synthesizeSelector(tag, id, name, typ string) string {
	switch {
	case id != "":
		return "#" + id
	case name != "" && typ != "":
		return fmt.Sprintf("%s[name='%s'][type='%s']", tag, name, typ)
	case name != "":
		return fmt.Sprintf("%s[name='%s']", tag, name)
	case typ != "":
		return fmt.Sprintf("%s[type='%s']", tag, typ)
	default:
		return tag
	}
}

func isUnsubscribeText(s string) bool {
	if s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, kw := range unsubscribeKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// visibleText returns up to limit characters of the page's visible body text
// with scripts and styles excluded and whitespace collapsed.
func visibleText(doc *goquery.Document, limit int) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	clone := body.Clone()
	clone.Find("script, style, noscript").Remove()

	text := strings.Join(strings.Fields(clone.Text()), " ")
	if len(text) > limit {
		text = text[:limit]
	}
	return text
}
