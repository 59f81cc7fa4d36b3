package analyzer

import (
	"reflect"
	"testing"
)

const simpleFormPage = `<html><body>
<p>Enter your email to unsubscribe.</p>
<form action="/unsubscribe" method="POST">
  <input name="email" type="email" required placeholder="you@example.com">
  <button type="submit">Unsubscribe</button>
</form>
</body></html>`

func TestAnalyzeSimpleForm(t *testing.T) {
	analysis, err := Analyze(simpleFormPage)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}

	if len(analysis.Forms) != 1 {
		t.Fatalf("got %d forms, want 1", len(analysis.Forms))
	}

	form := analysis.Forms[0]
	if form.Method != "post" {
		t.Errorf("form method = %q, want %q", form.Method, "post")
	}
	if form.Action != "/unsubscribe" {
		t.Errorf("form action = %q, want %q", form.Action, "/unsubscribe")
	}
	if len(form.Fields) != 1 {
		t.Fatalf("got %d fields, want 1", len(form.Fields))
	}

	field := form.Fields[0]
	if field.Type != "email" {
		t.Errorf("field type = %q, want %q", field.Type, "email")
	}
	if !field.Required {
		t.Error("field should be required")
	}
	if field.Selector != "input[name='email'][type='email']" {
		t.Errorf("field selector = %q, want %q", field.Selector, "input[name='email'][type='email']")
	}

	if len(form.SubmitButtons) != 1 {
		t.Fatalf("got %d submit buttons, want 1", len(form.SubmitButtons))
	}
	if !form.SubmitButtons[0].IsUnsubscribe {
		t.Error("submit button labeled Unsubscribe should be flagged")
	}
}

func TestAnalyzeSelectorPriority(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "id wins",
			html:     `<form><input id="em" name="email" type="email"></form>`,
			expected: "#em",
		},
		{
			name:     "name and type",
			html:     `<form><input name="email" type="email"></form>`,
			expected: "input[name='email'][type='email']",
		},
		{
			name:     "name only",
			html:     `<form><input name="email"></form>`,
			expected: "input[name='email']",
		},
		{
			name:     "type only",
			html:     `<form><input type="text"></form>`,
			expected: "input[type='text']",
		},
		{
			name:     "bare tag",
			html:     `<form><textarea></textarea></form>`,
			expected: "textarea",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis, err := Analyze(tt.html)
			if err != nil {
				t.Fatalf("Analyze() error: %v", err)
			}
			if len(analysis.Forms) != 1 || len(analysis.Forms[0].Fields) != 1 {
				t.Fatalf("expected one form with one field, got %+v", analysis.Forms)
			}
			if got := analysis.Forms[0].Fields[0].Selector; got != tt.expected {
				t.Errorf("selector = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAnalyzeLinkFiltering(t *testing.T) {
	html := `<html><body>
	<a href="/unsubscribe?id=1">Click here</a>
	<a href="/about">About us</a>
	<a href="/x">Opt Out</a>
	<a class="manage-preference-link" href="/p">here</a>
	</body></html>`

	analysis, err := Analyze(html)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if len(analysis.Links) != 3 {
		t.Fatalf("got %d links, want 3: %+v", len(analysis.Links), analysis.Links)
	}
	for _, link := range analysis.Links {
		if link.Href == "/about" {
			t.Errorf("non-unsubscribe link retained: %+v", link)
		}
	}
}

func TestAnalyzeSelectOptions(t *testing.T) {
	html := `<form>
	<select name="reason">
	  <option value="too_many">Too many emails</option>
	  <option value="not_interested">No longer interested</option>
	</select>
	</form>`

	analysis, err := Analyze(html)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	field := analysis.Forms[0].Fields[0]
	if field.Element != "select" {
		t.Fatalf("field element = %q, want select", field.Element)
	}
	want := []string{"too_many", "not_interested"}
	if !reflect.DeepEqual(field.Options, want) {
		t.Errorf("options = %v, want %v", field.Options, want)
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	first, err := Analyze(simpleFormPage)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	second, err := Analyze(simpleFormPage)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated analysis of identical HTML differs")
	}
}

func TestAnalyzePageText(t *testing.T) {
	analysis, err := Analyze(simpleFormPage)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if analysis.PageText == "" {
		t.Fatal("page text not captured")
	}
	if len(analysis.PageText) > pageTextLimit {
		t.Errorf("page text length %d exceeds limit %d", len(analysis.PageText), pageTextLimit)
	}
}

func TestSimplify(t *testing.T) {
	analysis, err := Analyze(simpleFormPage)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	view := Simplify(analysis)
	if len(view.Forms) != 1 {
		t.Fatalf("got %d compact forms, want 1", len(view.Forms))
	}
	if len(view.Forms[0].Fields) != 1 {
		t.Fatalf("got %d compact fields, want 1", len(view.Forms[0].Fields))
	}
	if view.Forms[0].Fields[0].Selector == "" {
		t.Error("compact field missing selector")
	}
}
