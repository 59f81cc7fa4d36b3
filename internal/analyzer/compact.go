package analyzer

// CompactView is the minimal page description sent to the reasoning model.
// Full attribute data stays local; the prompt only needs enough to pick
// selectors and values.
type CompactView struct {
	Forms    []CompactForm   `json:"forms,omitempty"`
	Buttons  []CompactButton `json:"buttons,omitempty"`
	Links    []CompactLink   `json:"links,omitempty"`
	PageText string          `json:"page_text,omitempty"`
}

type CompactForm struct {
	Index   int             `json:"index"`
	Action  string          `json:"action,omitempty"`
	Method  string          `json:"method"`
	Fields  []CompactField  `json:"fields,omitempty"`
	Submits []CompactButton `json:"submit_buttons,omitempty"`
}

type CompactField struct {
	Selector    string   `json:"selector"`
	Type        string   `json:"type,omitempty"`
	Name        string   `json:"name,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Options     []string `json:"options,omitempty"`
}

type CompactButton struct {
	Selector      string `json:"selector"`
	Text          string `json:"text,omitempty"`
	IsUnsubscribe bool   `json:"is_unsubscribe,omitempty"`
}

type CompactLink struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// Simplify strips a PageAnalysis down to the prompt shape.
func Simplify(a *PageAnalysis) CompactView {
	view := CompactView{PageText: a.PageText}

	for _, form := range a.Forms {
		cf := CompactForm{Index: form.Index, Action: form.Action, Method: form.Method}
		for _, field := range form.Fields {
			cf.Fields = append(cf.Fields, CompactField{
				Selector:    field.Selector,
				Type:        field.Type,
				Name:        field.Name,
				Required:    field.Required,
				Placeholder: field.Placeholder,
				Options:     field.Options,
			})
		}
		for _, btn := range form.SubmitButtons {
			cf.Submits = append(cf.Submits, compactButton(btn))
		}
		view.Forms = append(view.Forms, cf)
	}

	for _, btn := range a.Buttons {
		view.Buttons = append(view.Buttons, compactButton(btn))
	}
	for _, link := range a.Links {
		view.Links = append(view.Links, CompactLink{Href: link.Href, Text: link.Text})
	}

	return view
}

func compactButton(b Button) CompactButton {
	return CompactButton{Selector: b.Selector, Text: b.Text, IsUnsubscribe: b.IsUnsubscribe}
}
