package inbox

import "testing"

func TestParseListUnsubscribe(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{
			name:   "https only",
			header: "<https://example.com/unsub?t=abc>",
			want:   "https://example.com/unsub?t=abc",
		},
		{
			name:   "mailto only",
			header: "<mailto:unsub@example.com>",
			want:   "mailto:unsub@example.com",
		},
		{
			name:   "https preferred over mailto",
			header: "<mailto:unsub@example.com>, <https://example.com/unsub?t=abc>",
			want:   "https://example.com/unsub?t=abc",
		},
		{
			name:   "https preferred regardless of order",
			header: "<https://example.com/unsub>, <mailto:unsub@example.com>",
			want:   "https://example.com/unsub",
		},
		{
			name:   "empty header",
			header: "",
			want:   "",
		},
		{
			name:   "garbage entry skipped",
			header: "<tel:+15551234>, <mailto:unsub@example.com>",
			want:   "mailto:unsub@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseListUnsubscribe(tt.header); got != tt.want {
				t.Errorf("parseListUnsubscribe(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestExtractUnsubscribeLinkHeaderWins(t *testing.T) {
	html := `<a href="https://other.example.com/unsubscribe">Unsubscribe</a>`
	got := ExtractUnsubscribeLink("<https://example.com/unsub>", html, "")
	if got != "https://example.com/unsub" {
		t.Errorf("got %q, want the header target", got)
	}
}

func TestScanHTMLLinks(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "unsubscribe href",
			html: `<a href="https://example.com/unsubscribe?u=1">click</a>`,
			want: "https://example.com/unsubscribe?u=1",
		},
		{
			name: "unsubscribe anchor text",
			html: `<a href="https://example.com/p/xyz123">Unsubscribe here</a>`,
			want: "https://example.com/p/xyz123",
		},
		{
			name: "tracking pixel excluded",
			html: `<a href="https://example.com/track/unsubscribe"><img src="x"></a>
				<a href="https://example.com/unsubscribe">Unsubscribe</a>`,
			want: "https://example.com/unsubscribe",
		},
		{
			name: "ordinary links ignored",
			html: `<a href="https://example.com/shop">Shop now</a>
				<a href="https://example.com/blog">Blog</a>`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scanHTMLLinks(tt.html); got != tt.want {
				t.Errorf("scanHTMLLinks = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScanTextLinks(t *testing.T) {
	text := "To stop receiving these emails visit https://example.com/unsubscribe?u=9 today."
	if got := scanTextLinks(text); got != "https://example.com/unsubscribe?u=9" {
		t.Errorf("scanTextLinks = %q", got)
	}

	if got := scanTextLinks("read more at https://example.com/blog"); got != "" {
		t.Errorf("scanTextLinks matched a non-unsubscribe link: %q", got)
	}
}
