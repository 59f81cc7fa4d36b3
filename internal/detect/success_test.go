package detect

import "testing"

func TestLooksLikeSuccess(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{
			name:     "plain unsubscribed",
			text:     "Thanks, you're unsubscribed!",
			expected: true,
		},
		{
			name:     "uppercase",
			text:     "You have been UNSUBSCRIBED from this list",
			expected: true,
		},
		{
			name:     "successfully removed",
			text:     "Your address was successfully removed.",
			expected: true,
		},
		{
			name:     "will no longer receive",
			text:     "You will no longer receive marketing messages from us.",
			expected: true,
		},
		{
			name:     "preference updated with gap",
			text:     "Your email preference has been updated",
			expected: true,
		},
		{
			name:     "you have been removed",
			text:     "you have been removed from our mailing list",
			expected: true,
		},
		{
			name:     "email removed with gap",
			text:     "The email address was removed from all lists",
			expected: true,
		},
		{
			name:     "unrelated page",
			text:     "Welcome to our newsletter! Sign up below.",
			expected: false,
		},
		{
			name:     "error page",
			text:     "Something went wrong. Please try again later.",
			expected: false,
		},
		{
			name:     "empty input",
			text:     "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeSuccess(tt.text); got != tt.expected {
				t.Errorf("LooksLikeSuccess(%q) = %v, want %v", tt.text, got, tt.expected)
			}
		})
	}
}
