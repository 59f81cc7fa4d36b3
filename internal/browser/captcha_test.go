package browser

import "testing"

func TestDetectCaptcha(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		found    bool
		captcha  string
	}{
		{
			name:    "recaptcha div",
			html:    `<div class="g-recaptcha" data-sitekey="abc"></div>`,
			found:   true,
			captcha: CaptchaTypeRecaptcha,
		},
		{
			name:    "recaptcha script",
			html:    `<script src="https://www.google.com/recaptcha/api.js"></script>`,
			found:   true,
			captcha: CaptchaTypeRecaptcha,
		},
		{
			name:    "hcaptcha",
			html:    `<div class="h-captcha" data-sitekey="abc"></div>`,
			found:   true,
			captcha: CaptchaTypeHCaptcha,
		},
		{
			name:    "turnstile",
			html:    `<iframe src="https://challenges.cloudflare.com/turnstile"></iframe>`,
			found:   true,
			captcha: CaptchaTypeTurnstile,
		},
		{
			name:    "generic keyword",
			html:    `<p>Please verify you are human before continuing.</p>`,
			found:   true,
			captcha: CaptchaTypeUnknown,
		},
		{
			name:  "plain unsubscribe form",
			html:  `<form><input name="email"><button>Unsubscribe</button></form>`,
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := DetectCaptcha(tt.html)
			if info.Found != tt.found {
				t.Fatalf("Found = %v, want %v", info.Found, tt.found)
			}
			if tt.found && info.Type != tt.captcha {
				t.Errorf("Type = %q, want %q", info.Type, tt.captcha)
			}
		})
	}
}
