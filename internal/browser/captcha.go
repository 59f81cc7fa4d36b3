package browser

import "strings"

// CaptchaInfo describes a CAPTCHA found on an unsubscribe page
type CaptchaInfo struct {
	Found       bool
	Type        string
	Description string
}

// CaptchaType constants
const (
	CaptchaTypeRecaptcha = "recaptcha"
	CaptchaTypeHCaptcha  = "hcaptcha"
	CaptchaTypeTurnstile = "cloudflare_turnstile"
	CaptchaTypeUnknown   = "unknown"
)

// DetectCaptcha scans HTML for CAPTCHA markers. Pages behind a CAPTCHA
// cannot be automated, so callers skip the browser entirely when one is
// found.
func DetectCaptcha(html string) CaptchaInfo {
	html = strings.ToLower(html)

	if strings.Contains(html, "recaptcha") || strings.Contains(html, "g-recaptcha") {
		return CaptchaInfo{
			Found:       true,
			Type:        CaptchaTypeRecaptcha,
			Description: "reCAPTCHA detected",
		}
	}

	if strings.Contains(html, "hcaptcha") || strings.Contains(html, "h-captcha") {
		return CaptchaInfo{
			Found:       true,
			Type:        CaptchaTypeHCaptcha,
			Description: "hCaptcha detected",
		}
	}

	if strings.Contains(html, "cf-turnstile") || strings.Contains(html, "challenges.cloudflare.com") {
		return CaptchaInfo{
			Found:       true,
			Type:        CaptchaTypeTurnstile,
			Description: "Cloudflare Turnstile detected",
		}
	}

	keywords := []string{"verify you are human", "prove you are human", "i am not a robot", "verification code"}
	for _, keyword := range keywords {
		if strings.Contains(html, keyword) {
			return CaptchaInfo{
				Found:       true,
				Type:        CaptchaTypeUnknown,
				Description: "possible CAPTCHA: " + keyword,
			}
		}
	}

	return CaptchaInfo{}
}
