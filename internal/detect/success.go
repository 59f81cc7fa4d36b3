// Package detect decides whether a response or page text confirms that an
// unsubscribe went through.
package detect

import "regexp"

// successPatterns is the shared oracle for one-click responses, uncertain API
// replies and post-automation page text. Keep the set in sync across all
// three call sites by keeping it here.
var successPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)unsubscribed`),
	regexp.MustCompile(`(?i)successfully removed`),
	regexp.MustCompile(`(?i)will no longer receive`),
	regexp.MustCompile(`(?i)preference.*updated`),
	regexp.MustCompile(`(?i)you have been removed`),
	regexp.MustCompile(`(?i)email.*removed`),
}

// LooksLikeSuccess reports whether text contains a known success
// confirmation. Empty input never matches.
func LooksLikeSuccess(text string) bool {
	if text == "" {
		return false
	}
	for _, pattern := range successPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}
