// Package htmlsanitize cleans user-supplied comment text before it is stored.
package htmlsanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// Light formatting only: emphasis, code, lists, quotes and safe links.
	richPolicy = func() *bluemonday.Policy {
		p := bluemonday.NewPolicy()
		p.AllowElements("p", "br", "strong", "em", "b", "i", "u", "s", "code", "pre", "blockquote", "ul", "ol", "li")
		p.AllowStandardURLs()
		p.AllowAttrs("href").OnElements("a")
		p.RequireNoFollowOnLinks(true)
		return p
	}()

	strictPolicy = bluemonday.StrictPolicy()
)

// Sanitize keeps light formatting and strips everything else, including
// scripts, event handlers and javascript: URLs.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(richPolicy.Sanitize(s))
}

// Strict removes all markup.
func Strict(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(strictPolicy.Sanitize(s))
}

// IsPlainText reports whether s contains no tag-like content.
func IsPlainText(s string) bool {
	return !strings.Contains(s, "<") || !strings.Contains(s, ">")
}

// Comment prepares comment text for storage: plain text goes through the
// strict policy, anything with markup through the light-formatting one.
func Comment(s string) string {
	if IsPlainText(s) {
		return Strict(s)
	}
	return Sanitize(s)
}
