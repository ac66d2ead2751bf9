package helpers

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton bluemonday policy that strips every
// HTML element and attribute. Bill pages and legislative abstracts are only
// ever consumed as plain text, so nothing richer is needed.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeHTMLStrict removes every HTML tag from s while stripping leading
// and trailing whitespace.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// HTMLToText converts an HTML fragment to normalized plain text: tags are
// stripped and runs of whitespace collapse to single spaces, with newlines
// preserved between blocks that were separated by blank lines.
func HTMLToText(s string) string {
	return NormalizeWhitespace(SanitizeHTMLStrict(s))
}

// NormalizeWhitespace collapses runs of spaces and tabs into single spaces
// and trims each line, dropping lines that become empty.
func NormalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Truncate returns s cut to at most max runes. Multi-byte characters are
// never split.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
