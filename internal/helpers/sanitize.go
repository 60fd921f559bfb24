// Package helpers holds small text utilities shared by the session layer.
package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton policy that strips every element and
// attribute, dropping script and style bodies entirely.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// PlainText reduces user input to display-safe plain text: markup is
// removed, entities are decoded back to characters and runs of whitespace
// collapse to a single space. A "<" with no ">" after it cannot open a tag
// and is kept as a literal character; "<word ...>" is treated as markup.
func PlainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = html.UnescapeString(StrictHTMLPolicy().Sanitize(escapeUnclosed(s)))
	return strings.Join(strings.Fields(s), " ")
}

// escapeUnclosed escapes every "<" that appears after the last ">".
func escapeUnclosed(s string) string {
	last := strings.LastIndexByte(s, '>')
	if strings.IndexByte(s[last+1:], '<') < 0 {
		return s
	}
	return s[:last+1] + strings.ReplaceAll(s[last+1:], "<", "&lt;")
}
