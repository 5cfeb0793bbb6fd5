// Package validate classifies user input and makes file names safe for disk.
package validate

import (
	"regexp"
	"strings"
)

const MaxFilenameLen = 200

var urlRe = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.\-]*://`)

// IsURL reports whether text carries a URL scheme. No network access.
func IsURL(text string) bool {
	return urlRe.MatchString(text)
}

// ExtractURL returns the first whitespace-separated field that looks like a URL.
func ExtractURL(text string) (string, bool) {
	for _, f := range strings.Fields(text) {
		if urlRe.MatchString(f) {
			return f, true
		}
	}
	return "", false
}

func safeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-', r == ' ':
		return true
	}
	return false
}

// SanitizeFilename replaces every rune outside the allow-list with '_' and truncates to MaxFilenameLen.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if !safeRune(r) {
			r = '_'
		}
		b.WriteRune(r)
		if b.Len() >= MaxFilenameLen {
			break
		}
	}
	return b.String()
}
