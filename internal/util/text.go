package util

import (
	"strings"
	"unicode/utf8"
)

// StripMarkdownFences removes a surrounding ```json / ``` wrapper that
// models habitually add around JSON output.
func StripMarkdownFences(text string) string {
	clean := strings.TrimSpace(text)
	if idx := strings.Index(clean, "```json"); idx >= 0 {
		clean = clean[idx+len("```json"):]
		if end := strings.Index(clean, "```"); end >= 0 {
			clean = clean[:end]
		}
	} else if idx := strings.Index(clean, "```"); idx >= 0 {
		clean = clean[idx+3:]
		if end := strings.Index(clean, "```"); end >= 0 {
			clean = clean[:end]
		}
	}
	return strings.TrimSpace(clean)
}

// CapBytes cuts text to at most max bytes without splitting a UTF-8 rune.
func CapBytes(text string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(text) <= max {
		return text
	}
	for max > 0 && !utf8.RuneStart(text[max]) {
		max--
	}
	return text[:max]
}

// TruncateWords cuts text to at most max bytes on a word boundary, appending
// an ellipsis marker when anything was dropped.
func TruncateWords(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := CapBytes(text, max)
	if idx := strings.LastIndexByte(cut, ' '); idx > max/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \t\n") + "..."
}
