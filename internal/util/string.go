// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the rigstream packages.
package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// UNICODE: all helpers count runes, never bytes, so a multi-byte character
// is never split in half.

// TruncateRunes truncates a string to a maximum number of runes.
// If the string is truncated, "..." is appended within the limit.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// SingleLine replaces every run of whitespace (including newlines and tabs)
// with a single space and trims both ends.
func SingleLine(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// Excerpt returns a bounded, single-line, NFC-normalized excerpt of s.
// Used for session previews so composed and decomposed input render alike.
func Excerpt(s string, maxRunes int) string {
	return TruncateRunes(SingleLine(norm.NFC.String(s)), maxRunes)
}

// RuneLen returns the number of runes in a string.
func RuneLen(s string) int {
	return len([]rune(s))
}
