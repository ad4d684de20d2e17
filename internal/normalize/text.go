package normalize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Field length limits, in characters.
const (
	MaxTitle       = 500
	MaxDateText    = 500
	MaxLocation    = 255
	MaxOrganizer   = 255
	MaxPrice       = 100
	MaxDescription = 10000
)

const ellipsis = "..."

// placeholder is what some extractors emit for a field they could not find.
const placeholder = "Not found"

// CleanText returns s in NFC form with runs of whitespace collapsed to a
// single space, truncated to max characters. max <= 0 means no limit.
func CleanText(s string, max int) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	if s == placeholder {
		return ""
	}
	return Truncate(s, max)
}

// CleanBlock is CleanText for multi-line text: whitespace is collapsed within
// each line, and blank lines are squeezed to one.
func CleanBlock(s string, max int) string {
	s = norm.NFC.String(strings.ReplaceAll(s, "\r\n", "\n"))

	var lines []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(lines) > 0 && !blank {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		blank = false
		lines = append(lines, line)
	}
	out := strings.TrimSpace(strings.Join(lines, "\n"))
	if out == placeholder {
		return ""
	}
	return Truncate(out, max)
}

// Truncate shortens s to at most max characters, ending in "..." when cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= len(ellipsis) {
		return string([]rune(s)[:max])
	}
	r := []rune(s)[:max-len(ellipsis)]
	return strings.TrimRight(string(r), " ") + ellipsis
}
