package normalize

import (
	"regexp"
	"strings"
	"time"
)

// Layouts tried by ParseDate, most specific first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006 3:04 PM",
	"Mon, Jan 2, 2006",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 02 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"01/02/2006",
	"1.2.06",
	"01.02.06",
	"01/02/06",
}

// Layouts without a year; the year is taken from the reference time.
var yearlessLayouts = []string{
	"Monday, January 2",
	"Mon, Jan 2",
	"January 2",
	"Jan 02",
	"Jan 2",
	"2 January",
	"2 Jan",
}

// Ordinal suffixes ("5th", "1st") and trailing time-zone abbreviations are
// stripped before parsing.
var (
	ordinal    = regexp.MustCompile(`\b(\d{1,2})(st|nd|rd|th)\b`)
	trailingTZ = regexp.MustCompile(`\s+[A-Z]{2,4}$`)
)

// datePrecision is the coarsest timestamp precision among the store
// backends. Parsed dates are truncated to it so a stored date compares equal
// to the same text parsed again.
const datePrecision = time.Millisecond

// ParseDate parses free-form event date text. It reports false when no known
// layout matches; callers keep the text as is. Dates without a year get the
// year of now.
func ParseDate(text string, now time.Time) (time.Time, bool) {
	s := strings.Join(strings.Fields(text), " ")
	if s == "" {
		return time.Time{}, false
	}
	s = ordinal.ReplaceAllString(s, "$1")

	candidates := []string{s}
	if i := strings.IndexAny(s, "–—"); i > 0 {
		candidates = append(candidates, strings.TrimSpace(s[:i]))
	}
	if i := strings.Index(s, " - "); i > 0 {
		candidates = append(candidates, strings.TrimSpace(s[:i]))
	}
	if trimmed := trailingTZ.ReplaceAllString(s, ""); trimmed != s {
		candidates = append(candidates, trimmed)
	}

	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t.UTC().Truncate(datePrecision), true
			}
		}
		for _, layout := range yearlessLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
			}
		}
	}
	return time.Time{}, false
}
