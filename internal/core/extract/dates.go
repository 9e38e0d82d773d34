package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	longDatePattern    = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th)?\s+([A-Za-z]+)\s+(\d{4})$`)
	numericDatePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	dateInTextPattern  = regexp.MustCompile(`(?i)\b(\d{1,2}(?:st|nd|rd|th)?\s+(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\s+\d{4}|\d{1,2}/\d{1,2}/\d{4})\b`)
)

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// ParseDate accepts "22 December 2025" and "22/12/2025". It returns nil for
// anything else, including impossible calendar dates.
func ParseDate(raw string) *time.Time {
	s := strings.Join(strings.Fields(raw), " ")

	var day, year int
	var month time.Month
	if m := longDatePattern.FindStringSubmatch(s); m != nil {
		mon, ok := monthNames[strings.ToLower(m[2])]
		if !ok {
			return nil
		}
		day, _ = strconv.Atoi(m[1])
		year, _ = strconv.Atoi(m[3])
		month = mon
	} else if m := numericDatePattern.FindStringSubmatch(s); m != nil {
		day, _ = strconv.Atoi(m[1])
		mon, _ := strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
		if mon < 1 || mon > 12 {
			return nil
		}
		month = time.Month(mon)
	} else {
		return nil
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return nil
	}
	return &t
}

// Dates returns the distinct dates mentioned in text.
func Dates(text string) []time.Time {
	out := make([]time.Time, 0)
	seen := make(map[time.Time]struct{})
	for _, literal := range dateInTextPattern.FindAllString(text, -1) {
		t := ParseDate(literal)
		if t == nil {
			continue
		}
		if _, dup := seen[*t]; dup {
			continue
		}
		seen[*t] = struct{}{}
		out = append(out, *t)
	}
	return out
}
