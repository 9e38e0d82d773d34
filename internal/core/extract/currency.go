// Package extract holds the first-pass text heuristics applied to parsed
// notices before they reach the LLM.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	amountPattern = regexp.MustCompile(`^([0-9][0-9,]*(?:\.[0-9]+)?)\s*(billion|bn|million|mn|m|thousand|k)?$`)
	// Matches "£1,234", "£2.5 million", "£10k" inside running text.
	fineInTextPattern = regexp.MustCompile(`(?i)£\s?([0-9][0-9,]*(?:\.[0-9]+)?)(?:\s?(billion|bn|million|mn|m|thousand|k)\b)?`)
)

var multipliers = map[string]float64{
	"billion":  1e9,
	"bn":       1e9,
	"million":  1e6,
	"mn":       1e6,
	"m":        1e6,
	"thousand": 1e3,
	"k":        1e3,
}

// ParseCurrency converts a currency literal such as "£2.5 million" to a number.
func ParseCurrency(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("£", "", "$", "", "€", "", "gbp", "").Replace(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if mult, ok := multipliers[m[2]]; ok {
		value *= mult
	}
	return value, true
}

// FineAmounts returns distinct sterling amounts found in text, in order of
// first appearance.
func FineAmounts(text string) []float64 {
	out := make([]float64, 0)
	seen := make(map[float64]struct{})
	for _, m := range fineInTextPattern.FindAllStringSubmatch(text, -1) {
		literal := m[1]
		if m[2] != "" {
			literal += " " + m[2]
		}
		value, ok := ParseCurrency(literal)
		if !ok || value <= 0 {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
