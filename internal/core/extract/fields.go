package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

const maxEntityNames = 10

var (
	frnPattern = regexp.MustCompile(`(?i)(?:\bFRN\b|firm reference number|reference number)[\s:.]*(?:is\s+)?(\d{6,7})\b`)

	addresseePattern = regexp.MustCompile(`(?m)^\s*(?:To|TO)\s*:\s*(.{2,120}?)\s*$`)
	companyPattern   = regexp.MustCompile(`\b((?:[A-Z][A-Za-z0-9&'.\-]*\s){0,6}[A-Z][A-Za-z0-9&'.\-]*\s(?:Limited|Ltd|PLC|plc|LLP|LLC|Bank|Group|Holdings))\b`)

	discountPctPattern = regexp.MustCompile(`(?i)(\d{1,2}(?:\.\d+)?)\s*%\s*(?:\(stage\s*\d\)\s*)?(?:settlement\s+)?discount`)
	discountPattern    = regexp.MustCompile(`(?i)\b(?:stage\s*1\s+discount|settlement\s+discount|qualified\s+for\s+a\s+\d{1,2}%)`)
)

// handbookPrefixes are the sourcebook codes recognized as handbook references.
var handbookPrefixes = []string{
	"PRIN", "SYSC", "COBS", "SUP", "CASS", "MAR", "DEPP", "ENF", "APER", "COCON",
	"COND", "FIT", "ICOBS", "MCOB", "BCOBS", "CONC", "DISP", "FEES", "IPRU",
	"MIFIDPRU", "PERG", "DTR", "LR", "FCG", "PROD", "CREDS",
}

var handbookPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(handbookPrefixes, "|") + `)\s+(\d+[A-Z]?(?:\.\d+[A-Z]?)+(?:\s?\(\d+\))?)`)

// ExtractBasicFields runs the regex pass over a notice's full text.
func ExtractBasicFields(text string) domain.BasicFields {
	fields := domain.BasicFields{
		FRN:                FRN(text),
		FineAmounts:        FineAmounts(text),
		Dates:              Dates(text),
		EntityNames:        EntityNames(text),
		HandbookReferences: HandbookReferences(text),
		OutcomeType:        DetectOutcomeType(text),
	}

	if m := discountPctPattern.FindStringSubmatch(text); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			fields.HasDiscount = true
			fields.DiscountPercentage = &pct
		}
	}
	if !fields.HasDiscount && discountPattern.MatchString(text) {
		fields.HasDiscount = true
	}
	return fields
}

func FRN(text string) string {
	if m := frnPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func EntityNames(text string) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{})
	add := func(name string) {
		name = strings.Join(strings.Fields(strings.Trim(name, " ,.;:")), " ")
		if len(name) < 3 || len(out) >= maxEntityNames {
			return
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}

	for _, m := range addresseePattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range companyPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return out
}

// HandbookReferences returns distinct references such as "PRIN 2.1.1",
// uppercased with single spaces, sorted.
func HandbookReferences(text string) []string {
	seen := make(map[string]struct{})
	for _, m := range handbookPattern.FindAllStringSubmatch(text, -1) {
		ref := strings.ToUpper(m[1] + " " + strings.Join(strings.Fields(m[2]), " "))
		seen[ref] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}
