package analysis

import (
	"strings"
	"unicode/utf8"
)

const truncatedMarker = "\n[truncated]"

const systemPrompt = `You are a financial regulation analyst. Read the enforcement notice below and
return ONE JSON object, with no commentary, using exactly these keys:
{
  "entity_name": string,
  "entity_type": "firm" | "individual" | "other",
  "frn": string | null,
  "outcome_type": "fine" | "prohibition" | "cancellation" | "suspension" | "restriction" | "public_censure" | "restitution" | "warning" | "other",
  "fine_amount": number | null,
  "original_fine_amount": number | null,
  "discount_applied": boolean,
  "discount_percentage": number | null,
  "primary_breach_type": string | null,
  "breach_categories": [string],
  "handbook_references": [string],
  "consumer_impact": {"level": "High" | "Medium" | "Low" | null, "consumers_affected": number | null, "redress_amount": number | null},
  "systemic_risk": {"is_systemic": boolean, "explanation": string | null},
  "aggravating_factors": [string],
  "mitigating_factors": [string],
  "summary": string
}
Amounts are in pounds sterling as plain numbers. Use null when the notice does not say.`

// TruncateContent cuts text to at most maxRunes runes, appending a marker
// when anything was dropped.
func TruncateContent(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes]) + truncatedMarker
}

// BuildPrompt returns the extraction prompt for one notice.
func BuildPrompt(text string, maxRunes int) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nNotice:\n")
	b.WriteString(TruncateContent(strings.TrimSpace(text), maxRunes))
	return b.String()
}
