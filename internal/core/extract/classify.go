package extract

import (
	"regexp"
	"strings"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

const documentTypeWindow = 2000

type typeRule struct {
	docType domain.DocumentType
	pattern *regexp.Regexp
}

var documentTypeRules = []typeRule{
	{domain.DocFinalNotice, regexp.MustCompile(`(?i)\bfinal\s+notice\b`)},
	{domain.DocDecisionNotice, regexp.MustCompile(`(?i)\bdecision\s+notice\b`)},
	{domain.DocWarningNotice, regexp.MustCompile(`(?i)\bwarning\s+(?:notice|statement)\b`)},
	{domain.DocSupervisoryNotice, regexp.MustCompile(`(?i)\b(?:first\s+|second\s+)?supervisory\s+notice\b`)},
	{domain.DocProhibitionOrder, regexp.MustCompile(`(?i)\bprohibition\s+order\b`)},
	{domain.DocHandbookNotice, regexp.MustCompile(`(?i)\bhandbook\s+notice\b`)},
}

// DetectDocumentType inspects the heading area of a notice. When several
// notice kinds are mentioned the earliest mention wins.
func DetectDocumentType(text string) domain.DocumentType {
	head := text
	if len(head) > documentTypeWindow {
		head = head[:documentTypeWindow]
	}

	best := domain.DocOther
	bestPos := -1
	for _, rule := range documentTypeRules {
		loc := rule.pattern.FindStringIndex(head)
		if loc == nil {
			continue
		}
		if bestPos == -1 || loc[0] < bestPos {
			best = rule.docType
			bestPos = loc[0]
		}
	}
	return best
}

type outcomeRule struct {
	outcome string
	pattern *regexp.Regexp
}

// Checked in order; the first match wins.
var outcomeRules = []outcomeRule{
	{"fine", regexp.MustCompile(`(?i)\b(?:financial\s+penalty|impose[sd]?\s+a\s+(?:financial\s+)?penalty|fine\s+of\s+£)`)},
	{"prohibition", regexp.MustCompile(`(?i)\b(?:prohibition\s+order|prohibit(?:s|ed|ing)?\s+\w+\s+from\s+performing)`)},
	{"cancellation", regexp.MustCompile(`(?i)\bcancel(?:s|led|lation\s+of)?\s+(?:its\s+|the\s+|\w+'s\s+)?(?:part\s+4A\s+)?permission`)},
	{"suspension", regexp.MustCompile(`(?i)\bsuspen(?:d|ds|ded|sion)\b`)},
	{"restriction", regexp.MustCompile(`(?i)\brestriction\s+(?:on|of)\b`)},
	{"public_censure", regexp.MustCompile(`(?i)\bpublic(?:ly)?\s+censure`)},
	{"restitution", regexp.MustCompile(`(?i)\brestitution\b`)},
	{"warning", regexp.MustCompile(`(?i)\bwarning\s+(?:notice|statement)\b`)},
}

// DetectOutcomeType classifies the regulatory outcome described anywhere in
// the text, defaulting to "other".
func DetectOutcomeType(text string) string {
	for _, rule := range outcomeRules {
		if rule.pattern.MatchString(text) {
			return rule.outcome
		}
	}
	return "other"
}

// TypeFromLabel maps a listing's type label ("Final notices", "Warning
// statement") to a document type.
func TypeFromLabel(label string) domain.DocumentType {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return domain.DocOther
	case strings.Contains(l, "final notice"):
		return domain.DocFinalNotice
	case strings.Contains(l, "decision notice"):
		return domain.DocDecisionNotice
	case strings.Contains(l, "warning"):
		return domain.DocWarningNotice
	case strings.Contains(l, "supervisory notice"):
		return domain.DocSupervisoryNotice
	case strings.Contains(l, "prohibition"):
		return domain.DocProhibitionOrder
	case strings.Contains(l, "handbook notice"):
		return domain.DocHandbookNotice
	default:
		return domain.DocOther
	}
}
