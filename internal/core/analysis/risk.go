package analysis

import "strings"

const (
	maxFactorPoints = 10
	pointsPerFactor = 2
	systemicPoints  = 15
)

// severeBreaches holds normalized keys; "anti money laundering" is the
// spelled-out form of AML.
var severeBreaches = map[string]struct{}{
	"market abuse":          {},
	"aml":                   {},
	"anti money laundering": {},
	"financial crime":       {},
	"client money":          {},
}

var consumerImpactPoints = map[string]int{
	"High":   20,
	"Medium": 12,
	"Low":    5,
}

// CalculateRiskScore is a pure weighted score in [0,100].
func CalculateRiskScore(a Analysis) int {
	score := fineTierPoints(a.FineAmount) + breachPoints(a.PrimaryBreachType)
	score += consumerImpactPoints[a.ConsumerImpact.Level]
	if a.SystemicRisk.IsSystemic {
		score += systemicPoints
	}
	score += min(len(a.AggravatingFactors)*pointsPerFactor, maxFactorPoints)
	score -= min(len(a.MitigatingFactors)*pointsPerFactor, maxFactorPoints)
	return max(0, min(100, score))
}

func fineTierPoints(amount *Money) int {
	if amount == nil {
		return 0
	}
	switch fine := float64(*amount); {
	case fine >= 100_000_000:
		return 30
	case fine >= 10_000_000:
		return 25
	case fine >= 1_000_000:
		return 20
	case fine >= 100_000:
		return 10
	default:
		return 0
	}
}

func breachPoints(breach string) int {
	key := normalizeBreach(breach)
	if key == "" {
		return 0
	}
	if _, ok := severeBreaches[key]; ok {
		return 25
	}
	return 15
}

func normalizeBreach(breach string) string {
	s := strings.ToLower(breach)
	s = strings.NewReplacer("_", " ", "-", " ", "/", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
