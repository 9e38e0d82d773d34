package analysis

import (
	"encoding/json"
	"math"
	"time"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

// ToNotice maps a validated analysis onto the stored notice shape. Optional
// scalars become nil and lists become empty, never nil.
func ToNotice(publicationID string, a Analysis, raw json.RawMessage, model string, at time.Time) domain.EnforcementNotice {
	notice := domain.EnforcementNotice{
		PublicationID:       publicationID,
		EntityName:          a.EntityName,
		EntityType:          optionalString(a.EntityType),
		FRN:                 optionalString(a.FRN),
		OutcomeType:         optionalString(a.OutcomeType),
		FineAmount:          a.FineAmount.Float(),
		OriginalFineAmount:  a.OriginalFineAmount.Float(),
		DiscountApplied:     bool(a.DiscountApplied),
		DiscountPercentage:  a.DiscountPercentage.Float(),
		PrimaryBreachType:   optionalString(a.PrimaryBreachType),
		BreachCategories:    nonNil(a.BreachCategories),
		HandbookReferences:  nonNil(a.HandbookReferences),
		ConsumerImpactLevel: optionalString(a.ConsumerImpact.Level),
		ConsumerRedress:     a.ConsumerImpact.RedressAmount.Float(),
		SystemicRisk:        bool(a.SystemicRisk.IsSystemic),
		AggravatingFactors:  nonNil(a.AggravatingFactors),
		MitigatingFactors:   nonNil(a.MitigatingFactors),
		Summary:             optionalString(a.Summary),
		RiskScore:           CalculateRiskScore(a),
		AIPayload:           raw,
		AIModelUsed:         model,
		AIProcessedAt:       at.UTC(),
	}
	if a.ConsumerImpact.ConsumersAffected != nil {
		n := int64(math.Round(float64(*a.ConsumerImpact.ConsumersAffected)))
		notice.ConsumersAffected = &n
	}
	if notice.DiscountPercentage != nil && *notice.DiscountPercentage > 0 {
		notice.DiscountApplied = true
	}
	if len(notice.AIPayload) == 0 {
		notice.AIPayload = json.RawMessage("{}")
	}
	return notice
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(list StringList) []string {
	if list == nil {
		return []string{}
	}
	return []string(list)
}
