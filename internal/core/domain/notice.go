package domain

import (
	"encoding/json"
	"time"
)

// EnforcementNotice is the normalized AI-extracted record for one publication.
type EnforcementNotice struct {
	PublicationID       string          `json:"publication_id"`
	EntityName          string          `json:"entity_name"`
	EntityType          *string         `json:"entity_type"`
	FRN                 *string         `json:"frn"`
	OutcomeType         *string         `json:"outcome_type"`
	FineAmount          *float64        `json:"fine_amount"`
	OriginalFineAmount  *float64        `json:"original_fine_amount"`
	DiscountApplied     bool            `json:"discount_applied"`
	DiscountPercentage  *float64        `json:"discount_percentage"`
	PrimaryBreachType   *string         `json:"primary_breach_type"`
	BreachCategories    []string        `json:"breach_categories"`
	HandbookReferences  []string        `json:"handbook_references"`
	ConsumerImpactLevel *string         `json:"consumer_impact_level"`
	ConsumersAffected   *int64          `json:"consumers_affected"`
	ConsumerRedress     *float64        `json:"consumer_redress"`
	SystemicRisk        bool            `json:"systemic_risk"`
	AggravatingFactors  []string        `json:"aggravating_factors"`
	MitigatingFactors   []string        `json:"mitigating_factors"`
	Summary             *string         `json:"summary"`
	RiskScore           int             `json:"risk_score"`
	AIPayload           json.RawMessage `json:"ai_payload"`
	AIModelUsed         string          `json:"ai_model_used"`
	AIProcessedAt       time.Time       `json:"ai_processed_at"`
}
