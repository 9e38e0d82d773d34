package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

type NoticeRepository struct {
	db *sql.DB
}

func NewNoticeRepository(db *sql.DB) *NoticeRepository {
	return &NoticeRepository{db: db}
}

func (r *NoticeRepository) UpsertEnforcementNotice(ctx context.Context, n *domain.EnforcementNotice) error {
	lists := make([][]byte, 0, 4)
	for _, list := range [][]string{n.BreachCategories, n.HandbookReferences, n.AggravatingFactors, n.MitigatingFactors} {
		raw, err := marshalList(list)
		if err != nil {
			return fmt.Errorf("marshal notice list: %w", err)
		}
		lists = append(lists, raw)
	}
	var payload interface{}
	if len(n.AIPayload) > 0 {
		payload = []byte(n.AIPayload)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO enforcement_notices (
	publication_id, entity_name, entity_type, frn, outcome_type, fine_amount, original_fine_amount,
	discount_applied, discount_percentage, primary_breach_type, breach_categories, handbook_references,
	consumer_impact_level, consumers_affected, consumer_redress, systemic_risk, aggravating_factors,
	mitigating_factors, summary, risk_score, ai_payload, ai_model_used, ai_processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
ON CONFLICT (publication_id) DO UPDATE SET
	entity_name = EXCLUDED.entity_name,
	entity_type = EXCLUDED.entity_type,
	frn = EXCLUDED.frn,
	outcome_type = EXCLUDED.outcome_type,
	fine_amount = EXCLUDED.fine_amount,
	original_fine_amount = EXCLUDED.original_fine_amount,
	discount_applied = EXCLUDED.discount_applied,
	discount_percentage = EXCLUDED.discount_percentage,
	primary_breach_type = EXCLUDED.primary_breach_type,
	breach_categories = EXCLUDED.breach_categories,
	handbook_references = EXCLUDED.handbook_references,
	consumer_impact_level = EXCLUDED.consumer_impact_level,
	consumers_affected = EXCLUDED.consumers_affected,
	consumer_redress = EXCLUDED.consumer_redress,
	systemic_risk = EXCLUDED.systemic_risk,
	aggravating_factors = EXCLUDED.aggravating_factors,
	mitigating_factors = EXCLUDED.mitigating_factors,
	summary = EXCLUDED.summary,
	risk_score = EXCLUDED.risk_score,
	ai_payload = EXCLUDED.ai_payload,
	ai_model_used = EXCLUDED.ai_model_used,
	ai_processed_at = EXCLUDED.ai_processed_at
`,
		n.PublicationID, n.EntityName, n.EntityType, n.FRN, n.OutcomeType, n.FineAmount, n.OriginalFineAmount,
		n.DiscountApplied, n.DiscountPercentage, n.PrimaryBreachType, lists[0], lists[1],
		n.ConsumerImpactLevel, n.ConsumersAffected, n.ConsumerRedress, n.SystemicRisk, lists[2],
		lists[3], n.Summary, n.RiskScore, payload, n.AIModelUsed, n.AIProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert enforcement notice: %w", err)
	}
	return nil
}

func (r *NoticeRepository) ListEnforcementNotices(ctx context.Context, limit int) ([]domain.EnforcementNotice, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT publication_id, entity_name, entity_type, frn, outcome_type, fine_amount, original_fine_amount,
	discount_applied, discount_percentage, primary_breach_type, breach_categories, handbook_references,
	consumer_impact_level, consumers_affected, consumer_redress, systemic_risk, aggravating_factors,
	mitigating_factors, summary, risk_score, ai_payload, ai_model_used, ai_processed_at
FROM enforcement_notices
ORDER BY ai_processed_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list enforcement notices: %w", err)
	}
	defer rows.Close()

	out := make([]domain.EnforcementNotice, 0)
	for rows.Next() {
		var n domain.EnforcementNotice
		var breach, handbook, aggravating, mitigating, payload []byte
		err := rows.Scan(
			&n.PublicationID, &n.EntityName, &n.EntityType, &n.FRN, &n.OutcomeType, &n.FineAmount,
			&n.OriginalFineAmount, &n.DiscountApplied, &n.DiscountPercentage, &n.PrimaryBreachType,
			&breach, &handbook, &n.ConsumerImpactLevel, &n.ConsumersAffected, &n.ConsumerRedress,
			&n.SystemicRisk, &aggravating, &mitigating, &n.Summary, &n.RiskScore, &payload,
			&n.AIModelUsed, &n.AIProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan enforcement notice: %w", err)
		}
		targets := []struct {
			raw []byte
			dst *[]string
		}{
			{breach, &n.BreachCategories},
			{handbook, &n.HandbookReferences},
			{aggravating, &n.AggravatingFactors},
			{mitigating, &n.MitigatingFactors},
		}
		for _, t := range targets {
			if err := unmarshalList(t.raw, t.dst); err != nil {
				return nil, fmt.Errorf("unmarshal notice list: %w", err)
			}
		}
		if len(payload) > 0 {
			n.AIPayload = json.RawMessage(payload)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enforcement notices: %w", err)
	}
	return out, nil
}

func marshalList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

func unmarshalList(raw []byte, dst *[]string) error {
	*dst = []string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
