// Package analysis defines the structured result expected from the LLM, its
// lenient decoding and validation, and the deterministic risk score.
package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/extract"
)

// Analysis is the enforcement schema the model is asked to fill.
type Analysis struct {
	EntityName         string         `json:"entity_name" validate:"required"`
	EntityType         string         `json:"entity_type" validate:"omitempty,oneof=firm individual other"`
	FRN                string         `json:"frn" validate:"omitempty,numeric,min=6,max=7"`
	OutcomeType        string         `json:"outcome_type"`
	FineAmount         *Money         `json:"fine_amount" validate:"omitempty,gte=0"`
	OriginalFineAmount *Money         `json:"original_fine_amount" validate:"omitempty,gte=0"`
	DiscountApplied    Flag           `json:"discount_applied"`
	DiscountPercentage *Money         `json:"discount_percentage" validate:"omitempty,gte=0,lte=100"`
	PrimaryBreachType  string         `json:"primary_breach_type"`
	BreachCategories   StringList     `json:"breach_categories"`
	HandbookReferences StringList     `json:"handbook_references"`
	ConsumerImpact     ConsumerImpact `json:"consumer_impact"`
	SystemicRisk       SystemicRisk   `json:"systemic_risk"`
	AggravatingFactors StringList     `json:"aggravating_factors"`
	MitigatingFactors  StringList     `json:"mitigating_factors"`
	Summary            string         `json:"summary"`
}

type ConsumerImpact struct {
	Level             string `json:"level" validate:"omitempty,oneof=High Medium Low"`
	ConsumersAffected *Money `json:"consumers_affected" validate:"omitempty,gte=0"`
	RedressAmount     *Money `json:"redress_amount" validate:"omitempty,gte=0"`
}

// UnmarshalJSON also accepts a bare level string such as "High".
func (c *ConsumerImpact) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*c = ConsumerImpact{}
		return nil
	}
	if data[0] == '"' {
		var level string
		if err := json.Unmarshal(data, &level); err != nil {
			return err
		}
		*c = ConsumerImpact{Level: level}
		return nil
	}
	type plain ConsumerImpact
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*c = ConsumerImpact(out)
	return nil
}

type SystemicRisk struct {
	IsSystemic  Flag   `json:"is_systemic"`
	Explanation string `json:"explanation"`
}

// UnmarshalJSON also accepts a bare boolean.
func (s *SystemicRisk) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*s = SystemicRisk{}
		return nil
	}
	if data[0] != '{' {
		var f Flag
		if err := f.UnmarshalJSON(data); err != nil {
			return err
		}
		*s = SystemicRisk{IsSystemic: f}
		return nil
	}
	type plain SystemicRisk
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*s = SystemicRisk(out)
	return nil
}

// Money decodes numbers, numeric strings and currency literals like "£2.5m".
type Money float64

func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		return nil
	}
	if data[0] != '"' {
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("money: %w", err)
		}
		*m = Money(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
		*m = Money(f)
		return nil
	}
	f, ok := extract.ParseCurrency(s)
	if !ok {
		return fmt.Errorf("money: cannot parse %q", s)
	}
	*m = Money(f)
	return nil
}

func (m *Money) Float() *float64 {
	if m == nil {
		return nil
	}
	f := float64(*m)
	return &f
}

// Flag decodes booleans and "yes"/"no"/"true"/"false" strings.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*f = false
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("flag: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// StringList decodes an array of strings, a single string or null.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*l = nil
			return nil
		}
		*l = StringList{s}
		return nil
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("string list: %w", err)
	}
	out := make(StringList, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(item))
		if s != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

func isNull(data []byte) bool {
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

var validate = validator.New()

// Parse extracts the first JSON object from a model response, decodes it
// leniently, normalizes it and validates it. Every failure wraps
// domain.ErrInvalidAnalysis.
func Parse(response string) (Analysis, json.RawMessage, error) {
	raw, ok := ExtractFirstJSONObject(response)
	if !ok {
		return Analysis{}, nil, domain.WrapError(domain.ErrInvalidAnalysis, "analysis.parse", fmt.Errorf("no json object in response"))
	}

	var a Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return Analysis{}, nil, domain.WrapError(domain.ErrInvalidAnalysis, "analysis.decode", err)
	}
	a.Normalize()
	if err := validate.Struct(a); err != nil {
		return Analysis{}, nil, domain.WrapError(domain.ErrInvalidAnalysis, "analysis.validate", err)
	}
	return a, json.RawMessage(raw), nil
}

// Normalize trims strings and canonicalizes enumerations so validation sees
// the model's intent rather than its formatting.
func (a *Analysis) Normalize() {
	a.EntityName = strings.TrimSpace(a.EntityName)
	a.EntityType = strings.ToLower(strings.TrimSpace(a.EntityType))
	switch a.EntityType {
	case "", "firm", "individual", "other":
	case "company", "corporate", "organisation", "organization":
		a.EntityType = "firm"
	case "person":
		a.EntityType = "individual"
	default:
		a.EntityType = "other"
	}
	a.FRN = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, a.FRN)
	if len(a.FRN) < 6 || len(a.FRN) > 7 {
		a.FRN = ""
	}
	a.OutcomeType = strings.ToLower(strings.TrimSpace(a.OutcomeType))
	a.PrimaryBreachType = strings.TrimSpace(a.PrimaryBreachType)
	a.Summary = strings.TrimSpace(a.Summary)

	level := strings.ToLower(strings.TrimSpace(a.ConsumerImpact.Level))
	switch level {
	case "high", "medium", "low":
		a.ConsumerImpact.Level = strings.ToUpper(level[:1]) + level[1:]
	default:
		a.ConsumerImpact.Level = ""
	}

	for i, ref := range a.HandbookReferences {
		a.HandbookReferences[i] = strings.ToUpper(strings.Join(strings.Fields(ref), " "))
	}
}
