package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"£1,234,567.89", 1234567.89},
		{"£2.5 million", 2500000},
		{"£10k", 10000},
		{"£3m", 3000000},
		{"£1.2bn", 1200000000},
		{"£40 thousand", 40000},
		{"  £ 500  ", 500},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCurrency(tt.in)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}

	_, ok := ParseCurrency("a lot of money")
	assert.False(t, ok)
	_, ok = ParseCurrency("")
	assert.False(t, ok)
}

func TestFineAmountsInText(t *testing.T) {
	text := "The Authority imposes a penalty of £10,000 made up of £2.5 million disgorgement. " +
		"Before discount the penalty would have been £2.5m."
	assert.Equal(t, []float64{10000, 2500000}, FineAmounts(text))
}

func TestParseDate(t *testing.T) {
	long := ParseDate("22 December 2025")
	numeric := ParseDate("22/12/2025")
	require.NotNil(t, long)
	require.NotNil(t, numeric)
	assert.True(t, long.Equal(*numeric))
	assert.Equal(t, time.Date(2025, time.December, 22, 0, 0, 0, 0, time.UTC), *long)

	assert.NotNil(t, ParseDate("3 MARCH 2021"))
	assert.NotNil(t, ParseDate("1st Sept 2019"))
	assert.Nil(t, ParseDate("not a date"))
	assert.Nil(t, ParseDate("31/02/2025"))
	assert.Nil(t, ParseDate("12 Smarch 2020"))
}

func TestDatesDeduplicates(t *testing.T) {
	got := Dates("Issued on 22 December 2025 (22/12/2025); effective 5 Jan 2026.")
	require.Len(t, got, 2)
	assert.Equal(t, time.January, got[1].Month())
}

func TestHandbookReferencesNormalized(t *testing.T) {
	text := "Acme breached PRIN 2.1.1R and SYSC  6.1.1 of the Handbook; see also prin 2.1.1r. Dated 5 Mar 2020."
	assert.Equal(t, []string{"PRIN 2.1.1R", "SYSC 6.1.1"}, HandbookReferences(text))
}

func TestExtractBasicFields(t *testing.T) {
	text := `FINAL NOTICE
To: Acme Capital Limited
Firm Reference Number: 123456
Date: 22 December 2025

The Authority hereby imposes on Acme Capital Limited a financial penalty of £1,400,000.
Acme agreed to settle and qualified for a 30% (stage 1) discount under DEPP 6.7.3.`

	fields := ExtractBasicFields(text)
	assert.Equal(t, "123456", fields.FRN)
	assert.Equal(t, []float64{1400000}, fields.FineAmounts)
	assert.Contains(t, fields.EntityNames, "Acme Capital Limited")
	assert.Equal(t, []string{"DEPP 6.7.3"}, fields.HandbookReferences)
	assert.True(t, fields.HasDiscount)
	require.NotNil(t, fields.DiscountPercentage)
	assert.Equal(t, 30.0, *fields.DiscountPercentage)
	assert.Equal(t, "fine", fields.OutcomeType)
	require.Len(t, fields.Dates, 1)
}

func TestExtractBasicFieldsEmptyText(t *testing.T) {
	fields := ExtractBasicFields("")
	assert.Empty(t, fields.FRN)
	assert.NotNil(t, fields.FineAmounts)
	assert.NotNil(t, fields.HandbookReferences)
	assert.False(t, fields.HasDiscount)
	assert.Equal(t, "other", fields.OutcomeType)
}

func TestDetectDocumentType(t *testing.T) {
	assert.Equal(t, domain.DocFinalNotice, DetectDocumentType("FINAL NOTICE\nThis follows the Decision Notice issued in May."))
	assert.Equal(t, domain.DocWarningNotice, DetectDocumentType("Warning Statement about a proposed action"))
	assert.Equal(t, domain.DocSupervisoryNotice, DetectDocumentType("FIRST SUPERVISORY NOTICE"))
	assert.Equal(t, domain.DocOther, DetectDocumentType("Minutes of the board meeting"))
	assert.Equal(t, domain.DocOther, DetectDocumentType(""))
}

func TestDetectOutcomeType(t *testing.T) {
	assert.Equal(t, "fine", DetectOutcomeType("imposes a financial penalty of £5m"))
	assert.Equal(t, "prohibition", DetectOutcomeType("makes a prohibition order against Mr X"))
	assert.Equal(t, "cancellation", DetectOutcomeType("the Authority cancelled its Part 4A permission"))
	assert.Equal(t, "public_censure", DetectOutcomeType("publishes a statement of public censure"))
	assert.Equal(t, "other", DetectOutcomeType("nothing of interest"))
}

func TestTypeFromLabel(t *testing.T) {
	assert.Equal(t, domain.DocFinalNotice, TypeFromLabel("Final notices"))
	assert.Equal(t, domain.DocWarningNotice, TypeFromLabel(" Warning statement "))
	assert.Equal(t, domain.DocOther, TypeFromLabel("News story"))
}
