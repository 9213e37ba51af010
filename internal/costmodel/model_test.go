package costmodel

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input    string
		expected Provider
		wantErr  bool
	}{
		{"aws", ProviderAWS, false},
		{"AWS", ProviderAWS, false},
		{" Azure ", ProviderAzure, false},
		{"gcp", ProviderGCP, false},
		{"google", ProviderGCP, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		p, err := ParseProvider(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.expected, p)
	}
}

func TestRecordKey(t *testing.T) {
	rec := UnifiedCostRecord{
		ClientID: "acme",
		Provider: ProviderAWS,
		Date:     time.Date(2026, 8, 20, 15, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
	}
	assert.Equal(t, "acme|AWS|2026-08-20", rec.Key())
}

func newRecord(services map[string]ServiceCost, total string) UnifiedCostRecord {
	return UnifiedCostRecord{
		ClientID:  "acme",
		Provider:  ProviderAWS,
		Date:      Day(time.Now()),
		TotalCost: decimal.RequireFromString(total),
		Currency:  "USD",
		Services:  services,
		Quality:   QualityComplete,
	}
}

func TestReconcileQuality(t *testing.T) {
	t.Run("within epsilon stays complete", func(t *testing.T) {
		rec := newRecord(map[string]ServiceCost{
			"AWS Lambda": {Cost: decimal.RequireFromString("10.005")},
		}, "10.00")
		rec.ReconcileQuality(DefaultEpsilon)
		assert.Equal(t, QualityComplete, rec.Quality)
	})

	t.Run("drift beyond epsilon degrades to partial", func(t *testing.T) {
		rec := newRecord(map[string]ServiceCost{
			"AWS Lambda": {Cost: decimal.RequireFromString("10.50")},
		}, "10.00")
		rec.ReconcileQuality(DefaultEpsilon)
		assert.Equal(t, QualityPartial, rec.Quality)
	})
}

func TestCategoryTotals(t *testing.T) {
	rec := newRecord(map[string]ServiceCost{
		"AWS Lambda": {
			Category:   CategoryCompute,
			Confidence: ConfidenceExact,
			Cost:       decimal.RequireFromString("5.00"),
		},
		"Amazon Elastic Compute Cloud - Compute": {
			Category:   CategoryCompute,
			Confidence: ConfidenceExact,
			Cost:       decimal.RequireFromString("20.00"),
		},
		"Some Obscure Thing": {
			Category:   CategoryOther,
			Confidence: ConfidenceUnknown,
			Cost:       decimal.RequireFromString("3.00"),
		},
	}, "28.00")

	// Totals always include everything
	assert.True(t, rec.ServiceTotal().Equal(decimal.RequireFromString("28.00")))

	withUnknown := rec.CategoryTotals(false)
	assert.True(t, withUnknown[CategoryCompute].Equal(decimal.RequireFromString("25.00")))
	assert.True(t, withUnknown[CategoryOther].Equal(decimal.RequireFromString("3.00")))

	withoutUnknown := rec.CategoryTotals(true)
	assert.True(t, withoutUnknown[CategoryCompute].Equal(decimal.RequireFromString("25.00")))
	_, hasOther := withoutUnknown[CategoryOther]
	assert.False(t, hasOther, "UNKNOWN-confidence services should be excluded from the roll-up")
}

func TestDay(t *testing.T) {
	in := time.Date(2026, 8, 20, 23, 59, 59, 0, time.FixedZone("PST", -8*3600))
	out := Day(in)
	assert.Equal(t, time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC), out)
}
