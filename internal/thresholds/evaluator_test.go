package thresholds

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"costshub/internal/costmodel"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(provider costmodel.Provider, day int, total string, services map[string]string) costmodel.UnifiedCostRecord {
	svcs := make(map[string]costmodel.ServiceCost, len(services))
	for name, cost := range services {
		svcs[name] = costmodel.ServiceCost{
			RawName: name,
			Cost:    decimal.RequireFromString(cost),
		}
	}
	return costmodel.UnifiedCostRecord{
		ClientID:  "acme",
		Provider:  provider,
		Date:      time.Date(2026, 8, day, 0, 0, 0, 0, time.UTC),
		TotalCost: decimal.RequireFromString(total),
		Services:  svcs,
	}
}

func TestEvaluateEmptyConfig(t *testing.T) {
	results := Evaluate(Config{}, []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderAWS, 20, "100.00", nil),
	}, nil)
	assert.Empty(t, results)
}

func TestTotalAbsolute(t *testing.T) {
	cfg := Config{Thresholds: []Threshold{{
		Name:     "daily-cap",
		Type:     TypeTotalAbsolute,
		Severity: SeverityHigh,
		Operator: OpGreaterThan,
		Limit:    decimal.RequireFromString("150.00"),
	}}}

	current := []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderAWS, 20, "100.00", nil),
		rec(costmodel.ProviderGCP, 20, "60.00", nil),
	}

	results := Evaluate(cfg, current, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].Triggered)
	assert.True(t, results[0].CurrentValue.Equal(decimal.RequireFromString("160.00")))
	assert.NotEmpty(t, results[0].Message)

	// Under the limit: result returned but not triggered
	results = Evaluate(cfg, current[:1], nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Triggered)
}

func TestTotalAbsoluteProviderFilter(t *testing.T) {
	cfg := Config{Thresholds: []Threshold{{
		Name:     "aws-cap",
		Type:     TypeTotalAbsolute,
		Severity: SeverityMedium,
		Operator: OpGreaterOrEqual,
		Limit:    decimal.RequireFromString("100.00"),
		Provider: costmodel.ProviderAWS,
	}}}

	current := []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderAWS, 20, "100.00", nil),
		rec(costmodel.ProviderGCP, 20, "500.00", nil),
	}

	results := Evaluate(cfg, current, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].Triggered)
	assert.True(t, results[0].CurrentValue.Equal(decimal.RequireFromString("100.00")),
		"GCP spend must not count toward an AWS-scoped threshold")
}

func TestServiceAbsolute(t *testing.T) {
	cfg := Config{Thresholds: []Threshold{{
		Name:     "lambda-cap",
		Type:     TypeServiceAbsolute,
		Severity: SeverityLow,
		Operator: OpGreaterThan,
		Limit:    decimal.RequireFromString("40.00"),
		Service:  "AWS Lambda",
	}}}

	current := []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderAWS, 19, "60.00", map[string]string{"AWS Lambda": "25.00"}),
		rec(costmodel.ProviderAWS, 20, "60.00", map[string]string{"AWS Lambda": "30.00"}),
	}

	results := Evaluate(cfg, current, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].Triggered)
	assert.True(t, results[0].CurrentValue.Equal(decimal.RequireFromString("55.00")))
}

func TestPercentChange(t *testing.T) {
	cfg := Config{Thresholds: []Threshold{{
		Name:     "spike",
		Type:     TypePercentChange,
		Severity: SeverityCritical,
		Operator: OpGreaterThan,
		Limit:    decimal.RequireFromString("50"),
	}}}

	history := []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderAWS, 10, "100.00", nil),
		rec(costmodel.ProviderAWS, 11, "100.00", nil),
	}
	current := []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderAWS, 20, "180.00", nil),
	}

	results := Evaluate(cfg, current, history)
	require.Len(t, results, 1)
	assert.True(t, results[0].Triggered)
	assert.True(t, results[0].BaselineValue.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, results[0].PercentChange.Equal(decimal.RequireFromString("80")))
	assert.False(t, results[0].NewBaseline)
}

func TestPercentChangeZeroBaseline(t *testing.T) {
	cfg := Config{Thresholds: []Threshold{{
		Name:     "spike",
		Type:     TypePercentChange,
		Severity: SeverityHigh,
		Operator: OpGreaterThan,
		Limit:    decimal.RequireFromString("50"),
	}}}

	current := []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderGCP, 20, "42.00", nil),
	}

	// No history at all: new spend reads as a 100% increase, flagged as new
	results := Evaluate(cfg, current, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].Triggered)
	assert.True(t, results[0].PercentChange.Equal(decimal.RequireFromString("100")))
	assert.True(t, results[0].NewBaseline)

	// Zero history and zero current: nothing to report
	results = Evaluate(cfg, []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderGCP, 20, "0", nil),
	}, nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Triggered)
	assert.False(t, results[0].NewBaseline)
}

func recAt(provider costmodel.Provider, date time.Time, total string) costmodel.UnifiedCostRecord {
	return costmodel.UnifiedCostRecord{
		ClientID:  "acme",
		Provider:  provider,
		Date:      date,
		TotalCost: decimal.RequireFromString(total),
	}
}

func TestPercentChangeBaselinePeriods(t *testing.T) {
	current := []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderAWS, 20, "200.00", nil),
	}
	history := []costmodel.UnifiedCostRecord{
		// Same day one month before the current record
		recAt(costmodel.ProviderAWS, time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC), "50.00"),
		// Inside the trailing 30 days but outside the trailing 7
		recAt(costmodel.ProviderAWS, time.Date(2026, 7, 25, 0, 0, 0, 0, time.UTC), "70.00"),
		rec(costmodel.ProviderAWS, 14, "100.00", nil),
		rec(costmodel.ProviderAWS, 15, "100.00", nil),
	}

	evalWith := func(period Period) AlertResult {
		cfg := Config{Thresholds: []Threshold{{
			Name:     "spike",
			Type:     TypePercentChange,
			Severity: SeverityHigh,
			Operator: OpGreaterThan,
			Limit:    decimal.Zero,
			Period:   period,
		}}}
		results := Evaluate(cfg, current, history)
		require.Len(t, results, 1)
		return results[0]
	}

	week := evalWith(PeriodTrailing7d)
	assert.True(t, week.BaselineValue.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, week.PercentChange.Equal(decimal.RequireFromString("100")))

	month := evalWith(PeriodLastMonth)
	assert.True(t, month.BaselineValue.Equal(decimal.RequireFromString("50.00")))
	assert.True(t, month.PercentChange.Equal(decimal.RequireFromString("300")))

	// Trailing 30 days averages everything after the last-month boundary
	trailing := evalWith(PeriodTrailing30d)
	assert.True(t, trailing.BaselineValue.Equal(decimal.RequireFromString("90.00")))

	// An unset period defaults to the trailing 30 days
	assert.True(t, evalWith("").BaselineValue.Equal(trailing.BaselineValue))
}

func TestResultsOrderedBySeverity(t *testing.T) {
	cfg := Config{Thresholds: []Threshold{
		{Name: "low", Type: TypeTotalAbsolute, Severity: SeverityLow, Operator: OpGreaterThan, Limit: decimal.Zero},
		{Name: "critical", Type: TypeTotalAbsolute, Severity: SeverityCritical, Operator: OpGreaterThan, Limit: decimal.Zero},
		{Name: "medium", Type: TypeTotalAbsolute, Severity: SeverityMedium, Operator: OpGreaterThan, Limit: decimal.Zero},
	}}

	results := Evaluate(cfg, []costmodel.UnifiedCostRecord{
		rec(costmodel.ProviderAWS, 20, "10.00", nil),
	}, nil)
	require.Len(t, results, 3)
	assert.Equal(t, "critical", results[0].ThresholdName)
	assert.Equal(t, "medium", results[1].ThresholdName)
	assert.Equal(t, "low", results[2].ThresholdName)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	content := `thresholds:
  - name: daily-cap
    type: total_absolute
    severity: high
    operator: ">"
    limit: "250.00"
  - name: lambda-cap
    type: SERVICE_ABSOLUTE
    severity: LOW
    service: AWS Lambda
    limit: "40.50"
  - name: aws-spike
    type: percent_change
    severity: critical
    operator: ">="
    limit: "30"
    provider: aws
    period: last_month
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Thresholds, 3)

	assert.Equal(t, TypeTotalAbsolute, cfg.Thresholds[0].Type)
	assert.Equal(t, SeverityHigh, cfg.Thresholds[0].Severity)
	assert.True(t, cfg.Thresholds[0].Limit.Equal(decimal.RequireFromString("250.00")))

	// Omitted operator and period get defaults
	assert.Equal(t, OpGreaterThan, cfg.Thresholds[1].Operator)
	assert.Equal(t, "AWS Lambda", cfg.Thresholds[1].Service)
	assert.Equal(t, PeriodTrailing30d, cfg.Thresholds[1].Period)

	assert.Equal(t, costmodel.ProviderAWS, cfg.Thresholds[2].Provider)
	assert.Equal(t, PeriodLastMonth, cfg.Thresholds[2].Period)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	// Missing file is an empty config, not an error
	cfg, err := LoadConfig(filepath.Join(dir, "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Thresholds)

	write := func(content string) string {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	_, err = LoadConfig(write("thresholds:\n  - name: x\n    type: BOGUS\n    severity: low\n    limit: \"1\"\n"))
	assert.Error(t, err)

	_, err = LoadConfig(write("thresholds:\n  - name: x\n    type: total_absolute\n    severity: low\n    limit: \"not-a-number\"\n"))
	assert.Error(t, err)

	_, err = LoadConfig(write("thresholds:\n  - name: x\n    type: service_absolute\n    severity: low\n    limit: \"1\"\n"))
	assert.Error(t, err, "SERVICE_ABSOLUTE without a service must fail")

	_, err = LoadConfig(write("thresholds:\n  - name: x\n    type: percent_change\n    severity: low\n    limit: \"1\"\n    period: fortnight\n"))
	assert.Error(t, err)
}
