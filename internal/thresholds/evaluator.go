package thresholds

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"costshub/internal/costmodel"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Severity orders alerts from least to most urgent.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Operator is the comparison applied between the observed value and the
// threshold limit.
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLessThan       Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
)

func (op Operator) compare(value, limit decimal.Decimal) bool {
	switch op {
	case OpGreaterThan:
		return value.GreaterThan(limit)
	case OpGreaterOrEqual:
		return value.GreaterThanOrEqual(limit)
	case OpLessThan:
		return value.LessThan(limit)
	case OpLessOrEqual:
		return value.LessThanOrEqual(limit)
	case OpEqual:
		return value.Equal(limit)
	}
	return false
}

// Type selects what a threshold measures.
type Type string

const (
	// TypeTotalAbsolute compares the total cost across all current records.
	TypeTotalAbsolute Type = "TOTAL_ABSOLUTE"
	// TypeServiceAbsolute compares one raw service's cost.
	TypeServiceAbsolute Type = "SERVICE_ABSOLUTE"
	// TypePercentChange compares the percent change of the current total
	// against the historical baseline.
	TypePercentChange Type = "PERCENT_CHANGE"
)

// Period names the historical window a PERCENT_CHANGE baseline is drawn
// from, relative to the evaluated records' date range.
type Period string

const (
	// PeriodTrailing7d averages the 7 days before the current period.
	PeriodTrailing7d Period = "TRAILING_7D"
	// PeriodTrailing30d averages the 30 days before the current period.
	PeriodTrailing30d Period = "TRAILING_30D"
	// PeriodLastMonth averages the same date range one calendar month
	// earlier.
	PeriodLastMonth Period = "LAST_MONTH"
)

// Threshold is one configured rule.
type Threshold struct {
	Name     string   `yaml:"name"`
	Type     Type     `yaml:"type"`
	Severity Severity `yaml:"severity"`
	Operator Operator `yaml:"operator"`

	// Limit is the absolute amount, or for PERCENT_CHANGE the percentage.
	// YAML carries it as a string so amounts never pass through binary
	// floating point.
	Limit decimal.Decimal `yaml:"-"`

	// Service names the raw service a SERVICE_ABSOLUTE rule measures.
	Service string `yaml:"service,omitempty"`

	// Provider optionally restricts the rule to one provider's records.
	Provider costmodel.Provider `yaml:"provider,omitempty"`

	// Period selects the baseline window for a PERCENT_CHANGE rule.
	// Defaults to TRAILING_30D.
	Period Period `yaml:"period,omitempty"`
}

// Config is a set of thresholds.
type Config struct {
	Thresholds []Threshold `yaml:"thresholds"`
}

// AlertResult is the evaluation of one threshold. Results are returned for
// every configured threshold, triggered or not, so callers can report the
// full picture.
type AlertResult struct {
	ThresholdName string
	Severity      Severity
	Triggered     bool
	CurrentValue  decimal.Decimal
	BaselineValue decimal.Decimal
	PercentChange decimal.Decimal
	// NewBaseline marks a PERCENT_CHANGE evaluation whose history had no
	// spend: the current value is new cost with nothing to compare against.
	NewBaseline bool
	Message     string
}

// Evaluate checks every configured threshold against the current records.
// Percent-change rules each draw their baseline from the window of history
// their configured period selects, so history should cover the widest period
// any rule names. An empty config yields an empty, non-error result. Results
// are ordered most severe first.
func Evaluate(cfg Config, current, history []costmodel.UnifiedCostRecord) []AlertResult {
	results := make([]AlertResult, 0, len(cfg.Thresholds))
	for _, t := range cfg.Thresholds {
		results = append(results, evaluateOne(t, current, history))
	}
	sort.SliceStable(results, func(i, j int) bool {
		return severityRank[results[i].Severity] > severityRank[results[j].Severity]
	})
	return results
}

func evaluateOne(t Threshold, current, history []costmodel.UnifiedCostRecord) AlertResult {
	result := AlertResult{
		ThresholdName: t.Name,
		Severity:      t.Severity,
	}

	switch t.Type {
	case TypeTotalAbsolute:
		result.CurrentValue = totalCost(filterProvider(current, t.Provider))
		result.Triggered = t.Operator.compare(result.CurrentValue, t.Limit)
		if result.Triggered {
			result.Message = fmt.Sprintf("total cost %s %s limit %s",
				result.CurrentValue.StringFixed(2), t.Operator, t.Limit.StringFixed(2))
		}

	case TypeServiceAbsolute:
		result.CurrentValue = serviceCost(filterProvider(current, t.Provider), t.Service)
		result.Triggered = t.Operator.compare(result.CurrentValue, t.Limit)
		if result.Triggered {
			result.Message = fmt.Sprintf("service %s cost %s %s limit %s",
				t.Service, result.CurrentValue.StringFixed(2), t.Operator, t.Limit.StringFixed(2))
		}

	case TypePercentChange:
		// Both sides are average daily cost so current periods longer than a
		// day compare at the same unit as the baseline window.
		scoped := filterProvider(current, t.Provider)
		result.CurrentValue = averageDailyCost(scoped)
		result.BaselineValue = baseline(t.Period, scoped, filterProvider(history, t.Provider))

		if result.BaselineValue.IsZero() {
			// No historical spend to compare against. Any new spend reads as
			// a 100% increase and is flagged as a fresh baseline.
			if result.CurrentValue.IsZero() {
				result.PercentChange = decimal.Zero
			} else {
				result.PercentChange = decimal.NewFromInt(100)
				result.NewBaseline = true
			}
		} else {
			result.PercentChange = result.CurrentValue.Sub(result.BaselineValue).
				Div(result.BaselineValue).Mul(decimal.NewFromInt(100))
		}

		result.Triggered = t.Operator.compare(result.PercentChange, t.Limit)
		if result.Triggered {
			result.Message = fmt.Sprintf("cost changed %s%% against baseline %s (limit %s%%)",
				result.PercentChange.StringFixed(1), result.BaselineValue.StringFixed(2), t.Limit.StringFixed(1))
			if result.NewBaseline {
				result.Message += ", no prior spend"
			}
		}
	}

	return result
}

// baseline derives the comparison value for a PERCENT_CHANGE rule from the
// slice of history the rule's period selects, framed against the current
// records' date range.
func baseline(period Period, current, history []costmodel.UnifiedCostRecord) decimal.Decimal {
	start, end, ok := dateBounds(current)
	if !ok {
		return averageDailyCost(history)
	}

	switch period {
	case PeriodLastMonth:
		return averageDailyCost(recordsBetween(history,
			start.AddDate(0, -1, 0), end.AddDate(0, -1, 0)))
	case PeriodTrailing7d:
		return averageDailyCost(recordsBetween(history,
			start.AddDate(0, 0, -7), start.AddDate(0, 0, -1)))
	default:
		return averageDailyCost(recordsBetween(history,
			start.AddDate(0, 0, -30), start.AddDate(0, 0, -1)))
	}
}

// dateBounds returns the earliest and latest record dates.
func dateBounds(records []costmodel.UnifiedCostRecord) (time.Time, time.Time, bool) {
	if len(records) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end := records[0].Date, records[0].Date
	for _, rec := range records[1:] {
		if rec.Date.Before(start) {
			start = rec.Date
		}
		if rec.Date.After(end) {
			end = rec.Date
		}
	}
	return start, end, true
}

// recordsBetween returns the records dated within [start, end] inclusive.
func recordsBetween(records []costmodel.UnifiedCostRecord, start, end time.Time) []costmodel.UnifiedCostRecord {
	var out []costmodel.UnifiedCostRecord
	for _, rec := range records {
		if rec.Date.Before(start) || rec.Date.After(end) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func filterProvider(records []costmodel.UnifiedCostRecord, provider costmodel.Provider) []costmodel.UnifiedCostRecord {
	if provider == "" {
		return records
	}
	var out []costmodel.UnifiedCostRecord
	for _, rec := range records {
		if rec.Provider == provider {
			out = append(out, rec)
		}
	}
	return out
}

func totalCost(records []costmodel.UnifiedCostRecord) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		total = total.Add(rec.TotalCost)
	}
	return total
}

func serviceCost(records []costmodel.UnifiedCostRecord, service string) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		if sc, ok := rec.Services[service]; ok {
			total = total.Add(sc.Cost)
		}
	}
	return total
}

// averageDailyCost averages total cost over the distinct dates present, so a
// longer history window does not inflate the baseline.
func averageDailyCost(records []costmodel.UnifiedCostRecord) decimal.Decimal {
	if len(records) == 0 {
		return decimal.Zero
	}
	days := make(map[string]struct{})
	total := decimal.Zero
	for _, rec := range records {
		total = total.Add(rec.TotalCost)
		days[rec.Date.UTC().Format("2006-01-02")] = struct{}{}
	}
	return total.Div(decimal.NewFromInt(int64(len(days))))
}

// yamlThreshold is the on-disk shape; Limit is a string to keep decimal
// amounts exact.
type yamlThreshold struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Severity string `yaml:"severity"`
	Operator string `yaml:"operator"`
	Limit    string `yaml:"limit"`
	Service  string `yaml:"service"`
	Provider string `yaml:"provider"`
	Period   string `yaml:"period"`
}

type yamlConfig struct {
	Thresholds []yamlThreshold `yaml:"thresholds"`
}

// LoadConfig reads a threshold config file. A missing path returns an empty
// config rather than an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("failed to read threshold config: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse threshold config: %w", err)
	}

	cfg := Config{Thresholds: make([]Threshold, 0, len(raw.Thresholds))}
	for i, rt := range raw.Thresholds {
		t, err := parseThreshold(rt)
		if err != nil {
			return Config{}, fmt.Errorf("threshold %d (%s): %w", i, rt.Name, err)
		}
		cfg.Thresholds = append(cfg.Thresholds, t)
	}
	return cfg, nil
}

func parseThreshold(rt yamlThreshold) (Threshold, error) {
	if rt.Name == "" {
		return Threshold{}, fmt.Errorf("name is required")
	}

	t := Threshold{Name: rt.Name, Service: rt.Service}

	switch Type(strings.ToUpper(rt.Type)) {
	case TypeTotalAbsolute, TypeServiceAbsolute, TypePercentChange:
		t.Type = Type(strings.ToUpper(rt.Type))
	default:
		return Threshold{}, fmt.Errorf("invalid type: %q", rt.Type)
	}
	if t.Type == TypeServiceAbsolute && t.Service == "" {
		return Threshold{}, fmt.Errorf("service is required for %s", TypeServiceAbsolute)
	}

	switch Severity(strings.ToUpper(rt.Severity)) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		t.Severity = Severity(strings.ToUpper(rt.Severity))
	default:
		return Threshold{}, fmt.Errorf("invalid severity: %q", rt.Severity)
	}

	switch Operator(rt.Operator) {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpEqual:
		t.Operator = Operator(rt.Operator)
	case "":
		t.Operator = OpGreaterThan
	default:
		return Threshold{}, fmt.Errorf("invalid operator: %q", rt.Operator)
	}

	limit, err := decimal.NewFromString(rt.Limit)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid limit %q: %w", rt.Limit, err)
	}
	t.Limit = limit

	if rt.Provider != "" {
		p, err := costmodel.ParseProvider(rt.Provider)
		if err != nil {
			return Threshold{}, err
		}
		t.Provider = p
	}

	switch Period(strings.ToUpper(rt.Period)) {
	case PeriodTrailing7d, PeriodTrailing30d, PeriodLastMonth:
		t.Period = Period(strings.ToUpper(rt.Period))
	case "":
		t.Period = PeriodTrailing30d
	default:
		return Threshold{}, fmt.Errorf("invalid period: %q", rt.Period)
	}

	return t, nil
}
