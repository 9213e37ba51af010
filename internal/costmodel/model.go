package costmodel

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies a supported cloud provider. The set is closed: adding a
// provider means adding an adapter, not registering a plugin.
type Provider string

const (
	ProviderAWS   Provider = "AWS"
	ProviderGCP   Provider = "GCP"
	ProviderAzure Provider = "AZURE"
)

// AllProviders returns the supported providers in stable order.
func AllProviders() []Provider {
	return []Provider{ProviderAWS, ProviderAzure, ProviderGCP}
}

// ParseProvider converts a case-insensitive string to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AWS":
		return ProviderAWS, nil
	case "GCP", "GOOGLE":
		return ProviderGCP, nil
	case "AZURE":
		return ProviderAzure, nil
	default:
		return "", fmt.Errorf("unknown provider '%s'", s)
	}
}

// Category is the unified, provider-agnostic service classification.
type Category string

const (
	CategoryCompute    Category = "COMPUTE"
	CategoryStorage    Category = "STORAGE"
	CategoryDatabase   Category = "DATABASE"
	CategoryNetworking Category = "NETWORKING"
	CategoryAIML       Category = "AI_ML"
	CategoryAnalytics  Category = "ANALYTICS"
	CategorySecurity   Category = "SECURITY"
	CategoryManagement Category = "MANAGEMENT"
	CategoryOther      Category = "OTHER"
)

// AllCategories returns the unified taxonomy in stable order.
func AllCategories() []Category {
	return []Category{
		CategoryCompute,
		CategoryStorage,
		CategoryDatabase,
		CategoryNetworking,
		CategoryAIML,
		CategoryAnalytics,
		CategorySecurity,
		CategoryManagement,
		CategoryOther,
	}
}

// Confidence describes how reliable a category mapping is.
type Confidence string

const (
	ConfidenceExact   Confidence = "EXACT"
	ConfidenceAlias   Confidence = "ALIAS"
	ConfidenceFuzzy   Confidence = "FUZZY"
	ConfidenceUnknown Confidence = "UNKNOWN"
)

// DataQuality indicates whether a cost record is fully reconciled.
type DataQuality string

const (
	QualityComplete  DataQuality = "COMPLETE"
	QualityPartial   DataQuality = "PARTIAL"
	QualityEstimated DataQuality = "ESTIMATED"
)

// DefaultEpsilon is the tolerance used when reconciling per-service sums
// against a record's total. Provider billing APIs round independently per
// line item, so sub-cent drift is expected.
var DefaultEpsilon = decimal.NewFromFloat(0.01)

// ServiceCost is the cost of one provider-native service on one day.
type ServiceCost struct {
	RawName    string                 `json:"raw_name"`
	Category   Category               `json:"category"`
	Confidence Confidence             `json:"confidence"`
	Cost       decimal.Decimal        `json:"cost"`
	Currency   string                 `json:"currency"`
	Usage      map[string]float64     `json:"usage,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AccountCost is the cost attributed to one provider account (AWS account,
// Azure subscription, GCP project).
type AccountCost struct {
	AccountID   string          `json:"account_id"`
	AccountName string          `json:"account_name,omitempty"`
	Cost        decimal.Decimal `json:"cost"`
	Currency    string          `json:"currency"`
}

// RegionCost is the cost attributed to one provider region.
type RegionCost struct {
	Region   string          `json:"region"`
	Cost     decimal.Decimal `json:"cost"`
	Currency string          `json:"currency"`
}

// CollectionMeta records when and by what a record was collected.
type CollectionMeta struct {
	CollectedAt    time.Time `json:"collected_at"`
	AdapterVersion string    `json:"adapter_version"`
}

// UnifiedCostRecord is the common shape every provider normalizes into.
// One record covers one client+provider+calendar date. Records are immutable
// after creation; re-collection supersedes rather than mutates.
type UnifiedCostRecord struct {
	ClientID   string                 `json:"client_id"`
	Provider   Provider               `json:"provider"`
	Date       time.Time              `json:"date"`
	TotalCost  decimal.Decimal        `json:"total_cost"`
	Currency   string                 `json:"currency"`
	Services   map[string]ServiceCost `json:"services"`
	Accounts   map[string]AccountCost `json:"accounts,omitempty"`
	Regions    map[string]RegionCost  `json:"regions,omitempty"`
	Collection CollectionMeta         `json:"collection"`
	Quality    DataQuality            `json:"quality"`
}

// Key returns the identity used for last-write-wins persistence.
func (r *UnifiedCostRecord) Key() string {
	return fmt.Sprintf("%s|%s|%s", r.ClientID, r.Provider, r.Date.UTC().Format("2006-01-02"))
}

// ServiceTotal sums the per-service costs, including services mapped with
// UNKNOWN confidence. Totals always count every line item.
func (r *UnifiedCostRecord) ServiceTotal() decimal.Decimal {
	total := decimal.Zero
	for _, sc := range r.Services {
		total = total.Add(sc.Cost)
	}
	return total
}

// ReconcileQuality verifies that the per-service sum matches TotalCost within
// epsilon. Violations degrade quality to PARTIAL; they are never dropped.
func (r *UnifiedCostRecord) ReconcileQuality(epsilon decimal.Decimal) {
	diff := r.ServiceTotal().Sub(r.TotalCost).Abs()
	if diff.GreaterThan(epsilon) {
		r.Quality = QualityPartial
	}
}

// CategoryTotals rolls service costs up by unified category. When
// excludeUnknown is set, services mapped with UNKNOWN confidence are left out
// of the roll-up; they still count toward TotalCost.
func (r *UnifiedCostRecord) CategoryTotals(excludeUnknown bool) map[Category]decimal.Decimal {
	totals := make(map[Category]decimal.Decimal)
	for _, sc := range r.Services {
		if excludeUnknown && sc.Confidence == ConfidenceUnknown {
			continue
		}
		totals[sc.Category] = totals[sc.Category].Add(sc.Cost)
	}
	return totals
}

// ServiceNames returns the record's raw service names in sorted order.
func (r *UnifiedCostRecord) ServiceNames() []string {
	names := make([]string, 0, len(r.Services))
	for name := range r.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Day truncates a timestamp to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
