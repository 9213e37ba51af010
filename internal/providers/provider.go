package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"costshub/internal/costmodel"
	"costshub/internal/credstore"
	"costshub/internal/mapper"

	"github.com/shopspring/decimal"
)

// RawRow is one billing line item as returned by a provider's billing API,
// before any unification.
type RawRow struct {
	Date        time.Time
	Service     string
	AccountID   string
	AccountName string
	Region      string
	Amount      decimal.Decimal
	Currency    string
	Usage       map[string]float64
	Metadata    map[string]interface{}
}

// RawResponse is a provider's billing output for one client over a date
// range. Dropped counts rows the adapter could not interpret; a non-zero
// count degrades the normalized records to PARTIAL quality.
type RawResponse struct {
	Provider costmodel.Provider
	ClientID string
	Start    time.Time
	End      time.Time
	Rows     []RawRow
	Dropped  int
}

// Adapter fetches billing data from one provider and normalizes it into the
// unified model. FetchCosts performs the network work; Normalize is pure.
type Adapter interface {
	// Provider returns the provider this adapter serves.
	Provider() costmodel.Provider

	// Version identifies the adapter build, recorded into each record's
	// collection metadata.
	Version() string

	// FetchCosts queries the provider's billing API for daily costs in
	// [start, end], using the client's credential bundle.
	FetchCosts(ctx context.Context, creds *credstore.Credentials, start, end time.Time) (*RawResponse, error)

	// Normalize converts a raw response into unified records, one per
	// calendar date present in the response.
	Normalize(resp *RawResponse) ([]costmodel.UnifiedCostRecord, error)
}

// Factory maintains the registry of provider adapters.
type Factory struct {
	adapters map[costmodel.Provider]Adapter
}

// NewFactory creates an empty adapter factory.
func NewFactory() *Factory {
	return &Factory{adapters: make(map[costmodel.Provider]Adapter)}
}

// Register adds an adapter to the factory.
func (f *Factory) Register(a Adapter) error {
	p := a.Provider()
	if _, exists := f.adapters[p]; exists {
		return fmt.Errorf("adapter for provider '%s' already registered", p)
	}
	f.adapters[p] = a
	return nil
}

// Adapter retrieves the adapter for a provider.
func (f *Factory) Adapter(p costmodel.Provider) (Adapter, error) {
	a, ok := f.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider '%s'", p)
	}
	return a, nil
}

// Providers returns the registered providers in sorted order.
func (f *Factory) Providers() []costmodel.Provider {
	out := make([]costmodel.Provider, 0, len(f.adapters))
	for p := range f.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultFactory registers the built-in adapters against a shared mapper.
func DefaultFactory(m *mapper.Mapper, now func() time.Time) *Factory {
	f := NewFactory()
	// Register cannot fail here: each provider appears once.
	_ = f.Register(NewAWSAdapter(m, now))
	_ = f.Register(NewAzureAdapter(m, now))
	_ = f.Register(NewGCPAdapter(m, now))
	return f
}

// normalizeResponse is the shared normalization path. It groups rows by UTC
// calendar date, maps each service through the category mapper, and merges
// per-service, per-account, and per-region totals. The record total includes
// UNKNOWN-mapped services; dropped rows degrade quality to PARTIAL.
func normalizeResponse(resp *RawResponse, m *mapper.Mapper, adapterVersion string, now func() time.Time) ([]costmodel.UnifiedCostRecord, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response")
	}

	byDate := make(map[time.Time]*costmodel.UnifiedCostRecord)
	for _, row := range resp.Rows {
		day := costmodel.Day(row.Date)
		rec, ok := byDate[day]
		if !ok {
			rec = &costmodel.UnifiedCostRecord{
				ClientID:  resp.ClientID,
				Provider:  resp.Provider,
				Date:      day,
				TotalCost: decimal.Zero,
				Currency:  row.Currency,
				Services:  make(map[string]costmodel.ServiceCost),
				Accounts:  make(map[string]costmodel.AccountCost),
				Regions:   make(map[string]costmodel.RegionCost),
				Collection: costmodel.CollectionMeta{
					CollectedAt:    now(),
					AdapterVersion: adapterVersion,
				},
				Quality: costmodel.QualityComplete,
			}
			byDate[day] = rec
		}

		rec.TotalCost = rec.TotalCost.Add(row.Amount)

		if sc, ok := rec.Services[row.Service]; ok {
			sc.Cost = sc.Cost.Add(row.Amount)
			mergeUsage(sc.Usage, row.Usage)
			rec.Services[row.Service] = sc
		} else {
			category, confidence := m.Map(resp.Provider, row.Service)
			usage := make(map[string]float64, len(row.Usage))
			mergeUsage(usage, row.Usage)
			rec.Services[row.Service] = costmodel.ServiceCost{
				RawName:    row.Service,
				Category:   category,
				Confidence: confidence,
				Cost:       row.Amount,
				Currency:   row.Currency,
				Usage:      usage,
				Metadata:   row.Metadata,
			}
		}

		if row.AccountID != "" {
			if ac, ok := rec.Accounts[row.AccountID]; ok {
				ac.Cost = ac.Cost.Add(row.Amount)
				rec.Accounts[row.AccountID] = ac
			} else {
				rec.Accounts[row.AccountID] = costmodel.AccountCost{
					AccountID:   row.AccountID,
					AccountName: row.AccountName,
					Cost:        row.Amount,
					Currency:    row.Currency,
				}
			}
		}

		if row.Region != "" {
			if rc, ok := rec.Regions[row.Region]; ok {
				rc.Cost = rc.Cost.Add(row.Amount)
				rec.Regions[row.Region] = rc
			} else {
				rec.Regions[row.Region] = costmodel.RegionCost{
					Region:   row.Region,
					Cost:     row.Amount,
					Currency: row.Currency,
				}
			}
		}
	}

	records := make([]costmodel.UnifiedCostRecord, 0, len(byDate))
	for _, rec := range byDate {
		if resp.Dropped > 0 {
			rec.Quality = costmodel.QualityPartial
		}
		rec.ReconcileQuality(costmodel.DefaultEpsilon)
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
	return records, nil
}

func mergeUsage(dst, src map[string]float64) {
	for k, v := range src {
		dst[k] += v
	}
}
