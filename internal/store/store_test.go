package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"costshub/internal/costmodel"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(clientID string, provider costmodel.Provider, date time.Time, total string) costmodel.UnifiedCostRecord {
	return costmodel.UnifiedCostRecord{
		ClientID:  clientID,
		Provider:  provider,
		Date:      costmodel.Day(date),
		TotalCost: decimal.RequireFromString(total),
		Currency:  "USD",
		Quality:   costmodel.QualityComplete,
	}
}

func TestPutAndGetHistory(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore("")
	require.NoError(t, err)

	base := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, record("acme", costmodel.ProviderAWS, base, "10.00")))
	require.NoError(t, s.Put(ctx, record("acme", costmodel.ProviderGCP, base, "5.00")))
	require.NoError(t, s.Put(ctx, record("acme", costmodel.ProviderAWS, base.AddDate(0, 0, 1), "12.00")))
	require.NoError(t, s.Put(ctx, record("globex", costmodel.ProviderAWS, base, "99.00")))

	history, err := s.GetHistory(ctx, "acme", base, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, history, 3)

	// Date-ordered, providers interleaved within a day
	assert.Equal(t, base, history[0].Date)
	assert.Equal(t, base, history[1].Date)
	assert.Equal(t, base.AddDate(0, 0, 1), history[2].Date)

	// Range excludes outside days
	history, err = s.GetHistory(ctx, "acme", base.AddDate(0, 0, 1), base.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPutLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore("")
	require.NoError(t, err)

	date := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, record("acme", costmodel.ProviderAWS, date, "10.00")))
	require.NoError(t, s.Put(ctx, record("acme", costmodel.ProviderAWS, date, "20.00")))

	assert.Equal(t, 1, s.Len())
	history, err := s.GetHistory(ctx, "acme", date, date)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].TotalCost.Equal(decimal.RequireFromString("20.00")))
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.json")

	s, err := NewMemoryStore(path)
	require.NoError(t, err)

	date := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, record("acme", costmodel.ProviderAzure, date, "33.50")))

	// A fresh store over the same file sees the record
	reopened, err := NewMemoryStore(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	history, err := reopened.GetHistory(ctx, "acme", date, date)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, costmodel.ProviderAzure, history[0].Provider)
	assert.True(t, history[0].TotalCost.Equal(decimal.RequireFromString("33.50")))
}

func TestSnapshotMissingFileIsFine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-written.json")
	s, err := NewMemoryStore(path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}
