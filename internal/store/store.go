package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"costshub/internal/costmodel"
	"costshub/internal/logging"
)

// RecordStore persists unified cost records. Writes are last-write-wins keyed
// by (client, provider, date): two racing collections for the same key derive
// from the same source-of-truth billing API, so either result is acceptable.
type RecordStore interface {
	Put(ctx context.Context, record costmodel.UnifiedCostRecord) error
	GetHistory(ctx context.Context, clientID string, start, end time.Time) ([]costmodel.UnifiedCostRecord, error)
}

// MemoryStore is the in-memory RecordStore, with an optional JSON snapshot
// file so history survives process restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]costmodel.UnifiedCostRecord

	snapshotFile string
	saveLock     sync.Mutex
}

// NewMemoryStore creates a MemoryStore. When snapshotFile is non-empty, an
// existing snapshot is loaded and every Put rewrites it.
func NewMemoryStore(snapshotFile string) (*MemoryStore, error) {
	s := &MemoryStore{
		records:      make(map[string]costmodel.UnifiedCostRecord),
		snapshotFile: snapshotFile,
	}

	if snapshotFile != "" {
		dir := filepath.Dir(snapshotFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		if err := s.load(); err != nil {
			logging.Error("Failed to load record snapshot", err, map[string]interface{}{
				"snapshot_file": snapshotFile,
			})
		}
	}

	return s, nil
}

// Put implements RecordStore.
func (s *MemoryStore) Put(_ context.Context, record costmodel.UnifiedCostRecord) error {
	s.mu.Lock()
	s.records[record.Key()] = record
	s.mu.Unlock()

	if s.snapshotFile != "" {
		return s.save()
	}
	return nil
}

// GetHistory implements RecordStore. Records are returned in date order,
// providers interleaved.
func (s *MemoryStore) GetHistory(_ context.Context, clientID string, start, end time.Time) ([]costmodel.UnifiedCostRecord, error) {
	start = costmodel.Day(start)
	end = costmodel.Day(end)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []costmodel.UnifiedCostRecord
	for _, rec := range s.records {
		if rec.ClientID != clientID {
			continue
		}
		day := costmodel.Day(rec.Date)
		if day.Before(start) || day.After(end) {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Provider < out[j].Provider
	})
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) load() error {
	data, err := os.ReadFile(s.snapshotFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var records []costmodel.UnifiedCostRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse snapshot file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[rec.Key()] = rec
	}
	return nil
}

func (s *MemoryStore) save() error {
	s.saveLock.Lock()
	defer s.saveLock.Unlock()

	s.mu.RLock()
	records := make([]costmodel.UnifiedCostRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Key() < records[j].Key()
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := s.snapshotFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, s.snapshotFile)
}
