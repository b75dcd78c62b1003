package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore. Rows are
// seeded by tests and the --use-memory CLI mode; the engine only reads.
type BarStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CanonicalClose // keyed by (asset_id, timeframe, timestamp_ms)
}

// NewBarStore creates an empty in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{data: make(map[string]*domain.CanonicalClose)}
}

func barKey(assetID, timeframe string, tsMs int64) string {
	return fmt.Sprintf("%s|%s|%d", assetID, timeframe, tsMs)
}

// Seed loads source rows, overwriting rows with the same key.
func (s *BarStore) Seed(_ context.Context, bars []*domain.CanonicalClose) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range bars {
		if b == nil || b.AssetID == "" || b.Timeframe == "" {
			return storage.ErrInvalidInput
		}
		barCopy := *b
		s.data[barKey(b.AssetID, b.Timeframe, b.TimestampMs)] = &barCopy
	}
	return nil
}

// GetSince retrieves rows for (asset, timeframe) with timestamp >= fromMs,
// ordered by timestamp ASC.
func (s *BarStore) GetSince(_ context.Context, assetID, timeframe string, fromMs int64) ([]*domain.CanonicalClose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CanonicalClose
	for _, b := range s.data {
		if b.AssetID == assetID && b.Timeframe == timeframe && b.TimestampMs >= fromMs {
			barCopy := *b
			result = append(result, &barCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TimestampMs < result[j].TimestampMs })
	return result, nil
}

// CountCanonical returns the number of canonical rows for (asset, timeframe).
func (s *BarStore) CountCanonical(_ context.Context, assetID, timeframe string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, b := range s.data {
		if b.AssetID == assetID && b.Timeframe == timeframe && b.IsCanonical {
			count++
		}
	}
	return count, nil
}

// LastCloseBefore returns the most recent non-gap close strictly before
// beforeMs, or storage.ErrNotFound when no such row exists.
func (s *BarStore) LastCloseBefore(_ context.Context, assetID, timeframe string, beforeMs int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		bestTs    int64
		bestClose float64
		found     bool
	)
	for _, b := range s.data {
		if b.AssetID != assetID || b.Timeframe != timeframe || b.TimestampMs >= beforeMs {
			continue
		}
		if math.IsNaN(b.Close) {
			continue
		}
		if !found || b.TimestampMs > bestTs {
			bestTs = b.TimestampMs
			bestClose = b.Close
			found = true
		}
	}
	if !found {
		return 0, storage.ErrNotFound
	}
	return bestClose, nil
}

// ListAssetIDs returns the distinct asset ids present for a timeframe,
// sorted ascending.
func (s *BarStore) ListAssetIDs(_ context.Context, timeframe string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, b := range s.data {
		if b.Timeframe == timeframe {
			seen[b.AssetID] = struct{}{}
		}
	}
	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}

var _ storage.BarStore = (*BarStore)(nil)
