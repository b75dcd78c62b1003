package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

// EMAStore is an in-memory implementation of storage.EMAStore.
type EMAStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EMAPoint // keyed by (asset_id, timeframe, period, timestamp_ms)

	// canonicalWrites counts writes that changed a canonical row's values,
	// exposed for replay-safety tests.
	canonicalWrites int
}

// NewEMAStore creates an empty in-memory EMA store.
func NewEMAStore() *EMAStore {
	return &EMAStore{data: make(map[string]*domain.EMAPoint)}
}

func emaKey(assetID, timeframe string, period int, tsMs int64) string {
	return fmt.Sprintf("%s|%s|%d|%d", assetID, timeframe, period, tsMs)
}

// Upsert writes points keyed by (asset, timeframe, period, timestamp).
// Canonical rows are written only when absent or changed; preview rows
// always overwrite.
func (s *EMAStore) Upsert(_ context.Context, points []*domain.EMAPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if p == nil || p.AssetID == "" || p.Timeframe == "" {
			return storage.ErrInvalidInput
		}
		key := emaKey(p.AssetID, p.Timeframe, p.Period, p.TimestampMs)
		pointCopy := *p

		if existing, ok := s.data[key]; ok && !p.Roll && !existing.Roll {
			if existing.EMA == p.EMA && floatPtrEqual(existing.EMABar, p.EMABar) {
				continue // unchanged canonical row, skip the write
			}
			s.canonicalWrites++
		}
		s.data[key] = &pointCopy
	}
	return nil
}

// GetSeries retrieves all points for a triple, ordered by timestamp ASC.
func (s *EMAStore) GetSeries(_ context.Context, assetID, timeframe string, period int) ([]*domain.EMAPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EMAPoint
	for _, p := range s.data {
		if p.AssetID == assetID && p.Timeframe == timeframe && p.Period == period {
			pointCopy := *p
			result = append(result, &pointCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TimestampMs < result[j].TimestampMs })
	return result, nil
}

// GetAt retrieves the point at an exact timestamp. Returns ErrNotFound if
// absent.
func (s *EMAStore) GetAt(_ context.Context, assetID, timeframe string, period int, tsMs int64) (*domain.EMAPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[emaKey(assetID, timeframe, period, tsMs)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	pointCopy := *p
	return &pointCopy, nil
}

// GetCanonicalTail retrieves the n most recent canonical points with
// timestamp < beforeMs (beforeMs <= 0 means no bound), ordered by
// timestamp ASC.
func (s *EMAStore) GetCanonicalTail(_ context.Context, assetID, timeframe string, period int, beforeMs int64, n int) ([]*domain.EMAPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var canonical []*domain.EMAPoint
	for _, p := range s.data {
		if p.AssetID != assetID || p.Timeframe != timeframe || p.Period != period || p.Roll {
			continue
		}
		if beforeMs > 0 && p.TimestampMs >= beforeMs {
			continue
		}
		pointCopy := *p
		canonical = append(canonical, &pointCopy)
	}
	sort.Slice(canonical, func(i, j int) bool { return canonical[i].TimestampMs < canonical[j].TimestampMs })
	if len(canonical) > n {
		canonical = canonical[len(canonical)-n:]
	}
	return canonical, nil
}

// CanonicalRewrites returns how many upserts changed an already-written
// canonical row. Replay-safe pipelines keep this at zero.
func (s *EMAStore) CanonicalRewrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canonicalWrites
}

// Truncate removes all points for a triple. Used by the validation harness
// rebuild step.
func (s *EMAStore) Truncate(_ context.Context, assetID, timeframe string, period int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, p := range s.data {
		if p.AssetID == assetID && p.Timeframe == timeframe && p.Period == period {
			delete(s.data, key)
		}
	}
	return nil
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

var _ storage.EMAStore = (*EMAStore)(nil)
