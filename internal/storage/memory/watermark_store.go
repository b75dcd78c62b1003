package memory

import (
	"context"
	"fmt"
	"sync"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

// WatermarkStore is an in-memory implementation of storage.WatermarkStore.
type WatermarkStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WatermarkRecord // keyed by (asset_id, timeframe, period)
}

// NewWatermarkStore creates an empty in-memory watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{data: make(map[string]*domain.WatermarkRecord)}
}

func watermarkKey(assetID, timeframe string, period int) string {
	return fmt.Sprintf("%s|%s|%d", assetID, timeframe, period)
}

// EnsureSchema is a no-op for the in-memory backend.
func (s *WatermarkStore) EnsureSchema(_ context.Context) error {
	return nil
}

// Get retrieves the watermark for a triple. Returns ErrNotFound if the
// triple has never been computed.
func (s *WatermarkStore) Get(_ context.Context, assetID, timeframe string, period int) (*domain.WatermarkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.data[watermarkKey(assetID, timeframe, period)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	recordCopy := *w
	return &recordCopy, nil
}

// Upsert writes a watermark keyed by (asset, timeframe, period).
func (s *WatermarkStore) Upsert(_ context.Context, w *domain.WatermarkRecord) error {
	if w == nil || w.AssetID == "" || w.Timeframe == "" || w.Period <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recordCopy := *w
	s.data[watermarkKey(w.AssetID, w.Timeframe, w.Period)] = &recordCopy
	return nil
}

// Delete removes a watermark. Deleting an absent record is not an error.
func (s *WatermarkStore) Delete(_ context.Context, assetID, timeframe string, period int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, watermarkKey(assetID, timeframe, period))
	return nil
}

var _ storage.WatermarkStore = (*WatermarkStore)(nil)
