// Package state implements the watermark lifecycle: what has already been
// computed for each (asset, timeframe, period), and when it may advance.
package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/emacore"
	"ema-feature-lab/internal/storage"
)

// Manager owns the WatermarkRecord lifecycle. No other component writes
// watermarks: the recurrence core returns high-water values and the compute
// template hands them here only after the EMA upsert committed.
type Manager struct {
	store  storage.WatermarkStore
	logger *log.Logger
}

// NewManager creates a state manager.
func NewManager(store storage.WatermarkStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{store: store, logger: logger}
}

// EnsureSchema creates the watermark store if absent. Idempotent.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	return m.store.EnsureSchema(ctx)
}

// Load returns the watermark for each requested period. Unseen triples get
// an implicit zero watermark: callers must treat it as "compute from the
// beginning of history".
func (m *Manager) Load(ctx context.Context, assetID, timeframe string, periods []int) (map[int]*domain.WatermarkRecord, error) {
	out := make(map[int]*domain.WatermarkRecord, len(periods))
	for _, period := range periods {
		w, err := m.store.Get(ctx, assetID, timeframe, period)
		if errors.Is(err, storage.ErrNotFound) {
			out[period] = &domain.WatermarkRecord{AssetID: assetID, Timeframe: timeframe, Period: period}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load watermark %s/%s/%d: %w", assetID, timeframe, period, err)
		}
		out[period] = w
	}
	return out, nil
}

// AdvanceFromOutput recomputes and persists the watermark from the
// just-written points of one triple. Must be called only after those points
// are durably committed: a crash between the two leaves the watermark
// behind, which the next run repairs with an overlapping, idempotent
// recompute.
//
// Canonical points advance last_bar_seq and last_canonical_ts; a
// preview-only run still widens the seen range and last_time_close, so the
// next run keeps pulling from the last canonical boundary.
func (m *Manager) AdvanceFromOutput(ctx context.Context, prev *domain.WatermarkRecord, points []emacore.Point) (*domain.WatermarkRecord, error) {
	if len(points) == 0 {
		return prev, nil
	}

	next := &domain.WatermarkRecord{
		AssetID:           prev.AssetID,
		Timeframe:         prev.Timeframe,
		Period:            prev.Period,
		DailyMinSeenMs:    cloneInt64(prev.DailyMinSeenMs),
		DailyMaxSeenMs:    cloneInt64(prev.DailyMaxSeenMs),
		LastBarSeq:        cloneInt64(prev.LastBarSeq),
		LastTimeCloseMs:   cloneInt64(prev.LastTimeCloseMs),
		LastCanonicalTsMs: cloneInt64(prev.LastCanonicalTsMs),
		UpdatedAt:         time.Now().UTC(),
	}

	for _, p := range points {
		mergeMin(&next.DailyMinSeenMs, p.TimestampMs)
		mergeMax(&next.DailyMaxSeenMs, p.TimestampMs)
		mergeMax(&next.LastTimeCloseMs, p.TimestampMs)
		if !p.Roll {
			mergeMax(&next.LastBarSeq, p.BarSeq)
			mergeMax(&next.LastCanonicalTsMs, p.TimestampMs)
		}
	}

	if err := m.store.Upsert(ctx, next); err != nil {
		return nil, fmt.Errorf("advance watermark %s/%s/%d: %w", next.AssetID, next.Timeframe, next.Period, err)
	}
	return next, nil
}

// Reset deletes the watermark for a triple, forcing a full recompute on the
// next run. Used by the validation harness's rebuild step.
func (m *Manager) Reset(ctx context.Context, assetID, timeframe string, period int) error {
	if err := m.store.Delete(ctx, assetID, timeframe, period); err != nil {
		return fmt.Errorf("reset watermark %s/%s/%d: %w", assetID, timeframe, period, err)
	}
	m.logger.Printf("[state] reset watermark %s/%s/%d", assetID, timeframe, period)
	return nil
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func mergeMin(dst **int64, v int64) {
	if *dst == nil || v < **dst {
		c := v
		*dst = &c
	}
}

func mergeMax(dst **int64, v int64) {
	if *dst == nil || v > **dst {
		c := v
		*dst = &c
	}
}
