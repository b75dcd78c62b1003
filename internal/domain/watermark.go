package domain

import "time"

// WatermarkRecord is the persisted high-water mark of already-processed
// source data for one (asset, timeframe, period). Corresponds to
// ema_watermarks table in PostgreSQL, primary key (asset_id, timeframe,
// period).
//
// A record is created on the first successful run for its triple and is
// mutated only after the corresponding EMAPoint upsert committed. Deleting
// a record forces a full recompute of that triple.
type WatermarkRecord struct {
	AssetID           string     // asset identifier
	Timeframe         string     // timeframe code
	Period            int        // EMA period
	DailyMinSeenMs    *int64     // min source timestamp observed
	DailyMaxSeenMs    *int64     // max source timestamp observed
	LastBarSeq        *int64     // highest canonical bar_seq consumed
	LastTimeCloseMs   *int64     // timestamp of the last close consumed
	LastCanonicalTsMs *int64     // last timestamp with a canonical EMA emitted
	UpdatedAt         time.Time  // last mutation time
}

// IsZero reports whether the watermark carries no progress, i.e. the triple
// has never been computed. Callers must treat a zero watermark as "compute
// from the beginning of history".
func (w *WatermarkRecord) IsZero() bool {
	return w.DailyMinSeenMs == nil && w.DailyMaxSeenMs == nil &&
		w.LastBarSeq == nil && w.LastTimeCloseMs == nil && w.LastCanonicalTsMs == nil
}
