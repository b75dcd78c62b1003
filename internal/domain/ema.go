package domain

// EMAPoint is one EMA observation, the unit this engine produces.
// Corresponds to ema_features table in ClickHouse.
// (AssetID, Timeframe, Period, TimestampMs) uniquely identifies a row.
//
// Rows with Roll=false form a strictly increasing append-only sequence in
// TimestampMs: once written their EMA/EMABar values never change on later
// runs. Rows with Roll=true are the in-progress tail and are overwritten
// every run.
type EMAPoint struct {
	AssetID     string   // asset identifier
	Timeframe   string   // timeframe code
	Period      int      // EMA period
	TimestampMs int64    // Unix timestamp in milliseconds
	EMA         float64  // primary recursive value
	EMABar      *float64 // bar-space companion, NULL for single-EMA variants
	Roll        bool     // true = preview row subject to revision
	D1          *float64 // first difference, canonical rows only
	D2          *float64 // second difference, canonical rows only
	D1Roll      *float64 // first difference across all rows including previews
	D2Roll      *float64 // second difference across all rows including previews
}
