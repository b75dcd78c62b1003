package domain

// CanonicalClose is one closing price produced by the external bar source.
// Corresponds to canonical_closes table in ClickHouse. The engine only ever
// reads these rows.
type CanonicalClose struct {
	AssetID     string  // asset identifier
	Timeframe   string  // timeframe code
	TimestampMs int64   // Unix timestamp in milliseconds
	Close       float64 // closing price; NaN marks a bridged gap point
	BarSeq      int64   // monotonically increasing sequence within (asset, timeframe), 1-based
	IsCanonical bool    // true for fully closed bars, false for derived/preview points
}
