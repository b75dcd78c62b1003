// Package validation implements the snapshot → rebuild → compare workflow
// used to certify that recurrence-core changes are output-preserving. It
// runs offline against output snapshots, never in the production hot path.
package validation

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

// FloatTolerance bounds float64 comparisons for EMA and derivative
// columns. Flags and integers must match exactly.
const FloatTolerance = 1e-9

// Snapshot captures the state of one (asset, timeframe, period) output
// series before a rebuild.
type Snapshot struct {
	AssetID        string
	Timeframe      string
	Period         int
	RowCount       int
	CanonicalCount int
	MinTsMs        int64
	MaxTsMs        int64
	Checksum       uint64
	rows           []*domain.EMAPoint
}

// ColumnDiff summarizes the mismatches in one column.
type ColumnDiff struct {
	Column      string
	Mismatches  int
	MaxAbsDelta float64 // 0 for exact-match columns
	FirstTsMs   int64   // timestamp of the first mismatch
}

// SeriesComparison is the result for one triple.
type SeriesComparison struct {
	AssetID     string
	Timeframe   string
	Period      int
	Match       bool
	RowsBefore  int
	RowsAfter   int
	ColumnDiffs []ColumnDiff
}

// Report is the outcome of one certification run.
type Report struct {
	Pass     bool
	Total    int
	Matched  int
	Diverged int
	Results  []SeriesComparison
}

// RebuildFunc recomputes the output for one asset from the beginning of
// history. The harness calls it between snapshot and compare; callers wire
// it to watermark reset plus a template run.
type RebuildFunc func(ctx context.Context, assetID string) error

// Harness certifies that a rebuild reproduces the stored output.
type Harness struct {
	emas    storage.EMAStore
	rebuild RebuildFunc
	logger  *log.Logger
	dryRun  bool
	verbose bool
}

// HarnessOptions contains configuration for creating a Harness.
type HarnessOptions struct {
	EMAs    storage.EMAStore
	Rebuild RebuildFunc
	Logger  *log.Logger
	DryRun  bool // snapshot and report only, skip rebuild and compare
	Verbose bool
}

// NewHarness creates a validation harness.
func NewHarness(opts HarnessOptions) *Harness {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Harness{
		emas:    opts.EMAs,
		rebuild: opts.Rebuild,
		logger:  logger,
		dryRun:  opts.DryRun,
		verbose: opts.Verbose,
	}
}

// Certify runs snapshot → rebuild → compare for every (asset, period)
// combination and folds the results into a report.
func (h *Harness) Certify(ctx context.Context, assetIDs []string, timeframe string, periods []int) (*Report, error) {
	report := &Report{Pass: true}

	for _, assetID := range assetIDs {
		snapshots := make([]*Snapshot, 0, len(periods))
		for _, period := range periods {
			snap, err := h.Snapshot(ctx, assetID, timeframe, period)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s/%s/%d: %w", assetID, timeframe, period, err)
			}
			snapshots = append(snapshots, snap)
			h.logf("snapshot %s/%s/%d: %d rows, checksum %016x",
				assetID, timeframe, period, snap.RowCount, snap.Checksum)
		}

		if h.dryRun {
			continue
		}

		if err := h.rebuild(ctx, assetID); err != nil {
			return nil, fmt.Errorf("rebuild %s: %w", assetID, err)
		}

		for _, snap := range snapshots {
			cmp, err := h.compare(ctx, snap)
			if err != nil {
				return nil, fmt.Errorf("compare %s/%s/%d: %w", snap.AssetID, snap.Timeframe, snap.Period, err)
			}
			report.Total++
			if cmp.Match {
				report.Matched++
			} else {
				report.Diverged++
				report.Pass = false
			}
			report.Results = append(report.Results, *cmp)
		}
	}

	return report, nil
}

// Snapshot captures counts, bounds and a checksum for one triple.
func (h *Harness) Snapshot(ctx context.Context, assetID, timeframe string, period int) (*Snapshot, error) {
	rows, err := h.emas.GetSeries(ctx, assetID, timeframe, period)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{AssetID: assetID, Timeframe: timeframe, Period: period, RowCount: len(rows), rows: rows}
	hash := fnv.New64a()
	for i, r := range rows {
		if i == 0 {
			snap.MinTsMs = r.TimestampMs
		}
		snap.MaxTsMs = r.TimestampMs
		if !r.Roll {
			snap.CanonicalCount++
		}
		fmt.Fprintf(hash, "%d|%t|%.12g|%s|%s|%s|%s|%s\n",
			r.TimestampMs, r.Roll, r.EMA,
			fmtPtr(r.EMABar), fmtPtr(r.D1), fmtPtr(r.D2), fmtPtr(r.D1Roll), fmtPtr(r.D2Roll))
	}
	snap.Checksum = hash.Sum64()
	return snap, nil
}

// compare reloads the triple and diffs it column by column against the
// snapshot.
func (h *Harness) compare(ctx context.Context, snap *Snapshot) (*SeriesComparison, error) {
	after, err := h.emas.GetSeries(ctx, snap.AssetID, snap.Timeframe, snap.Period)
	if err != nil {
		return nil, err
	}

	cmp := &SeriesComparison{
		AssetID:    snap.AssetID,
		Timeframe:  snap.Timeframe,
		Period:     snap.Period,
		RowsBefore: snap.RowCount,
		RowsAfter:  len(after),
	}

	byTs := make(map[int64]*domain.EMAPoint, len(after))
	for _, r := range after {
		byTs[r.TimestampMs] = r
	}

	diffs := map[string]*ColumnDiff{}
	record := func(col string, tsMs int64, delta float64) {
		d, ok := diffs[col]
		if !ok {
			d = &ColumnDiff{Column: col, FirstTsMs: tsMs}
			diffs[col] = d
		}
		d.Mismatches++
		if delta > d.MaxAbsDelta {
			d.MaxAbsDelta = delta
		}
	}

	for _, before := range snap.rows {
		rebuilt, ok := byTs[before.TimestampMs]
		if !ok {
			record("row", before.TimestampMs, 0)
			continue
		}
		// Exact match for the flag, epsilon-bounded for floats.
		if before.Roll != rebuilt.Roll {
			record("roll", before.TimestampMs, 0)
		}
		compareFloat("ema", before.EMA, rebuilt.EMA, before.TimestampMs, record)
		comparePtr("ema_bar", before.EMABar, rebuilt.EMABar, before.TimestampMs, record)
		comparePtr("d1", before.D1, rebuilt.D1, before.TimestampMs, record)
		comparePtr("d2", before.D2, rebuilt.D2, before.TimestampMs, record)
		comparePtr("d1_roll", before.D1Roll, rebuilt.D1Roll, before.TimestampMs, record)
		comparePtr("d2_roll", before.D2Roll, rebuilt.D2Roll, before.TimestampMs, record)
	}

	for _, d := range diffs {
		cmp.ColumnDiffs = append(cmp.ColumnDiffs, *d)
	}
	cmp.Match = len(cmp.ColumnDiffs) == 0 && cmp.RowsBefore <= cmp.RowsAfter
	return cmp, nil
}

func compareFloat(col string, a, b float64, tsMs int64, record func(string, int64, float64)) {
	if delta := math.Abs(a - b); delta > FloatTolerance {
		record(col, tsMs, delta)
	}
}

func comparePtr(col string, a, b *float64, tsMs int64, record func(string, int64, float64)) {
	switch {
	case a == nil && b == nil:
	case a == nil || b == nil:
		record(col, tsMs, 0)
	default:
		compareFloat(col, *a, *b, tsMs, record)
	}
}

func fmtPtr(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.12g", *v)
}

func (h *Harness) logf(format string, args ...interface{}) {
	if h.verbose {
		h.logger.Printf("[validation] "+format, args...)
	}
}
