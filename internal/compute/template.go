// Package compute implements the per-entity computation template:
// load watermark, pull source bars, run the recurrence, attach
// derivatives, upsert, and only then advance the watermark.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/emacore"
	"ema-feature-lab/internal/state"
	"ema-feature-lab/internal/storage"
)

// Target describes one output target: a timeframe, its recurrence variant
// and the candidate periods.
type Target struct {
	Timeframe *domain.TimeframeSpec
	Variant   emacore.Variant
	Periods   []int
}

// Template orchestrates load → compute → derive → upsert for one entity.
// Variants supply their hooks through Target.Variant; the template itself
// is variant-agnostic.
type Template struct {
	bars    storage.BarStore
	emas    storage.EMAStore
	state   *state.Manager
	target  Target
	logger  *log.Logger
	verbose bool
}

// Options contains configuration for creating a Template.
type Options struct {
	Bars    storage.BarStore
	EMAs    storage.EMAStore
	State   *state.Manager
	Target  Target
	Logger  *log.Logger
	Verbose bool
}

// NewTemplate creates a computation template.
func NewTemplate(opts Options) *Template {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Template{
		bars:    opts.Bars,
		emas:    opts.EMAs,
		state:   opts.State,
		target:  opts.Target,
		logger:  logger,
		verbose: opts.Verbose,
	}
}

// EntityResult reports what one entity's update produced.
type EntityResult struct {
	AssetID        string
	RowsWritten    int
	CanonicalRows  int
	PreviewRows    int
	PeriodsSkipped int // dropped by the observation-count filter
}

// ComputeEntity runs the full template for one asset. sinceMs, when
// non-nil, forces recompute from that timestamp instead of the watermark.
//
// Any failure aborts this entity without touching its watermark and is
// returned for the orchestrator to record; it never panics past here.
// Preview rows from prior runs that fall outside the recompute window are
// left as written: the overwrite scope is the current tail only, and
// query-time dedup supersedes stale previews once a canonical row lands.
func (t *Template) ComputeEntity(ctx context.Context, assetID string, sinceMs *int64) (*EntityResult, error) {
	tf := t.target.Timeframe
	result := &EntityResult{AssetID: assetID}

	obsCount, err := t.bars.CountCanonical(ctx, assetID, tf.Code)
	if err != nil {
		return nil, t.classify("count canonical closes", assetID, err)
	}

	periods := emacore.FilterPeriods(obsCount, t.target.Periods, tf.TFDays, t.target.Variant.AlphaMode)
	result.PeriodsSkipped = len(t.target.Periods) - len(periods)
	if len(periods) == 0 {
		t.logf("%s/%s: %d observations, no period has enough look-back", assetID, tf.Code, obsCount)
		return result, nil
	}

	watermarks, err := t.state.Load(ctx, assetID, tf.Code, periods)
	if err != nil {
		return nil, t.classifyPersist("load watermarks", assetID, err)
	}

	for _, period := range periods {
		wm := watermarks[period]
		if err := t.computePeriod(ctx, assetID, period, wm, sinceMs, result); err != nil {
			return nil, err
		}
	}

	t.logf("%s/%s: wrote %d rows (%d canonical, %d preview)",
		assetID, tf.Code, result.RowsWritten, result.CanonicalRows, result.PreviewRows)
	return result, nil
}

// computePeriod runs one (asset, timeframe, period) triple end-to-end.
func (t *Template) computePeriod(ctx context.Context, assetID string, period int, wm *domain.WatermarkRecord, sinceMs *int64, result *EntityResult) error {
	tf := t.target.Timeframe

	fromMs, seed, priorCanon, err := t.resolveStart(ctx, assetID, period, wm, sinceMs)
	if err != nil {
		return err
	}

	bars, err := t.bars.GetSince(ctx, assetID, tf.Code, fromMs)
	if err != nil {
		return t.classify("load canonical closes", assetID, err)
	}
	if len(bars) == 0 {
		return nil // no new source data: zero output rows, watermark untouched
	}

	points, err := t.target.Variant.Run(emacore.Input{
		Bars:   bars,
		Seed:   seed,
		Period: period,
		TFDays: tf.TFDays,
	})
	if err != nil {
		return err // configuration errors propagate fatal
	}
	if len(points) == 0 {
		return nil
	}

	rows := t.assemble(assetID, period, points, priorCanon)

	if err := t.emas.Upsert(ctx, rows); err != nil {
		return t.classifyPersist("upsert ema points", assetID, err)
	}

	// Watermark moves only after the rows are durably written. A failure
	// here is safe: the next run recomputes an overlapping range and the
	// upserts are idempotent.
	if _, err := t.state.AdvanceFromOutput(ctx, wm, points); err != nil {
		return t.classifyPersist("advance watermark", assetID, err)
	}

	for _, r := range rows {
		result.RowsWritten++
		if r.Roll {
			result.PreviewRows++
		} else {
			result.CanonicalRows++
		}
	}
	return nil
}

// resolveStart decides where this run's pull begins and what seeds the
// recurrence. The watermark is authoritative: a missing seed row under a
// non-zero watermark means the output was truncated behind our back, and
// the triple falls back to a full recompute.
func (t *Template) resolveStart(ctx context.Context, assetID string, period int, wm *domain.WatermarkRecord, sinceMs *int64) (fromMs int64, seed *emacore.Seed, priorCanon []*domain.EMAPoint, err error) {
	tf := t.target.Timeframe

	boundary := int64(0)
	switch {
	case sinceMs != nil:
		boundary = *sinceMs
	case wm.LastCanonicalTsMs != nil:
		boundary = *wm.LastCanonicalTsMs + 1
	default:
		return 0, nil, nil, nil
	}
	if boundary <= 0 {
		// Forced full-history recompute: nothing precedes the start, so
		// nothing may seed it.
		return 0, nil, nil, nil
	}

	tail, err := t.emas.GetCanonicalTail(ctx, assetID, tf.Code, period, boundary, 2)
	if err != nil {
		return 0, nil, nil, t.classifyPersist("load canonical tail", assetID, err)
	}
	if len(tail) == 0 {
		if sinceMs == nil && wm.LastCanonicalTsMs != nil {
			t.logf("%s/%s/%d: watermark present but no canonical output, full recompute", assetID, tf.Code, period)
		}
		return 0, nil, nil, nil
	}

	last := tail[len(tail)-1]
	seed = &emacore.Seed{
		EMA:         last.EMA,
		EMABar:      last.EMABar,
		TimestampMs: last.TimestampMs,
	}
	if sinceMs == nil && wm.LastBarSeq != nil {
		// Only valid when the boundary is the watermark itself; a forced
		// start in the past predates the recorded seq.
		seed.BarSeq = *wm.LastBarSeq
	}

	// Carry the last known close across the boundary so a gap bar at the
	// head of the batch bridges instead of being dropped.
	lastClose, err := t.bars.LastCloseBefore(ctx, assetID, tf.Code, boundary)
	switch {
	case err == nil:
		seed.LastClose = &lastClose
	case errors.Is(err, storage.ErrNotFound):
		// No non-gap close on record; leading gaps stay unbridgeable.
	default:
		return 0, nil, nil, t.classify("load last close", assetID, err)
	}
	return boundary, seed, tail, nil
}

// assemble decorates recurrence points with both derivative chains and
// converts them to storable rows. NaN derivatives become NULLs.
func (t *Template) assemble(assetID string, period int, points []emacore.Point, priorCanon []*domain.EMAPoint) []*domain.EMAPoint {
	n := len(points)
	series := make([]float64, n)
	roll := make([]bool, n)
	for i, p := range points {
		series[i] = p.EMA
		roll[i] = p.Roll
	}

	prior := make([]float64, 0, len(priorCanon))
	for _, p := range priorCanon {
		prior = append(prior, p.EMA)
	}

	d1, d2 := emacore.CanonicalDerivatives(series, roll, prior)

	// The roll chain differences every row, previews included. The rows
	// immediately preceding this batch are the persisted canonical tail,
	// since the stale preview tail is superseded by this run.
	allD1, allD2 := emacore.Derivatives(append(append([]float64{}, prior...), series...))
	offset := len(prior)

	rows := make([]*domain.EMAPoint, n)
	for i, p := range points {
		rows[i] = &domain.EMAPoint{
			AssetID:     assetID,
			Timeframe:   t.target.Timeframe.Code,
			Period:      period,
			TimestampMs: p.TimestampMs,
			EMA:         p.EMA,
			EMABar:      p.EMABar,
			Roll:        p.Roll,
			D1:          nanToNil(d1[i]),
			D2:          nanToNil(d2[i]),
			D1Roll:      nanToNil(allD1[offset+i]),
			D2Roll:      nanToNil(allD2[offset+i]),
		}
	}
	return rows
}

// classify maps a source-read error into the entity-scoped taxonomy.
func (t *Template) classify(op, assetID string, err error) error {
	if IsConnectionPressure(err) {
		return fmt.Errorf("%w: %s for %s: %v", ErrConnectionPressure, op, assetID, err)
	}
	return fmt.Errorf("%w: %s for %s: %v", ErrSourceData, op, assetID, err)
}

// classifyPersist maps a state-store or output-store error into the
// entity-scoped taxonomy.
func (t *Template) classifyPersist(op, assetID string, err error) error {
	if IsConnectionPressure(err) {
		return fmt.Errorf("%w: %s for %s: %v", ErrConnectionPressure, op, assetID, err)
	}
	return fmt.Errorf("%w: %s for %s: %v", ErrPersistence, op, assetID, err)
}

func (t *Template) logf(format string, args ...interface{}) {
	if t.verbose {
		t.logger.Printf("[compute] "+format, args...)
	}
}

func nanToNil(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
