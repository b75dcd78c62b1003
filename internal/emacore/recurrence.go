package emacore

import (
	"fmt"
	"math"

	"ema-feature-lab/internal/domain"
)

// Seed carries the prior state at the watermark boundary, letting an
// incremental batch continue the recurrence exactly where the last run
// stopped.
type Seed struct {
	EMA         float64  // canonical EMA at the last canonical timestamp
	EMABar      *float64 // bar-space companion at the same point, if dual
	TimestampMs int64    // last canonical timestamp
	BarSeq      int64    // bar_seq consumed at that point
	LastClose   *float64 // last non-gap close at or before the boundary, if known
}

// Input is one recurrence batch for a single (asset, timeframe, period).
type Input struct {
	Bars   []*domain.CanonicalClose // source rows since the watermark, timestamp ASC
	Seed   *Seed                    // nil on first-ever run for the triple
	Period int
	TFDays int
}

// Point is one emitted EMA observation before persistence decoration.
type Point struct {
	TimestampMs int64
	BarSeq      int64
	Close       float64
	EMA         float64
	EMABar      *float64
	Roll        bool
}

// Run executes the recurrence for one batch. The loop is strictly
// sequential in time order: each value depends on the previous one, so
// this is the one place in the system where no parallelism is allowed.
//
// Canonical rows advance the canonical chain and are immutable once
// persisted. Preview rows are a one-step projection from the last
// canonical value, as if the current partial period closed at that row;
// they are fully recomputed each run. Gap points (NaN close) feed only the
// preview path via the carried-forward close; the canonical chain
// consumes canonical closes and nothing else.
//
// An empty batch yields no output and no error.
func (v Variant) Run(in Input) ([]Point, error) {
	if len(in.Bars) == 0 {
		return nil, nil
	}

	alpha, err := DeriveAlpha(in.Period, in.TFDays, v.AlphaMode)
	if err != nil {
		return nil, err
	}

	// Bar-space companion always smooths per bar with the table constant.
	var alphaBar float64
	if v.DualEMA {
		alphaBar, err = DeriveAlpha(in.Period, in.TFDays, AlphaTable)
		if err != nil {
			return nil, err
		}
	}

	if v.RollPolicy == RollModulo && in.TFDays <= 0 {
		return nil, fmt.Errorf("%w: modulo roll policy needs positive tf_days, got %d", ErrConfiguration, in.TFDays)
	}

	var (
		emaCanon   float64
		seeded     bool
		emaBar     float64
		barSeeded  bool
		lastClose  = math.NaN()
		out        = make([]Point, 0, len(in.Bars))
	)
	if in.Seed != nil {
		emaCanon = in.Seed.EMA
		seeded = true
		if v.DualEMA && in.Seed.EMABar != nil {
			emaBar = *in.Seed.EMABar
			barSeeded = true
		}
		if in.Seed.LastClose != nil {
			// A gap at the head of the batch bridges from persisted
			// history, the same as it would mid-batch.
			lastClose = *in.Seed.LastClose
		}
	}

	for _, bar := range in.Bars {
		if in.Seed != nil && (bar.TimestampMs <= in.Seed.TimestampMs || (in.Seed.BarSeq > 0 && bar.BarSeq <= in.Seed.BarSeq)) {
			continue // already consumed by the run that produced the seed
		}
		px := bar.Close
		missing := math.IsNaN(px)
		if missing {
			// Bridge the gap for the preview recurrence only.
			px = lastClose
			if math.IsNaN(px) {
				continue // gap before the first observation carries nothing
			}
		} else {
			lastClose = px
		}

		canonical := v.isCanonical(bar, in.TFDays) && !missing

		var value float64
		switch {
		case canonical && !seeded:
			// Classic bootstrap: the first canonical close seeds the chain.
			emaCanon = px
			seeded = true
			value = emaCanon
		case canonical:
			emaCanon = alpha*px + (1-alpha)*emaCanon
			value = emaCanon
		case !seeded:
			// Preview before any canonical history: bootstrap from the
			// first available close, no look-ahead.
			value = px
		default:
			// One-step projection from the last canonical value.
			value = alpha*px + (1-alpha)*emaCanon
		}

		p := Point{
			TimestampMs: bar.TimestampMs,
			BarSeq:      bar.BarSeq,
			Close:       px,
			EMA:         value,
			Roll:        !canonical,
		}

		if v.DualEMA {
			if !barSeeded {
				emaBar = px
				barSeeded = true
			} else {
				emaBar = alphaBar*px + (1-alphaBar)*emaBar
			}
			if canonical {
				// Snap on canonical close: reconcile drift the preview
				// reseeding accumulated in bar space.
				emaBar = emaCanon
			}
			eb := emaBar
			p.EMABar = &eb
		}

		out = append(out, p)
	}

	return out, nil
}

// isCanonical applies the variant's roll policy to one source row.
func (v Variant) isCanonical(bar *domain.CanonicalClose, tfDays int) bool {
	switch v.RollPolicy {
	case RollModulo:
		// bar_seq is the 1-based daily ordinal from the asset's first
		// observation, so every tf_days-th ordinal closes a period.
		return bar.BarSeq > 0 && bar.BarSeq%int64(tfDays) == 0
	case RollMembership:
		return bar.IsCanonical
	default:
		return false
	}
}
