package emacore

import (
	"math"
	"testing"

	"ema-feature-lab/internal/domain"
)

const dayMs = int64(86_400_000)

// makeDailyBars builds a daily grid starting at ts0 with 1-based bar_seq.
func makeDailyBars(closes []float64, canonical func(i int) bool) []*domain.CanonicalClose {
	bars := make([]*domain.CanonicalClose, len(closes))
	for i, c := range closes {
		isCanon := true
		if canonical != nil {
			isCanon = canonical(i)
		}
		bars[i] = &domain.CanonicalClose{
			AssetID:     "asset-1",
			Timeframe:   "D1",
			TimestampMs: dayMs * int64(i+1),
			Close:       c,
			BarSeq:      int64(i + 1),
			IsCanonical: isCanon,
		}
	}
	return bars
}

func TestRun_RecurrenceMatchesReferenceLoop(t *testing.T) {
	closes := []float64{100, 101, 99, 102, 98}
	v, err := VariantByKind(VariantDaysHorizon)
	if err != nil {
		t.Fatal(err)
	}

	points, err := v.Run(Input{Bars: makeDailyBars(closes, nil), Period: 3, TFDays: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != len(closes) {
		t.Fatalf("expected %d points, got %d", len(closes), len(points))
	}

	// Reference: non-vectorized loop, alpha = 2/(3+1) = 0.5, seeded with
	// the first close.
	alpha := 0.5
	ref := closes[0]
	for i, p := range points {
		if i > 0 {
			ref = alpha*closes[i] + (1-alpha)*ref
		}
		if math.Abs(p.EMA-ref) > 1e-9 {
			t.Errorf("points[%d].EMA = %v, reference %v", i, p.EMA, ref)
		}
		if p.Roll {
			t.Errorf("points[%d] unexpectedly preview on a 1-day grid", i)
		}
	}
}

func TestRun_ModuloRollPartition(t *testing.T) {
	// 21 consecutive daily rows on a 7-day timeframe: exactly rows 7, 14
	// and 21 (1-indexed from first observation) are canonical.
	closes := make([]float64, 21)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	v, err := VariantByKind(VariantFixedBar)
	if err != nil {
		t.Fatal(err)
	}

	points, err := v.Run(Input{Bars: makeDailyBars(closes, nil), Period: 3, TFDays: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 21 {
		t.Fatalf("expected 21 points, got %d", len(points))
	}

	var canonicalSeqs []int64
	for _, p := range points {
		if !p.Roll {
			canonicalSeqs = append(canonicalSeqs, p.BarSeq)
		}
	}
	if len(canonicalSeqs) != 3 {
		t.Fatalf("expected exactly 3 canonical rows, got %d", len(canonicalSeqs))
	}
	for i, want := range []int64{7, 14, 21} {
		if canonicalSeqs[i] != want {
			t.Errorf("canonical row %d at seq %d, want %d", i, canonicalSeqs[i], want)
		}
	}
}

func TestRun_StepChangeConvergence(t *testing.T) {
	// Step from 100 to 110: canonical EMA converges monotonically toward
	// 110 and stays inside the input range (convex combination).
	closes := make([]float64, 20)
	for i := range closes {
		if i < 10 {
			closes[i] = 100
		} else {
			closes[i] = 110
		}
	}
	v, err := VariantByKind(VariantDaysHorizon)
	if err != nil {
		t.Fatal(err)
	}

	points, err := v.Run(Input{Bars: makeDailyBars(closes, nil), Period: 5, TFDays: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prev := points[9].EMA
	for i := 10; i < len(points); i++ {
		ema := points[i].EMA
		if ema < 100 || ema > 110 {
			t.Errorf("points[%d].EMA = %v escaped input range [100, 110]", i, ema)
		}
		if ema <= prev {
			t.Errorf("points[%d].EMA = %v did not increase from %v after step", i, ema, prev)
		}
		prev = ema
	}
}

func TestRun_EmptyInput(t *testing.T) {
	v, err := VariantByKind(VariantFixedBar)
	if err != nil {
		t.Fatal(err)
	}
	points, err := v.Run(Input{Bars: nil, Period: 3, TFDays: 7})
	if err != nil {
		t.Fatalf("zero observations must not be an error, got %v", err)
	}
	if len(points) != 0 {
		t.Errorf("expected zero output rows, got %d", len(points))
	}
}

func TestRun_SeededResumeMatchesFullHistory(t *testing.T) {
	// Splitting a series at a canonical boundary and resuming from a seed
	// must reproduce the full-history canonical values exactly. This is
	// the core property behind watermark-based incremental runs.
	closes := make([]float64, 28)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i))*5
	}
	bars := makeDailyBars(closes, nil)
	v, err := VariantByKind(VariantFixedBar)
	if err != nil {
		t.Fatal(err)
	}

	full, err := v.Run(Input{Bars: bars, Period: 3, TFDays: 7})
	if err != nil {
		t.Fatal(err)
	}

	// First half ends on seq 14, a canonical boundary.
	head, err := v.Run(Input{Bars: bars[:14], Period: 3, TFDays: 7})
	if err != nil {
		t.Fatal(err)
	}
	last := head[len(head)-1]
	if last.Roll {
		t.Fatalf("expected head to end on a canonical row, got preview at seq %d", last.BarSeq)
	}

	tail, err := v.Run(Input{
		Bars:   bars[14:],
		Period: 3,
		TFDays: 7,
		Seed: &Seed{
			EMA:         last.EMA,
			EMABar:      last.EMABar,
			TimestampMs: last.TimestampMs,
			BarSeq:      last.BarSeq,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	combined := append(append([]Point{}, head...), tail...)
	if len(combined) != len(full) {
		t.Fatalf("expected %d combined points, got %d", len(full), len(combined))
	}
	for i := range full {
		if full[i].Roll != combined[i].Roll {
			t.Errorf("points[%d]: roll mismatch", i)
		}
		if math.Abs(full[i].EMA-combined[i].EMA) > 1e-9 {
			t.Errorf("points[%d]: EMA %v vs resumed %v", i, full[i].EMA, combined[i].EMA)
		}
	}
}

func TestRun_SeedBridgesGapAtBatchHead(t *testing.T) {
	// A seeded batch whose first bar is a gap must bridge from the carried
	// close rather than drop the row: persisted history knows a close even
	// when this batch has not seen one yet.
	bars := makeDailyBars([]float64{100, 101, 99, 102, 98, 103, 97, math.NaN(), 105}, nil)
	v, err := VariantByKind(VariantFixedBar)
	if err != nil {
		t.Fatal(err)
	}

	full, err := v.Run(Input{Bars: bars, Period: 3, TFDays: 7})
	if err != nil {
		t.Fatal(err)
	}

	head, err := v.Run(Input{Bars: bars[:7], Period: 3, TFDays: 7})
	if err != nil {
		t.Fatal(err)
	}
	last := head[len(head)-1]
	lastClose := last.Close

	tail, err := v.Run(Input{
		Bars:   bars[7:],
		Period: 3,
		TFDays: 7,
		Seed: &Seed{
			EMA:         last.EMA,
			EMABar:      last.EMABar,
			TimestampMs: last.TimestampMs,
			BarSeq:      last.BarSeq,
			LastClose:   &lastClose,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(tail) != 2 {
		t.Fatalf("expected the gap bar to emit a row, got %d rows for 2 bars", len(tail))
	}
	combined := append(append([]Point{}, head...), tail...)
	if len(combined) != len(full) {
		t.Fatalf("expected %d combined points, got %d", len(full), len(combined))
	}
	for i := range full {
		if full[i].Roll != combined[i].Roll {
			t.Errorf("points[%d]: roll mismatch", i)
		}
		if math.Abs(full[i].EMA-combined[i].EMA) > 1e-9 {
			t.Errorf("points[%d]: EMA %v vs resumed %v", i, full[i].EMA, combined[i].EMA)
		}
	}
}

func TestRun_SeedSkipsAlreadyConsumedBars(t *testing.T) {
	// Source pulls can overlap the seed boundary; bars at or before it were
	// consumed by the run that produced the seed and must not double-step
	// the recurrence.
	bars := makeDailyBars([]float64{100, 101, 99, 102, 98, 103, 97, 104, 96}, nil)
	v, err := VariantByKind(VariantFixedBar)
	if err != nil {
		t.Fatal(err)
	}

	head, err := v.Run(Input{Bars: bars[:7], Period: 3, TFDays: 7})
	if err != nil {
		t.Fatal(err)
	}
	last := head[len(head)-1]
	seed := &Seed{
		EMA:         last.EMA,
		EMABar:      last.EMABar,
		TimestampMs: last.TimestampMs,
		BarSeq:      last.BarSeq,
	}

	exact, err := v.Run(Input{Bars: bars[7:], Period: 3, TFDays: 7, Seed: seed})
	if err != nil {
		t.Fatal(err)
	}
	overlap, err := v.Run(Input{Bars: bars[4:], Period: 3, TFDays: 7, Seed: seed})
	if err != nil {
		t.Fatal(err)
	}

	if len(overlap) != len(exact) {
		t.Fatalf("overlapping pull emitted %d points, exact pull %d", len(overlap), len(exact))
	}
	for i := range exact {
		if overlap[i].TimestampMs != exact[i].TimestampMs {
			t.Errorf("points[%d]: timestamp %d vs %d", i, overlap[i].TimestampMs, exact[i].TimestampMs)
		}
		if math.Abs(overlap[i].EMA-exact[i].EMA) > 1e-9 {
			t.Errorf("points[%d]: EMA %v vs %v", i, overlap[i].EMA, exact[i].EMA)
		}
	}
}

func TestRun_MembershipRollPolicy(t *testing.T) {
	// Calendar variant: canonical exactly where the source bar says so.
	closes := []float64{10, 11, 12, 13, 14, 15}
	canonicalIdx := map[int]bool{2: true, 5: true}
	bars := makeDailyBars(closes, func(i int) bool { return canonicalIdx[i] })

	v, err := VariantByKind(VariantCalendar)
	if err != nil {
		t.Fatal(err)
	}
	points, err := v.Run(Input{Bars: bars, Period: 3, TFDays: 30})
	if err != nil {
		t.Fatal(err)
	}

	for i, p := range points {
		if p.Roll == canonicalIdx[i] {
			t.Errorf("points[%d]: roll=%v, source canonical=%v", i, p.Roll, canonicalIdx[i])
		}
		if p.EMABar != nil {
			t.Errorf("points[%d]: calendar variant must not carry a bar-space EMA", i)
		}
	}
}

func TestRun_DualEMASnapsOnCanonicalClose(t *testing.T) {
	closes := []float64{100, 104, 96, 108, 92, 101, 99, 107, 95, 103, 100, 98, 106, 94}
	v, err := VariantByKind(VariantFixedBar)
	if err != nil {
		t.Fatal(err)
	}
	points, err := v.Run(Input{Bars: makeDailyBars(closes, nil), Period: 3, TFDays: 7})
	if err != nil {
		t.Fatal(err)
	}

	for i, p := range points {
		if p.EMABar == nil {
			t.Fatalf("points[%d]: dual variant must emit ema_bar", i)
		}
		if !p.Roll && math.Abs(*p.EMABar-p.EMA) > 1e-9 {
			t.Errorf("points[%d]: ema_bar %v not snapped to canonical ema %v", i, *p.EMABar, p.EMA)
		}
	}
}

func TestRun_GapBridgesPreviewOnly(t *testing.T) {
	// Seq 2 would be canonical on a 2-day timeframe, but its close is a
	// gap: it must come out as a preview row on the carried-forward close,
	// and the canonical chain must skip it entirely.
	bars := makeDailyBars([]float64{100, math.NaN(), 102, 104}, nil)

	v, err := VariantByKind(VariantFixedBar)
	if err != nil {
		t.Fatal(err)
	}
	points, err := v.Run(Input{Bars: bars, Period: 3, TFDays: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(points))
	}

	gap := points[1]
	if !gap.Roll {
		t.Errorf("gap row must be preview, got canonical")
	}
	if math.Abs(gap.Close-100) > 1e-9 {
		t.Errorf("gap row must carry the last known close, got %v", gap.Close)
	}

	// Seq 4 is the first canonical row; it bootstraps the chain with its
	// own close rather than any carried value.
	if points[3].Roll {
		t.Errorf("seq 4 must be canonical")
	}
	if math.Abs(points[3].EMA-104) > 1e-9 {
		t.Errorf("canonical bootstrap must use the canonical close 104, got %v", points[3].EMA)
	}
}
