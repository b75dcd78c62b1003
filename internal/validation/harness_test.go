package validation

import (
	"context"
	"errors"
	"testing"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage/memory"
)

func seedSeries(t *testing.T, store *memory.EMAStore, assetID string, period int, n int) {
	t.Helper()

	rows := make([]*domain.EMAPoint, 0, n)
	for i := 0; i < n; i++ {
		ema := 100 + float64(i)*0.5
		rows = append(rows, &domain.EMAPoint{
			AssetID:     assetID,
			Timeframe:   "7d",
			Period:      period,
			TimestampMs: int64(i+1) * 86_400_000,
			EMA:         ema,
			Roll:        (i+1)%7 != 0,
		})
	}
	if err := store.Upsert(context.Background(), rows); err != nil {
		t.Fatalf("Seed upsert failed: %v", err)
	}
}

func TestHarness_FaithfulRebuildPasses(t *testing.T) {
	store := memory.NewEMAStore()
	seedSeries(t, store, "asset-1", 5, 21)
	ctx := context.Background()

	// A rebuild that reproduces the stored rows exactly.
	rebuild := func(ctx context.Context, assetID string) error {
		rows, err := store.GetSeries(ctx, assetID, "7d", 5)
		if err != nil {
			return err
		}
		return store.Upsert(ctx, rows)
	}

	h := NewHarness(HarnessOptions{EMAs: store, Rebuild: rebuild})
	report, err := h.Certify(ctx, []string{"asset-1"}, "7d", []int{5})
	if err != nil {
		t.Fatalf("Certify failed: %v", err)
	}

	if !report.Pass {
		t.Errorf("Expected pass, got %+v", report)
	}
	if report.Total != 1 || report.Matched != 1 || report.Diverged != 0 {
		t.Errorf("Counts: %+v", report)
	}
}

func TestHarness_PerturbedRebuildFails(t *testing.T) {
	store := memory.NewEMAStore()
	seedSeries(t, store, "asset-1", 5, 21)
	ctx := context.Background()

	// A rebuild that drifts one canonical value past the tolerance.
	rebuild := func(ctx context.Context, assetID string) error {
		rows, err := store.GetSeries(ctx, assetID, "7d", 5)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if !r.Roll {
				r.EMA += 1e-6
				break
			}
		}
		return store.Upsert(ctx, rows)
	}

	h := NewHarness(HarnessOptions{EMAs: store, Rebuild: rebuild})
	report, err := h.Certify(ctx, []string{"asset-1"}, "7d", []int{5})
	if err != nil {
		t.Fatalf("Certify failed: %v", err)
	}

	if report.Pass {
		t.Fatal("Expected divergence to fail the report")
	}
	if report.Diverged != 1 {
		t.Errorf("Diverged: got %d, want 1", report.Diverged)
	}

	found := false
	for _, r := range report.Results {
		for _, d := range r.ColumnDiffs {
			if d.Column == "ema" && d.Mismatches == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("Expected a single ema column diff, got %+v", report.Results)
	}
}

func TestHarness_MissingRowFails(t *testing.T) {
	store := memory.NewEMAStore()
	seedSeries(t, store, "asset-1", 5, 21)
	ctx := context.Background()

	rebuild := func(ctx context.Context, assetID string) error {
		return store.Truncate(ctx, assetID, "7d", 5)
	}

	h := NewHarness(HarnessOptions{EMAs: store, Rebuild: rebuild})
	report, err := h.Certify(ctx, []string{"asset-1"}, "7d", []int{5})
	if err != nil {
		t.Fatalf("Certify failed: %v", err)
	}
	if report.Pass {
		t.Error("Expected truncated rebuild to fail")
	}
}

func TestHarness_DryRunSkipsRebuild(t *testing.T) {
	store := memory.NewEMAStore()
	seedSeries(t, store, "asset-1", 5, 21)
	ctx := context.Background()

	rebuild := func(context.Context, string) error {
		return errors.New("rebuild must not run in dry-run mode")
	}

	h := NewHarness(HarnessOptions{EMAs: store, Rebuild: rebuild, DryRun: true})
	report, err := h.Certify(ctx, []string{"asset-1"}, "7d", []int{5})
	if err != nil {
		t.Fatalf("Certify failed: %v", err)
	}
	if !report.Pass || report.Total != 0 {
		t.Errorf("Dry run report: %+v", report)
	}
}

func TestHarness_SnapshotCountsAndChecksum(t *testing.T) {
	store := memory.NewEMAStore()
	seedSeries(t, store, "asset-1", 5, 21)
	ctx := context.Background()

	h := NewHarness(HarnessOptions{EMAs: store})
	snap, err := h.Snapshot(ctx, "asset-1", "7d", 5)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if snap.RowCount != 21 {
		t.Errorf("RowCount: got %d, want 21", snap.RowCount)
	}
	if snap.CanonicalCount != 3 {
		t.Errorf("CanonicalCount: got %d, want 3", snap.CanonicalCount)
	}
	if snap.MinTsMs != 86_400_000 || snap.MaxTsMs != 21*86_400_000 {
		t.Errorf("Bounds: [%d, %d]", snap.MinTsMs, snap.MaxTsMs)
	}

	again, err := h.Snapshot(ctx, "asset-1", "7d", 5)
	if err != nil {
		t.Fatalf("Second snapshot failed: %v", err)
	}
	if snap.Checksum != again.Checksum {
		t.Errorf("Checksum not deterministic: %016x vs %016x", snap.Checksum, again.Checksum)
	}
}
