package memory

import (
	"context"
	"errors"
	"math"
	"testing"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

func seedBars(t *testing.T, store *BarStore) {
	t.Helper()

	bars := []*domain.CanonicalClose{
		{AssetID: "asset-1", Timeframe: "7d", TimestampMs: 1000, Close: 100, BarSeq: 1, IsCanonical: true},
		{AssetID: "asset-1", Timeframe: "7d", TimestampMs: 2000, Close: 101, BarSeq: 2, IsCanonical: true},
		{AssetID: "asset-1", Timeframe: "7d", TimestampMs: 3000, Close: 102, BarSeq: 3},
		{AssetID: "asset-2", Timeframe: "7d", TimestampMs: 1000, Close: 50, BarSeq: 1, IsCanonical: true},
		{AssetID: "asset-1", Timeframe: "1w", TimestampMs: 1000, Close: 100, BarSeq: 1, IsCanonical: true},
	}
	if err := store.Seed(context.Background(), bars); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
}

func TestBarStore_GetSince(t *testing.T) {
	store := NewBarStore()
	seedBars(t, store)
	ctx := context.Background()

	bars, err := store.GetSince(ctx, "asset-1", "7d", 2000)
	if err != nil {
		t.Fatalf("GetSince failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("Expected 2 bars, got %d", len(bars))
	}
	if bars[0].TimestampMs != 2000 || bars[1].TimestampMs != 3000 {
		t.Errorf("Wrong bars: [%d, %d]", bars[0].TimestampMs, bars[1].TimestampMs)
	}

	all, _ := store.GetSince(ctx, "asset-1", "7d", 0)
	if len(all) != 3 {
		t.Errorf("Full history: got %d bars, want 3", len(all))
	}
}

func TestBarStore_CountCanonical(t *testing.T) {
	store := NewBarStore()
	seedBars(t, store)

	count, err := store.CountCanonical(context.Background(), "asset-1", "7d")
	if err != nil {
		t.Fatalf("CountCanonical failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Count: got %d, want 2", count)
	}
}

func TestBarStore_LastCloseBefore(t *testing.T) {
	store := NewBarStore()
	seedBars(t, store)
	ctx := context.Background()

	// A gap row right before the bound must not win; the last real close does.
	gap := []*domain.CanonicalClose{
		{AssetID: "asset-1", Timeframe: "7d", TimestampMs: 4000, Close: math.NaN(), BarSeq: 4},
	}
	if err := store.Seed(ctx, gap); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	px, err := store.LastCloseBefore(ctx, "asset-1", "7d", 5000)
	if err != nil {
		t.Fatalf("LastCloseBefore failed: %v", err)
	}
	if px != 102 {
		t.Errorf("Close: got %v, want 102", px)
	}

	// Bound is exclusive.
	px, err = store.LastCloseBefore(ctx, "asset-1", "7d", 3000)
	if err != nil {
		t.Fatalf("LastCloseBefore failed: %v", err)
	}
	if px != 101 {
		t.Errorf("Close: got %v, want 101", px)
	}

	if _, err := store.LastCloseBefore(ctx, "asset-1", "7d", 1000); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound before first row, got %v", err)
	}
}

func TestBarStore_ListAssetIDs(t *testing.T) {
	store := NewBarStore()
	seedBars(t, store)

	ids, err := store.ListAssetIDs(context.Background(), "7d")
	if err != nil {
		t.Fatalf("ListAssetIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "asset-1" || ids[1] != "asset-2" {
		t.Errorf("IDs: got %v, want [asset-1 asset-2]", ids)
	}
}
