// Package main provides the batch entry point: compute incremental EMA
// features for every configured (timeframe, period) target across a set
// of entities.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ema-feature-lab/internal/compute"
	"ema-feature-lab/internal/config"
	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/emacore"
	"ema-feature-lab/internal/observability"
	"ema-feature-lab/internal/orchestrator"
	"ema-feature-lab/internal/state"
	"ema-feature-lab/internal/storage"
	chstore "ema-feature-lab/internal/storage/clickhouse"
	"ema-feature-lab/internal/storage/memory"
	"ema-feature-lab/internal/storage/migrations"
	"ema-feature-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	entities := flag.String("entities", "", "Comma-separated asset ids (default: all with bars)")
	since := flag.String("since", "", "Force recompute from this point (RFC3339, YYYY-MM-DD, or Unix ms)")
	useMemory := flag.Bool("use-memory", false, "Run against in-memory stores with fixture data")
	postgresDSN := flag.String("postgres-dsn", "", "Override postgres.dsn from config")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "Override clickhouse.dsn from config")
	workers := flag.Int("workers", 0, "Override compute.workers from config")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	jsonOut := flag.Bool("json", false, "Print the batch summary as JSON")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := log.New(os.Stderr, "[features] ", log.LstdFlags)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, cancelling batch", sig)
		cancel()
	}()

	var (
		cfg *config.Config
		err error
	)
	if *useMemory {
		cfg = memoryConfig()
	} else {
		cfg, err = config.LoadWithEnv(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *postgresDSN != "" {
		cfg.Postgres.DSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.ClickHouse.DSN = *clickhouseDSN
	}
	if *workers > 0 {
		cfg.Compute.Workers = *workers
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *metricsAddr
	}
	logger.Printf("starting batch: %s", cfg)

	// Wire stores
	var (
		catalog    storage.TimeframeCatalog
		bars       storage.BarStore
		emas       storage.EMAStore
		watermarks storage.WatermarkStore
	)
	if *useMemory {
		catalog, bars, emas, watermarks = createMemoryStores(ctx)
	} else {
		pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting postgres: %v\n", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			fmt.Fprintf(os.Stderr, "Error migrating postgres: %v\n", err)
			os.Exit(1)
		}

		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error migrating clickhouse: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()

		catalog = postgres.NewTimeframeCatalog(pool)
		watermarks = postgres.NewWatermarkStore(pool)
		bars = chstore.NewBarStore(conn)
		emas = chstore.NewEMAStore(conn)
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("ema_feature_lab")
		go func() {
			if err := observability.Serve(cfg.Metrics.Addr); err != nil {
				logger.Printf("metrics listener failed: %v", err)
			}
		}()
	}

	stateMgr := state.NewManager(watermarks, logger)
	if err := stateMgr.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error ensuring watermark schema: %v\n", err)
		os.Exit(1)
	}

	sinceMs, err := parseSince(*since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing --since: %v\n", err)
		os.Exit(1)
	}

	// Run each configured target as its own batch
	summaries := make([]targetSummary, 0, len(cfg.Targets))
	failed := false
	for _, target := range cfg.Targets {
		summary, err := runTarget(ctx, runTargetDeps{
			catalog:    catalog,
			bars:       bars,
			emas:       emas,
			state:      stateMgr,
			metrics:    metrics,
			logger:     logger,
			cfg:        cfg,
			target:     target,
			entities:   *entities,
			sinceMs:    sinceMs,
			verbose:    *verbose,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error on target %s: %v\n", target.Timeframe, err)
			os.Exit(1)
		}
		if len(summary.Failed) > 0 {
			failed = true
		}
		summaries = append(summaries, *summary)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summaries); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding summary: %v\n", err)
			os.Exit(1)
		}
	} else {
		printSummaries(summaries)
	}

	if failed {
		os.Exit(1)
	}
}

// targetSummary is the per-target slice of the batch report.
type targetSummary struct {
	Timeframe     string   `json:"timeframe"`
	Variant       string   `json:"variant"`
	Entities      int      `json:"entities"`
	Succeeded     int      `json:"succeeded"`
	Failed        []string `json:"failed,omitempty"`
	RowsWritten   int      `json:"rows_written"`
	CanonicalRows int      `json:"canonical_rows"`
	PreviewRows   int      `json:"preview_rows"`
	ElapsedMs     int64    `json:"elapsed_ms"`
}

type runTargetDeps struct {
	catalog  storage.TimeframeCatalog
	bars     storage.BarStore
	emas     storage.EMAStore
	state    *state.Manager
	metrics  *observability.Metrics
	logger   *log.Logger
	cfg      *config.Config
	target   config.Target
	entities string
	sinceMs  *int64
	verbose  bool
}

func runTarget(ctx context.Context, deps runTargetDeps) (*targetSummary, error) {
	spec, err := deps.catalog.Get(ctx, deps.target.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("resolve timeframe %s: %w", deps.target.Timeframe, err)
	}
	if !spec.ValidAt(time.Now().UnixMilli()) {
		deps.logger.Printf("timeframe %s is outside its validity window, skipping", spec.Code)
		return &targetSummary{Timeframe: spec.Code}, nil
	}

	variant, err := emacore.VariantFor(spec, deps.target.HorizonAlpha)
	if err != nil {
		return nil, fmt.Errorf("select variant for %s: %w", spec.Code, err)
	}

	assetIDs, err := resolveEntities(ctx, deps.bars, spec.Code, deps.entities)
	if err != nil {
		return nil, fmt.Errorf("resolve entities for %s: %w", spec.Code, err)
	}

	template := compute.NewTemplate(compute.Options{
		Bars:  deps.bars,
		EMAs:  deps.emas,
		State: deps.state,
		Target: compute.Target{
			Timeframe: spec,
			Variant:   variant,
			Periods:   deps.target.Periods,
		},
		Logger:  deps.logger,
		Verbose: deps.verbose,
	})

	orch := orchestrator.New(orchestrator.Options{
		Runner:     template,
		Workers:    deps.cfg.Compute.Workers,
		MaxRetries: deps.cfg.Compute.MaxRetries,
		Backoff:    deps.cfg.Compute.Backoff,
		Logger:     deps.logger,
		Metrics:    deps.metrics,
		Verbose:    deps.verbose,
	})

	result, err := orch.Run(ctx, assetIDs, deps.sinceMs)
	if err != nil {
		return nil, err
	}

	summary := &targetSummary{
		Timeframe:     spec.Code,
		Variant:       string(variant.Kind),
		Entities:      result.Entities,
		Succeeded:     len(result.Succeeded),
		RowsWritten:   result.RowsWritten,
		CanonicalRows: result.CanonicalRows,
		PreviewRows:   result.PreviewRows,
		ElapsedMs:     result.Elapsed.Milliseconds(),
	}
	for _, f := range result.Failed {
		summary.Failed = append(summary.Failed, fmt.Sprintf("%s: %s", f.AssetID, f.Reason))
	}
	return summary, nil
}

// parseSince turns the --since flag into a Unix ms boundary. Accepts a raw
// Unix ms integer, an RFC3339 timestamp, or a bare date.
func parseSince(value string) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return &ms, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			ms := ts.UnixMilli()
			return &ms, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", value)
}

// resolveEntities expands the --entities flag, defaulting to every asset
// that has bars on the timeframe.
func resolveEntities(ctx context.Context, bars storage.BarStore, timeframe, flagValue string) ([]string, error) {
	if flagValue != "" && flagValue != "all" {
		var ids []string
		for _, id := range strings.Split(flagValue, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}
	return bars.ListAssetIDs(ctx, timeframe)
}

func printSummaries(summaries []targetSummary) {
	fmt.Println("=== Batch Summary ===")
	for _, s := range summaries {
		fmt.Printf("%s (%s): %d/%d entities, %d rows (%d canonical, %d preview) in %dms\n",
			s.Timeframe, s.Variant, s.Succeeded, s.Entities,
			s.RowsWritten, s.CanonicalRows, s.PreviewRows, s.ElapsedMs)
		for _, f := range s.Failed {
			fmt.Printf("  FAILED %s\n", f)
		}
	}
}

// memoryConfig is the fixed configuration for --use-memory runs.
func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Postgres.DSN = "memory"
	cfg.ClickHouse.DSN = "memory"
	// Disjoint periods: both targets share the 7d output partition, so a
	// period computed by one must not be recomputed by the other.
	cfg.Targets = []config.Target{
		{Timeframe: "7d", Periods: []int{3, 5, 8}},
		{Timeframe: "7d", Periods: []int{9}, HorizonAlpha: true},
	}
	cfg.Compute.Workers = 2
	cfg.Compute.MaxRetries = 1
	cfg.Compute.Backoff = 100 * time.Millisecond
	return cfg
}

// createMemoryStores builds in-memory stores seeded with a synthetic
// random-walk fixture, enough to exercise the full path without a
// warehouse.
func createMemoryStores(ctx context.Context) (storage.TimeframeCatalog, storage.BarStore, storage.EMAStore, storage.WatermarkStore) {
	catalog := memory.NewTimeframeCatalog(
		&domain.TimeframeSpec{Code: "7d", TFDays: 7, Family: domain.AlignTFDay},
	)

	bars := memory.NewBarStore()
	const dayMs = int64(24 * 60 * 60 * 1000)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	for _, assetID := range []string{"asset-a", "asset-b", "asset-c"} {
		px := 100.0
		fixture := make([]*domain.CanonicalClose, 0, 90)
		for i := 0; i < 90; i++ {
			px += math.Sin(float64(i)*0.7) * 2
			fixture = append(fixture, &domain.CanonicalClose{
				AssetID:     assetID,
				Timeframe:   "7d",
				TimestampMs: start + int64(i)*dayMs,
				Close:       px,
				BarSeq:      int64(i + 1),
				IsCanonical: true,
			})
		}
		bars.Seed(ctx, fixture)
	}

	return catalog, bars, memory.NewEMAStore(), memory.NewWatermarkStore()
}
