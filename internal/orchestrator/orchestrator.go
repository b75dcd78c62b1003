// Package orchestrator fans the computation template out across entities
// with a bounded worker pool. One worker's failure never cancels its
// siblings: partial success is a valid terminal state for a batch.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ema-feature-lab/internal/compute"
	"ema-feature-lab/internal/observability"
)

// EntityRunner is the per-entity computation the pool executes.
// *compute.Template satisfies it.
type EntityRunner interface {
	ComputeEntity(ctx context.Context, assetID string, sinceMs *int64) (*compute.EntityResult, error)
}

// Orchestrator runs the computation template across N entities
// concurrently. The worker count is the sole admission-control knob for
// warehouse connection pressure.
type Orchestrator struct {
	runner     EntityRunner
	workers    int
	maxRetries int
	backoff    time.Duration
	logger     *log.Logger
	metrics    *observability.Metrics
	verbose    bool
}

// Options contains configuration for creating an Orchestrator.
type Options struct {
	Runner     EntityRunner
	Workers    int           // bounded pool size, default 4
	MaxRetries int           // retry budget per entity on connection pressure, default 3
	Backoff    time.Duration // base backoff, doubled per attempt, default 2s
	Logger     *log.Logger
	Metrics    *observability.Metrics // optional
	Verbose    bool
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		runner:     opts.Runner,
		workers:    workers,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		metrics:    opts.Metrics,
		verbose:    opts.Verbose,
	}
}

// EntityFailure records one failed entity with its reason.
type EntityFailure struct {
	AssetID string
	Reason  string
}

// BatchResult is the observable outcome of one batch, a pure fold over the
// per-entity task results.
type BatchResult struct {
	Entities      int
	Succeeded     []string
	Failed        []EntityFailure
	RowsWritten   int
	CanonicalRows int
	PreviewRows   int
	Elapsed       time.Duration
}

// taskResult is what one worker reports back for one entity.
type taskResult struct {
	assetID string
	result  *compute.EntityResult
	err     error
}

// Run executes the batch. Each entity is processed end-to-end by exactly
// one worker, so no two workers ever touch the same watermark or EMA
// partition. Only a configuration-class error aborts the batch; it
// indicates a defect that would fail every remaining entity identically.
func (o *Orchestrator) Run(ctx context.Context, assetIDs []string, sinceMs *int64) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{Entities: len(assetIDs)}
	if len(assetIDs) == 0 {
		return result, nil
	}

	o.logf("starting batch: %d entities, %d workers", len(assetIDs), o.workers)

	jobs := make(chan string)
	results := make(chan taskResult, len(assetIDs))
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for assetID := range jobs {
				res, err := o.runEntity(poolCtx, assetID, sinceMs)
				results <- taskResult{assetID: assetID, result: res, err: err}
				if err != nil && compute.IsFatal(err) {
					cancel()
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range assetIDs {
			select {
			case jobs <- id:
			case <-poolCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var fatal error
	for tr := range results {
		if tr.err != nil {
			if compute.IsFatal(tr.err) && fatal == nil {
				fatal = tr.err
			}
			result.Failed = append(result.Failed, EntityFailure{AssetID: tr.assetID, Reason: tr.err.Error()})
			if o.metrics != nil {
				o.metrics.EntitiesFailed.WithLabelValues(failureClass(tr.err)).Inc()
			}
			o.logf("entity %s failed: %v", tr.assetID, tr.err)
			continue
		}
		result.Succeeded = append(result.Succeeded, tr.assetID)
		result.RowsWritten += tr.result.RowsWritten
		result.CanonicalRows += tr.result.CanonicalRows
		result.PreviewRows += tr.result.PreviewRows
		if o.metrics != nil {
			o.metrics.EntitiesProcessed.Inc()
			o.metrics.RowsWritten.WithLabelValues("canonical").Add(float64(tr.result.CanonicalRows))
			o.metrics.RowsWritten.WithLabelValues("preview").Add(float64(tr.result.PreviewRows))
		}
	}

	result.Elapsed = time.Since(start)
	if o.metrics != nil {
		o.metrics.BatchDuration.Observe(result.Elapsed.Seconds())
		o.metrics.LastSuccessfulBatch.SetToCurrentTime()
	}
	o.logf("batch done: %d succeeded, %d failed, %d rows, %s",
		len(result.Succeeded), len(result.Failed), result.RowsWritten, result.Elapsed)

	if fatal != nil {
		return result, fmt.Errorf("batch aborted: %w", fatal)
	}
	return result, nil
}

// runEntity executes one entity with panic isolation and a bounded retry
// on connection pressure. Logic errors never retry.
func (o *Orchestrator) runEntity(ctx context.Context, assetID string, sinceMs *int64) (res *compute.EntityResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in entity %s: %v", compute.ErrSourceData, assetID, r)
		}
	}()

	start := time.Now()
	backoff := o.backoff
	for attempt := 0; ; attempt++ {
		res, err = o.runner.ComputeEntity(ctx, assetID, sinceMs)
		if err == nil || !compute.IsConnectionPressure(err) || attempt >= o.maxRetries {
			break
		}
		if o.metrics != nil {
			o.metrics.RetryAttempts.Inc()
		}
		o.logf("entity %s: connection pressure (attempt %d/%d), backing off %s",
			assetID, attempt+1, o.maxRetries, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	if o.metrics != nil && err == nil {
		o.metrics.EntityDuration.Observe(time.Since(start).Seconds())
	}
	return res, err
}

// failureClass buckets an error for the failure counter label.
func failureClass(err error) string {
	switch {
	case compute.IsFatal(err):
		return "configuration"
	case compute.IsConnectionPressure(err):
		return "connection_pressure"
	default:
		return "entity"
	}
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.verbose {
		o.logger.Printf("[orchestrator] "+format, args...)
	}
}
