package compute

import (
	"context"
	"errors"

	"ema-feature-lab/internal/emacore"
	"ema-feature-lab/internal/storage"
)

// Entity-scoped error classes. Only configuration errors are fatal for a
// batch; everything else is recorded against the one entity and the batch
// continues.
var (
	// ErrSourceData indicates missing or malformed canonical closes for an
	// entity. The entity is skipped and its watermark does not advance.
	ErrSourceData = errors.New("source data error")

	// ErrConnectionPressure indicates pool or connection exhaustion. The
	// orchestrator retries the entity with backoff, bounded attempts.
	ErrConnectionPressure = errors.New("connection pressure")

	// ErrPersistence indicates a state-store or output-store failure: a
	// watermark or tail read, an upsert, or the watermark advance. The
	// watermark is not advanced, so the next run safely recomputes the
	// overlapping range.
	ErrPersistence = errors.New("persistence error")
)

// IsFatal reports whether an error must abort the whole batch. A
// configuration defect produces the same failure for every entity, so
// continuing would only repeat it a few thousand times.
func IsFatal(err error) bool {
	return errors.Is(err, emacore.ErrConfiguration)
}

// IsConnectionPressure reports whether an error warrants a bounded retry
// with backoff rather than a terminal entity failure. Driver timeouts are
// treated as connection pressure scoped to the one entity.
func IsConnectionPressure(err error) bool {
	return errors.Is(err, ErrConnectionPressure) ||
		errors.Is(err, storage.ErrResourceExhausted) ||
		errors.Is(err, context.DeadlineExceeded)
}
