package memory

import (
	"context"
	"sort"
	"sync"

	"ema-feature-lab/internal/domain"
	"ema-feature-lab/internal/storage"
)

// TimeframeCatalog is an in-memory implementation of storage.TimeframeCatalog.
type TimeframeCatalog struct {
	mu    sync.RWMutex
	specs map[string]*domain.TimeframeSpec
}

// NewTimeframeCatalog creates a catalog pre-loaded with the given specs.
func NewTimeframeCatalog(specs ...*domain.TimeframeSpec) *TimeframeCatalog {
	c := &TimeframeCatalog{specs: make(map[string]*domain.TimeframeSpec)}
	for _, s := range specs {
		copySpec := *s
		c.specs[s.Code] = &copySpec
	}
	return c
}

// Get retrieves one spec by timeframe code. Returns ErrNotFound if absent.
func (c *TimeframeCatalog) Get(_ context.Context, code string) (*domain.TimeframeSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.specs[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copySpec := *s
	return &copySpec, nil
}

// List retrieves all specs ordered by code.
func (c *TimeframeCatalog) List(_ context.Context) ([]*domain.TimeframeSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*domain.TimeframeSpec, 0, len(c.specs))
	for _, s := range c.specs {
		copySpec := *s
		result = append(result, &copySpec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

var _ storage.TimeframeCatalog = (*TimeframeCatalog)(nil)
