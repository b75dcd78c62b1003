// Package emacore implements the incremental EMA recurrence: alpha
// derivation, the per-variant roll policies, the sequential recurrence
// driver and the derivative passes.
package emacore

import (
	"errors"
	"fmt"
)

// ErrConfiguration indicates a bad period/alpha/variant configuration.
// It is fatal for the whole batch: it signals a code or config defect,
// not transient data.
var ErrConfiguration = errors.New("configuration error")

// AlphaMode selects how the smoothing constant is derived.
type AlphaMode int

const (
	// AlphaTable looks alpha up from the pre-tabulated period table.
	AlphaTable AlphaMode = iota

	// AlphaHorizon derives alpha from the real-time horizon
	// tf_days * period.
	AlphaHorizon
)

// knownPeriods are the periods the warehouse tabulates alphas for.
var knownPeriods = []int{3, 5, 8, 9, 10, 12, 13, 20, 21, 26, 34, 50, 55, 89, 100, 144, 200}

// alphaTable maps period -> 2/(period+1) for the known periods.
var alphaTable = func() map[int]float64 {
	t := make(map[int]float64, len(knownPeriods))
	for _, p := range knownPeriods {
		t[p] = 2.0 / float64(p+1)
	}
	return t
}()

// HorizonDays returns the real-time span used by the days-horizon variant.
func HorizonDays(period, tfDays int) int {
	return tfDays * period
}

// DeriveAlpha resolves the smoothing constant for one period.
// Table mode consults the tabulated period table; horizon mode derives
// alpha from tf_days * period. Returns ErrConfiguration if the period is
// non-positive or no alpha resolves.
func DeriveAlpha(period, tfDays int, mode AlphaMode) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: period must be positive, got %d", ErrConfiguration, period)
	}

	switch mode {
	case AlphaTable:
		alpha, ok := alphaTable[period]
		if !ok {
			return 0, fmt.Errorf("%w: no tabulated alpha for period %d", ErrConfiguration, period)
		}
		return alpha, nil

	case AlphaHorizon:
		if tfDays <= 0 {
			return 0, fmt.Errorf("%w: tf_days must be positive, got %d", ErrConfiguration, tfDays)
		}
		horizon := HorizonDays(period, tfDays)
		return 2.0 / float64(horizon+1), nil

	default:
		return 0, fmt.Errorf("%w: unknown alpha mode %d", ErrConfiguration, mode)
	}
}
