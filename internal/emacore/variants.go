package emacore

import (
	"fmt"

	"ema-feature-lab/internal/domain"
)

// VariantKind names one alignment variant of the recurrence.
type VariantKind string

const (
	// VariantFixedBar: fixed-bar alignment, modulo roll policy, table alpha,
	// dual bar-space EMA.
	VariantFixedBar VariantKind = "fixed_bar"

	// VariantCalendar: calendar alignment, set-membership roll policy,
	// table alpha.
	VariantCalendar VariantKind = "calendar"

	// VariantCalendarAnchor: anchored calendar alignment, set-membership
	// roll policy, table alpha, dual bar-space EMA.
	VariantCalendarAnchor VariantKind = "calendar_anchor"

	// VariantDaysHorizon: daily grid with horizon-derived alpha, modulo
	// roll policy.
	VariantDaysHorizon VariantKind = "days_horizon"
)

// RollPolicy selects how canonical rows are determined.
type RollPolicy int

const (
	// RollModulo marks a row canonical exactly on every tf_days-th daily
	// bar counted from the asset's first observation.
	RollModulo RollPolicy = iota

	// RollMembership marks canonical exactly the rows whose source bar
	// carries the is_canonical flag for this timeframe.
	RollMembership
)

// Variant bundles the pure hooks the recurrence driver is parameterized by.
// Variants differ only in data, never in driver code.
type Variant struct {
	Kind       VariantKind
	AlphaMode  AlphaMode
	RollPolicy RollPolicy
	DualEMA    bool // maintain the bar-space companion EMA
}

var variantCatalog = map[VariantKind]Variant{
	VariantFixedBar:       {Kind: VariantFixedBar, AlphaMode: AlphaTable, RollPolicy: RollModulo, DualEMA: true},
	VariantCalendar:       {Kind: VariantCalendar, AlphaMode: AlphaTable, RollPolicy: RollMembership, DualEMA: false},
	VariantCalendarAnchor: {Kind: VariantCalendarAnchor, AlphaMode: AlphaTable, RollPolicy: RollMembership, DualEMA: true},
	VariantDaysHorizon:    {Kind: VariantDaysHorizon, AlphaMode: AlphaHorizon, RollPolicy: RollModulo, DualEMA: false},
}

// VariantByKind returns the variant descriptor for a kind.
func VariantByKind(kind VariantKind) (Variant, error) {
	v, ok := variantCatalog[kind]
	if !ok {
		return Variant{}, fmt.Errorf("%w: unknown variant %q", ErrConfiguration, kind)
	}
	return v, nil
}

// VariantFor maps a timeframe's alignment family to its default recurrence
// variant. tf_day timeframes default to fixed-bar; a target may opt into
// days-horizon instead (same daily grid and modulo roll, alpha spanning
// tf_days*period real days).
func VariantFor(spec *domain.TimeframeSpec, horizonAlpha bool) (Variant, error) {
	switch spec.Family {
	case domain.AlignTFDay:
		if horizonAlpha {
			return variantCatalog[VariantDaysHorizon], nil
		}
		return variantCatalog[VariantFixedBar], nil
	case domain.AlignCalendar:
		if horizonAlpha {
			return Variant{}, fmt.Errorf("%w: horizon alpha requires tf_day alignment, got %q", ErrConfiguration, spec.Family)
		}
		return variantCatalog[VariantCalendar], nil
	case domain.AlignCalendarAnchor:
		if horizonAlpha {
			return Variant{}, fmt.Errorf("%w: horizon alpha requires tf_day alignment, got %q", ErrConfiguration, spec.Family)
		}
		return variantCatalog[VariantCalendarAnchor], nil
	default:
		return Variant{}, fmt.Errorf("%w: unknown alignment family %q", ErrConfiguration, spec.Family)
	}
}
