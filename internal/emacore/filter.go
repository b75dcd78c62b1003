package emacore

// FilterPeriods drops any period whose required look-back exceeds the
// available canonical observation count for an asset. Table-alpha variants
// require at least `period` observations; the days-horizon variant requires
// the full horizon in daily samples. Emitting EMAs with less history than
// the smoothing window would produce statistically meaningless early-life
// values.
//
// The input slice is not mutated. Deterministic and pure.
func FilterPeriods(availableObs int, periods []int, tfDays int, mode AlphaMode) []int {
	kept := make([]int, 0, len(periods))
	for _, p := range periods {
		if p <= 0 {
			continue
		}
		required := p
		if mode == AlphaHorizon {
			required = HorizonDays(p, tfDays)
		}
		if availableObs >= required {
			kept = append(kept, p)
		}
	}
	return kept
}
