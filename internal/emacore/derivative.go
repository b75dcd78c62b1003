package emacore

import "math"

// Derivatives computes first and second differences over one
// (asset, timeframe, period) series:
//
//	d1[t] = v[t] - v[t-1]
//	d2[t] = d1[t] - d1[t-1]
//
// Leading positions without enough history are NaN: d1[0], d2[0], d2[1].
// Never apply this across group boundaries.
func Derivatives(series []float64) (d1, d2 []float64) {
	n := len(series)
	d1 = make([]float64, n)
	d2 = make([]float64, n)

	for i := 0; i < n; i++ {
		if i == 0 {
			d1[i] = math.NaN()
			d2[i] = math.NaN()
			continue
		}
		d1[i] = series[i] - series[i-1]
		if i == 1 || math.IsNaN(d1[i-1]) {
			d2[i] = math.NaN()
			continue
		}
		d2[i] = d1[i] - d1[i-1]
	}

	return d1, d2
}

// CanonicalDerivatives computes the same differences restricted to the
// subsequence where roll[i] is false, re-indexed contiguously before
// differencing. Preview positions are returned as NaN, so interleaved
// preview rows never break derivative continuity for the canonical chain.
//
// priorCanonical supplies up to the last two canonical values written
// before this batch, oldest first, so the first rows of an incremental
// batch difference against persisted history rather than restarting.
func CanonicalDerivatives(series []float64, roll []bool, priorCanonical []float64) (d1, d2 []float64) {
	n := len(series)
	d1 = make([]float64, n)
	d2 = make([]float64, n)
	for i := range d1 {
		d1[i] = math.NaN()
		d2[i] = math.NaN()
	}

	// Collect the canonical subsequence with its original positions.
	sub := append([]float64{}, priorCanonical...)
	pos := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !roll[i] {
			sub = append(sub, series[i])
			pos = append(pos, i)
		}
	}

	subD1, subD2 := Derivatives(sub)
	offset := len(priorCanonical)
	for j, i := range pos {
		d1[i] = subD1[offset+j]
		d2[i] = subD2[offset+j]
	}

	return d1, d2
}
