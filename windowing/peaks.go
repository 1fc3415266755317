package windowing

import "math/cmplx"

// Magnitudes returns |x| for every sample of seq.
func Magnitudes(seq []complex64) []float64 {
	mags := make([]float64, len(seq))
	for i, sample := range seq {
		mags[i] = cmplx.Abs(complex128(sample))
	}
	return mags
}

// FindPeaks returns the ascending indices of local maxima in x whose value is
// at least height and whose vertical distance to both neighbouring samples is
// at least threshold.
//
// A flat plateau counts as a single peak reported at its midpoint (rounded
// down). The threshold is measured against the samples next to the reported
// index, so a plateau wider than one sample only passes a zero threshold.
// The first and last samples are never peaks.
func FindPeaks(x []float64, height, threshold float64) []int {
	var peaks []int
	last := len(x) - 1

	for i := 1; i < last; i++ {
		if x[i-1] >= x[i] {
			continue
		}

		ahead := i + 1
		for ahead < last && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] >= x[i] {
			continue
		}

		left, right := i, ahead-1
		peak := (left + right) / 2
		value := x[peak]
		if value >= height &&
			value-x[peak-1] >= threshold &&
			value-x[peak+1] >= threshold {
			peaks = append(peaks, peak)
		}
		i = ahead
	}

	return peaks
}
