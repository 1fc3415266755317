package capture

import (
	"fmt"
	"math/cmplx"

	"github.com/montanaflynn/stats"
)

// SequenceStats summarises the magnitude distribution of a capture.
type SequenceStats struct {
	Class        int     `json:"class"`
	Files        int     `json:"files"`
	Samples      int     `json:"samples"`
	MeanMag      float64 `json:"meanMagnitude"`
	MedianMag    float64 `json:"medianMagnitude"`
	P99Mag       float64 `json:"p99Magnitude"`
	MaxMag       float64 `json:"maxMagnitude"`
	MagnitudeMAD float64 `json:"magnitudeMAD"`
}

// Stats computes SequenceStats for seq. An empty sequence yields zero values.
func Stats(seq Sequence) (SequenceStats, error) {
	out := SequenceStats{Class: seq.Class, Files: len(seq.Files), Samples: len(seq.Samples)}
	if len(seq.Samples) == 0 {
		return out, nil
	}

	mags := make(stats.Float64Data, len(seq.Samples))
	for i, sample := range seq.Samples {
		mags[i] = cmplx.Abs(complex128(sample))
	}

	var err error
	if out.MeanMag, err = mags.Mean(); err != nil {
		return out, fmt.Errorf("mean magnitude: %w", err)
	}
	if out.MedianMag, err = mags.Median(); err != nil {
		return out, fmt.Errorf("median magnitude: %w", err)
	}
	if out.P99Mag, err = mags.Percentile(99); err != nil {
		return out, fmt.Errorf("99th percentile magnitude: %w", err)
	}
	if out.MaxMag, err = mags.Max(); err != nil {
		return out, fmt.Errorf("max magnitude: %w", err)
	}
	if out.MagnitudeMAD, err = mags.MedianAbsoluteDeviation(); err != nil {
		return out, fmt.Errorf("magnitude MAD: %w", err)
	}
	return out, nil
}
