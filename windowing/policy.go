package windowing

import (
	"fmt"
	"strings"

	"github.com/montanaflynn/stats"
)

// ThresholdPolicy decides the minimum peak height used for one capture.
type ThresholdPolicy int

const (
	// FixedThreshold uses PeakParams.Height verbatim.
	FixedThreshold ThresholdPolicy = iota
	// NoiseFloor raises the height to median(|x|) + NoiseFactor*MAD(|x|) of
	// the capture when that is above PeakParams.Height.
	NoiseFloor
)

func (p ThresholdPolicy) String() string {
	switch p {
	case FixedThreshold:
		return "fixed"
	case NoiseFloor:
		return "noisefloor"
	default:
		return fmt.Sprintf("ThresholdPolicy(%d)", int(p))
	}
}

// ParseThresholdPolicy resolves a configuration value. Empty means fixed.
func ParseThresholdPolicy(value string) (ThresholdPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "fixed":
		return FixedThreshold, nil
	case "noisefloor", "noise-floor", "adaptive":
		return NoiseFloor, nil
	default:
		return 0, fmt.Errorf("unknown peak threshold policy %q", value)
	}
}

// Height returns the minimum peak height for a capture with magnitudes mags.
func (p ThresholdPolicy) Height(mags []float64, params PeakParams) (float64, error) {
	switch p {
	case FixedThreshold:
		return params.Height, nil
	case NoiseFloor:
		if len(mags) == 0 {
			return params.Height, nil
		}
		floor, err := NoiseFloorEstimate(mags, params.NoiseFactor)
		if err != nil {
			return 0, err
		}
		if floor > params.Height {
			return floor, nil
		}
		return params.Height, nil
	default:
		return 0, fmt.Errorf("unsupported threshold policy %s", p)
	}
}

// NoiseFloorEstimate returns median(mags) + factor*MAD(mags).
func NoiseFloorEstimate(mags []float64, factor float64) (float64, error) {
	data := stats.Float64Data(mags)
	median, err := stats.Median(data)
	if err != nil {
		return 0, fmt.Errorf("median magnitude: %w", err)
	}
	mad, err := stats.MedianAbsoluteDeviation(data)
	if err != nil {
		return 0, fmt.Errorf("median absolute deviation: %w", err)
	}
	return median + factor*mad, nil
}
