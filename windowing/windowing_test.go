package windowing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []complex64 {
	seq := make([]complex64, n)
	for i := range seq {
		seq[i] = complex(float32(i), -float32(i))
	}
	return seq
}

// signalWithPeaks returns a zero sequence of length n with a spike of the
// given amplitude at each index.
func signalWithPeaks(n int, amplitude float32, at ...int) []complex64 {
	seq := make([]complex64, n)
	for _, idx := range at {
		seq[idx] = complex(amplitude, 0)
	}
	return seq
}

func TestStrideCountAndLength(t *testing.T) {
	for _, tc := range []struct {
		length, size int
	}{
		{2048, 256}, {10, 4}, {7, 7}, {3, 5}, {0, 4}, {1000, 1}, {999, 10},
	} {
		windows := Stride(ramp(tc.length), tc.size)
		require.Len(t, windows, tc.length/tc.size, "L=%d W=%d", tc.length, tc.size)
		for _, window := range windows {
			assert.Len(t, window, tc.size)
		}
	}
}

func TestStrideDropsTrailingSamples(t *testing.T) {
	seq := ramp(10)
	windows := Stride(seq, 4)

	require.Len(t, windows, 2)
	assert.Equal(t, seq[0:4], windows[0])
	assert.Equal(t, seq[4:8], windows[1])
}

func TestStrideWindowsCannotGrowIntoNeighbours(t *testing.T) {
	seq := ramp(8)
	windows := Stride(seq, 4)
	assert.Equal(t, 4, cap(windows[0]))
}

func TestFindPeaksHeightAndThreshold(t *testing.T) {
	x := []float64{0, 0.5, 0, 0.05, 0, 0.3, 0.299, 0}

	assert.Equal(t, []int{1, 5}, FindPeaks(x, 0.1, 0))
	// 0.3 is only 0.001 above its right neighbour.
	assert.Equal(t, []int{1}, FindPeaks(x, 0.1, 0.005))
	assert.Equal(t, []int{1, 3, 5}, FindPeaks(x, 0, 0))
}

func TestFindPeaksPlateauMidpoint(t *testing.T) {
	x := []float64{0, 1, 1, 1, 1, 0, 2, 2, 3, 0}
	// plateau 1..4 -> midpoint 2; 2,2 rises into 3 so it is not a peak.
	assert.Equal(t, []int{2, 8}, FindPeaks(x, 0, 0))

	// A positive threshold is measured at the midpoint, inside the plateau.
	assert.Empty(t, FindPeaks([]float64{0, 1, 1, 0}, 0, 0.5))
	assert.Equal(t, []int{8}, FindPeaks(x, 0, 0.5))
	assert.Equal(t, []int{2}, FindPeaks([]float64{0, 0.5, 1, 0.5, 0}, 0, 0.5))
}

func TestFindPeaksIgnoresEdges(t *testing.T) {
	assert.Empty(t, FindPeaks([]float64{5, 1, 5}, 0, 0))
	assert.Empty(t, FindPeaks([]float64{1}, 0, 0))
	assert.Empty(t, FindPeaks(nil, 0, 0))
}

func TestFindPeaksAllZero(t *testing.T) {
	assert.Empty(t, FindPeaks(make([]float64, 64), 0.1, 0.005))
}

func TestEventsSkipsPeaksInsideWindow(t *testing.T) {
	seq := signalWithPeaks(100, 1, 10, 12, 14, 30, 40, 60)
	windows, err := Events(seq, 20, DefaultPeakParams())
	require.NoError(t, err)

	// 10 -> [10,30); 12,14,30 are <= 30 and skipped; 40 -> [40,60); 60 skipped.
	require.Len(t, windows, 2)
	assert.Equal(t, seq[10:30], windows[0])
	assert.Equal(t, seq[40:60], windows[1])
}

func TestEventsPeakJustAfterWindowStartsNewOne(t *testing.T) {
	seq := signalWithPeaks(100, 1, 10, 31)
	windows, err := Events(seq, 20, DefaultPeakParams())
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, seq[31:51], windows[1])
}

func TestEventsDropsTruncatedWindow(t *testing.T) {
	seq := signalWithPeaks(50, 1, 5, 40)
	windows, err := Events(seq, 20, DefaultPeakParams())
	require.NoError(t, err)

	require.Len(t, windows, 1)
	for _, window := range windows {
		assert.Len(t, window, 20)
	}
}

func TestEventsNoPeakAboveHeight(t *testing.T) {
	seq := signalWithPeaks(200, 0.05, 10, 50, 90)
	windows, err := Events(seq, 16, DefaultPeakParams())
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestEngineWindowLargerThanSequence(t *testing.T) {
	for _, mode := range []Mode{FixedStride, EventTriggered} {
		engine, err := NewEngine(mode, 64, DefaultPeakParams())
		require.NoError(t, err)

		windows, err := engine.Windows(signalWithPeaks(32, 1, 4))
		require.NoError(t, err, mode.String())
		assert.Empty(t, windows, mode.String())
	}
}

func TestNewEngineRejectsBadSize(t *testing.T) {
	_, err := NewEngine(FixedStride, 0, DefaultPeakParams())
	assert.Error(t, err)
}

func TestNoiseFloorPolicyRaisesHeight(t *testing.T) {
	seq := make([]complex64, 200)
	for i := range seq {
		// noise alternating between 0.2 and 0.3
		if i%2 == 0 {
			seq[i] = 0.2
		} else {
			seq[i] = 0.3
		}
	}
	seq[101] = 2

	fixed := DefaultPeakParams()
	fixed.Threshold = 0
	windowsFixed, err := Events(seq, 10, fixed)
	require.NoError(t, err)
	assert.Greater(t, len(windowsFixed), 1)

	adaptive := fixed
	adaptive.Policy = NoiseFloor
	windowsAdaptive, err := Events(seq, 10, adaptive)
	require.NoError(t, err)
	require.Len(t, windowsAdaptive, 1)
	assert.Equal(t, complex64(2), windowsAdaptive[0][0])
}

func TestNoiseFloorNeverBelowConfiguredHeight(t *testing.T) {
	params := DefaultPeakParams()
	params.Policy = NoiseFloor
	height, err := params.Policy.Height(make([]float64, 16), params)
	require.NoError(t, err)
	assert.Equal(t, params.Height, height)
}

func TestParseModeAndPolicy(t *testing.T) {
	mode, err := ParseMode("event")
	require.NoError(t, err)
	assert.Equal(t, EventTriggered, mode)

	_, err = ParseMode("sliding")
	assert.Error(t, err)

	policy, err := ParseThresholdPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FixedThreshold, policy)

	policy, err = ParseThresholdPolicy("NoiseFloor")
	require.NoError(t, err)
	assert.Equal(t, NoiseFloor, policy)
}
