package windowing

// Windowing Engine
//
// Partitions one class's concatenated IQ capture into fixed-size windows.
//
// Fixed-stride mode cuts the sequence into consecutive windows starting at
// offset 0. Event-triggered mode looks for magnitude peaks (likely state
// transitions in the tag response) and opens a window at each one, skipping
// any later peak that falls inside the window just emitted.
//
// Neither mode ever emits a window shorter than the configured size, and
// neither pads: a short tail is dropped. Windows are sub-slices of the input
// sequence and must be treated as read-only.

import (
	"fmt"
	"strings"
)

// Mode selects how window start positions are chosen.
type Mode int

const (
	FixedStride Mode = iota
	EventTriggered
)

func (m Mode) String() string {
	switch m {
	case FixedStride:
		return "fixed"
	case EventTriggered:
		return "event"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode resolves a configuration value.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "fixed", "stride", "fixed-stride":
		return FixedStride, nil
	case "event", "peaks", "event-triggered":
		return EventTriggered, nil
	default:
		return 0, fmt.Errorf("unknown windowing mode %q", value)
	}
}

// PeakParams configures event detection. Height and Threshold act on sample
// magnitudes.
type PeakParams struct {
	Height    float64
	Threshold float64
	Policy    ThresholdPolicy
	// NoiseFactor scales the median absolute deviation under the NoiseFloor
	// policy.
	NoiseFactor float64
}

// DefaultPeakParams returns the detection parameters of the stock
// experiment configuration.
func DefaultPeakParams() PeakParams {
	return PeakParams{
		Height:      0.1,
		Threshold:   0.005,
		Policy:      FixedThreshold,
		NoiseFactor: 3.0,
	}
}

// Engine produces windows for one configured mode and size.
type Engine struct {
	Mode       Mode
	WindowSize int
	Peaks      PeakParams
}

// NewEngine validates the window size and returns an Engine.
func NewEngine(mode Mode, windowSize int, peaks PeakParams) (*Engine, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	if mode != FixedStride && mode != EventTriggered {
		return nil, fmt.Errorf("unsupported mode %s", mode)
	}
	return &Engine{Mode: mode, WindowSize: windowSize, Peaks: peaks}, nil
}

// Windows partitions seq according to the engine's mode.
func (e *Engine) Windows(seq []complex64) ([][]complex64, error) {
	switch e.Mode {
	case FixedStride:
		return Stride(seq, e.WindowSize), nil
	case EventTriggered:
		return Events(seq, e.WindowSize, e.Peaks)
	default:
		return nil, fmt.Errorf("unsupported mode %s", e.Mode)
	}
}

// Stride returns the floor(len(seq)/w) consecutive, non-overlapping windows
// of seq. The trailing partial chunk is dropped.
func Stride(seq []complex64, w int) [][]complex64 {
	if w <= 0 {
		return nil
	}
	count := len(seq) / w
	windows := make([][]complex64, count)
	for i := range windows {
		start := i * w
		windows[i] = seq[start : start+w : start+w]
	}
	return windows
}

// Events opens a window of size w at every detected peak P, in ascending
// order, and skips later peaks that lie at or before P+w. A window running
// past the end of seq is dropped.
func Events(seq []complex64, w int, params PeakParams) ([][]complex64, error) {
	if w <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", w)
	}

	mags := Magnitudes(seq)
	height, err := params.Policy.Height(mags, params)
	if err != nil {
		return nil, fmt.Errorf("resolve peak height: %w", err)
	}

	peaks := FindPeaks(mags, height, params.Threshold)
	return windowsAtPeaks(seq, w, peaks), nil
}

func windowsAtPeaks(seq []complex64, w int, peaks []int) [][]complex64 {
	var windows [][]complex64
	next := 0
	for next < len(peaks) {
		start := peaks[next]
		if start+w > len(seq) {
			break
		}
		windows = append(windows, seq[start:start+w:start+w])

		for next < len(peaks) && peaks[next] <= start+w {
			next++
		}
	}
	return windows
}
