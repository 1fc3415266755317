package formatting

// Window Formatter
//
// Converts a window of complex IQ samples into the numeric layout a
// classifier consumes. Two layouts exist:
//
// 1. Flat:   [re_0 .. re_{w-1}, im_0 .. im_{w-1}], shape [2w]
// 2. Planar: a 2×w matrix, row 0 real parts, row 1 imaginary parts, shape [2, w]
//
// The flat ordering (all real values, then all imaginary values) is fixed so
// that previously trained models keep reading the same input. Planar values
// are stored row-major, which makes the concatenation of its two rows equal
// to the flat vector.

import (
	"fmt"
	"strings"
)

// Layout selects the numeric representation of a window.
type Layout int

const (
	Flat Layout = iota
	Planar
)

func (l Layout) String() string {
	switch l {
	case Flat:
		return "flat"
	case Planar:
		return "planar"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// ParseLayout resolves a configuration value. The legacy experiment names
// "2d" and "3d" are accepted for flat and planar respectively.
func ParseLayout(value string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "flat", "2d":
		return Flat, nil
	case "planar", "3d":
		return Planar, nil
	default:
		return 0, fmt.Errorf("unknown window layout %q", value)
	}
}

// Formatter turns one window into its feature values.
type Formatter interface {
	Layout() Layout
	// Shape is the per-example feature shape for windows of size w.
	Shape(w int) []int
	Format(window []complex64) []float32
}

// New returns the formatter for layout.
func New(layout Layout) (Formatter, error) {
	switch layout {
	case Flat:
		return flatFormatter{}, nil
	case Planar:
		return planarFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported layout %s", layout)
	}
}

type flatFormatter struct{}

func (flatFormatter) Layout() Layout { return Flat }

func (flatFormatter) Shape(w int) []int { return []int{2 * w} }

func (flatFormatter) Format(window []complex64) []float32 {
	return split(window)
}

type planarFormatter struct{}

func (planarFormatter) Layout() Layout { return Planar }

func (planarFormatter) Shape(w int) []int { return []int{2, w} }

func (planarFormatter) Format(window []complex64) []float32 {
	return split(window)
}

func split(window []complex64) []float32 {
	w := len(window)
	out := make([]float32, 2*w)
	for i, sample := range window {
		out[i] = real(sample)
		out[w+i] = imag(sample)
	}
	return out
}

// Rows returns views of the real and imaginary rows of a planar value
// slice produced for windows of size w.
func Rows(values []float32, w int) (re, im []float32) {
	return values[:w:w], values[w : 2*w]
}

// FormatAll formats every window with f.
func FormatAll(f Formatter, windows [][]complex64) [][]float32 {
	out := make([][]float32, len(windows))
	for i, window := range windows {
		out[i] = f.Format(window)
	}
	return out
}
