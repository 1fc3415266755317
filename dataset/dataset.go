package dataset

// Dataset Assembler
//
// Collects the formatted windows of every requested class into one labelled
// dataset:
//
// 1. Labelling: label i is the position of the class in the request list.
//    File names are only used to group captures, never to derive labels.
// 2. Balancing: every class is truncated to m = min(window count) examples,
//    keeping the first m windows in the order the windowing engine produced
//    them.
// 3. Normalisation (optional): after balancing, every value is divided by a
//    single max-abs scale computed over the whole dataset, so relative
//    amplitude differences between classes survive.

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrDegenerateScale is returned when normalising a non-empty dataset whose
// values are all zero.
var ErrDegenerateScale = errors.New("dataset has no non-zero value to normalise by")

// Dataset holds parallel feature and label slices.
type Dataset struct {
	// Shape is the per-example feature shape (e.g. [2w] or [2, w]).
	Shape    []int
	Features [][]float32
	Labels   []int
	// Classes are the requested class identifiers; label i stands for Classes[i].
	Classes    []int
	ClassNames []string
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// NumClasses returns the number of distinct labels present.
func (d *Dataset) NumClasses() int {
	seen := make(map[int]struct{})
	for _, label := range d.Labels {
		seen[label] = struct{}{}
	}
	return len(seen)
}

// ShapeInconsistency is the warning raised when at least one class produced
// no window, which empties the balanced dataset.
type ShapeInconsistency struct {
	Classes []int
	Counts  []int
}

// EmptyClasses returns the classes that produced no window.
func (e *ShapeInconsistency) EmptyClasses() []int {
	var out []int
	for i, count := range e.Counts {
		if count == 0 {
			out = append(out, e.Classes[i])
		}
	}
	return out
}

func (e *ShapeInconsistency) Error() string {
	return fmt.Sprintf("classes %v produced no window; balanced dataset is empty", e.EmptyClasses())
}

// Assemble labels and balances perClass, where perClass[i] holds the
// formatted windows of classes[i].
//
// When some class has no window the empty dataset is returned together with
// a *ShapeInconsistency. That value is a warning: the dataset is valid and
// callers may continue with it.
func Assemble(perClass [][][]float32, classes []int, shape []int) (*Dataset, error) {
	if len(perClass) != len(classes) {
		return nil, fmt.Errorf("got windows for %d classes, expected %d", len(perClass), len(classes))
	}

	ds := &Dataset{
		Shape:      append([]int(nil), shape...),
		Classes:    append([]int(nil), classes...),
		ClassNames: make([]string, len(classes)),
	}
	for i, class := range classes {
		ds.ClassNames[i] = "tag" + strconv.Itoa(class)
	}
	if len(classes) == 0 {
		return ds, nil
	}

	counts := make([]int, len(perClass))
	m := math.MaxInt
	for i, windows := range perClass {
		counts[i] = len(windows)
		m = min(m, len(windows))
	}

	ds.Features = make([][]float32, 0, m*len(classes))
	ds.Labels = make([]int, 0, m*len(classes))
	for label, windows := range perClass {
		ds.Features = append(ds.Features, windows[:m]...)
		for range m {
			ds.Labels = append(ds.Labels, label)
		}
	}

	if m == 0 {
		return ds, &ShapeInconsistency{Classes: ds.Classes, Counts: counts}
	}
	return ds, nil
}

// CountsByLabel returns the number of examples per label, indexed by label.
func CountsByLabel(d *Dataset) []int {
	n := len(d.Classes)
	for _, label := range d.Labels {
		n = max(n, label+1)
	}
	counts := make([]int, n)
	for _, label := range d.Labels {
		counts[label]++
	}
	return counts
}

// Balanced reports whether counts is non-empty and every count is equal.
func Balanced(counts []int) bool {
	if len(counts) == 0 {
		return false
	}
	for _, c := range counts[1:] {
		if c != counts[0] {
			return false
		}
	}
	return true
}

// MaxAbs returns the largest absolute feature value in d.
func MaxAbs(d *Dataset) float32 {
	var peak float32
	for _, features := range d.Features {
		for _, v := range features {
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
	}
	return peak
}

// Normalize divides every feature value by the dataset-wide max-abs value and
// returns that scale. Feature slices are replaced, not modified, so windows
// shared with other datasets keep their values. An empty dataset is left
// untouched and reports a scale of 1.
func Normalize(d *Dataset) (float32, error) {
	if len(d.Features) == 0 {
		return 1, nil
	}

	scale := MaxAbs(d)
	if scale == 0 {
		return 0, ErrDegenerateScale
	}

	for i, features := range d.Features {
		scaled := make([]float32, len(features))
		for j, v := range features {
			scaled[j] = v / scale
		}
		d.Features[i] = scaled
	}
	return scale, nil
}
