package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"nfc-rfml/config"
)

// roundingSlack keeps ratio products such as 0.3*10 = 3.0000000000000004
// from rounding up to an extra example.
const roundingSlack = 1e-9

// Subset is one partition of a split. Features share their backing arrays
// with the source dataset.
type Subset struct {
	// Indices are positions in the source dataset.
	Indices  []int
	Features [][]float32
	Labels   []int
	OneHot   [][]float32
}

// Len returns the number of examples in the subset.
func (s Subset) Len() int {
	return len(s.Labels)
}

// Split is a dataset partitioned into train, validation and test subsets.
type Split struct {
	Train      Subset
	Validation Subset
	Test       Subset
	// NumClasses is the width of every one-hot vector.
	NumClasses int
	// Shape is the per-example model input shape: the dataset shape with a
	// trailing channel axis of 1.
	Shape []int
}

// Sizes returns the number of examples in train, validation and test.
func (s *Split) Sizes() (train, validation, test int) {
	return s.Train.Len(), s.Validation.Len(), s.Test.Len()
}

// Subsets returns the partitions keyed by name, in train, validation, test
// order.
func (s *Split) Subsets() []NamedSubset {
	return []NamedSubset{
		{Name: "train", Subset: s.Train},
		{Name: "validation", Subset: s.Validation},
		{Name: "test", Subset: s.Test},
	}
}

// NamedSubset pairs a subset with its partition name.
type NamedSubset struct {
	Name string
	Subset
}

func ceilCount(ratio float64, n int) int {
	if n == 0 || ratio <= 0 {
		return 0
	}
	return min(n, int(math.Ceil(ratio*float64(n)-roundingSlack)))
}

// PartitionSizes returns how many of n examples go to each partition.
// The held-out pool is ceil((1-train)*n) examples; the test part of that
// pool is ceil(test/(validation+test)*pool) and validation keeps the rest.
func PartitionSizes(n int, ratios config.Ratios) (train, validation, test int) {
	pool := ceilCount(1-ratios.Train, n)
	if held := ratios.Validation + ratios.Test; held > 0 {
		test = ceilCount(ratios.Test/held, pool)
	}
	return n - pool, pool - test, test
}

// SplitDataset partitions ds with a permutation seeded by seed, so the same
// dataset, ratios and seed always give the same split. The held-out pool is
// taken from the head of the permutation and divided into validation and
// test without further shuffling. Every subset is one-hot encoded with the
// number of distinct labels in the whole dataset.
func SplitDataset(ds *Dataset, ratios config.Ratios, seed uint64) (*Split, error) {
	if err := ratios.Validate(); err != nil {
		return nil, err
	}
	if len(ds.Features) != len(ds.Labels) {
		return nil, fmt.Errorf("dataset has %d feature vectors but %d labels", len(ds.Features), len(ds.Labels))
	}

	k := ds.NumClasses()
	for i, label := range ds.Labels {
		if label < 0 || label >= k {
			return nil, fmt.Errorf("label %d at index %d is outside [0, %d)", label, i, k)
		}
	}

	n := ds.Len()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)

	nTrain, nVal, _ := PartitionSizes(n, ratios)
	pool := n - nTrain

	split := &Split{
		NumClasses: k,
		Shape:      append(append([]int(nil), ds.Shape...), 1),
	}
	split.Validation = subset(ds, perm[:nVal], k)
	split.Test = subset(ds, perm[nVal:pool], k)
	split.Train = subset(ds, perm[pool:], k)
	return split, nil
}

func subset(ds *Dataset, indices []int, k int) Subset {
	features := make([][]float32, len(indices))
	labels := make([]int, len(indices))
	for i, idx := range indices {
		features[i] = ds.Features[idx]
		labels[i] = ds.Labels[idx]
	}
	return NewSubset(append([]int(nil), indices...), features, labels, k)
}

// NewSubset builds a Subset from stored examples, recomputing the one-hot
// encoding with k classes.
func NewSubset(indices []int, features [][]float32, labels []int, k int) Subset {
	return Subset{
		Indices:  indices,
		Features: features,
		Labels:   labels,
		OneHot:   OneHot(labels, k),
	}
}

// OneHot encodes labels as k-wide indicator vectors. A label outside [0, k)
// yields an all-zero row.
func OneHot(labels []int, k int) [][]float32 {
	out := make([][]float32, len(labels))
	for i, label := range labels {
		row := make([]float32, k)
		if label >= 0 && label < k {
			row[label] = 1
		}
		out[i] = row
	}
	return out
}

// Argmax returns the index of the largest value, the first one on ties, or
// -1 for an empty slice.
func Argmax(values []float32) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}
