package knn

// K-Nearest Neighbours baseline
//
// Every training example becomes a prototype. A query is compared with all
// prototypes by Euclidean distance and the k nearest vote for their label:
//
//   weight     = 1 / (distance + epsilon)
//   confidence = sum of weights for a label / total weight of the k neighbours
//
// Features can optionally be standardised per dimension with statistics from
// the training subset, which keeps high-amplitude captures from dominating
// the distance.

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"nfc-rfml/dataset"
	"nfc-rfml/evaluation"
)

const epsilon = 1e-9

// DefaultK is the neighbour count used when none is configured.
const DefaultK = 5

type prototype struct {
	features []float64
	label    int
	index    int
}

type distancePair struct {
	index    int
	distance float64
}

// Classifier performs k-nearest prototype lookups in the feature space.
type Classifier struct {
	prototypes []prototype
	k          int
	numClasses int
	scaler     *FeatureScaler
}

// Prediction is the aggregated vote for one label.
type Prediction struct {
	Label       int     `json:"label"`
	Confidence  float64 `json:"confidence"`
	AverageDist float64 `json:"averageDistance"`
	Support     int     `json:"support"`
}

// ModelStats exposes metadata about the prototype set.
type ModelStats struct {
	PrototypeCount int   `json:"prototypeCount"`
	PerLabel       []int `json:"perLabel"`
	K              int   `json:"k"`
	Dimensions     int   `json:"dimensions"`
	Standardized   bool  `json:"standardized"`
}

// NewClassifier builds a classifier from a training subset. numClasses fixes
// the width of score vectors.
func NewClassifier(train dataset.Subset, numClasses, k int, standardize bool) (*Classifier, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid neighbour count: %d", k)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("invalid class count: %d", numClasses)
	}
	if train.Len() == 0 {
		return nil, errors.New("training subset is empty")
	}

	c := &Classifier{k: min(k, train.Len()), numClasses: numClasses}
	if standardize {
		scaler, err := NewFeatureScaler(train.Features)
		if err != nil {
			return nil, fmt.Errorf("fit feature scaler: %w", err)
		}
		c.scaler = scaler
	}

	dims := len(train.Features[0])
	c.prototypes = make([]prototype, train.Len())
	for i, features := range train.Features {
		if len(features) != dims {
			return nil, fmt.Errorf("example %d has %d features, expected %d", i, len(features), dims)
		}
		label := train.Labels[i]
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("example %d has label %d outside [0, %d)", i, label, numClasses)
		}
		vec, err := c.prepare(features)
		if err != nil {
			return nil, err
		}
		index := i
		if i < len(train.Indices) {
			index = train.Indices[i]
		}
		c.prototypes[i] = prototype{features: vec, label: label, index: index}
	}
	return c, nil
}

func (c *Classifier) prepare(features []float32) ([]float64, error) {
	if c.scaler != nil {
		return c.scaler.Transform(features)
	}
	return toFloat64(features), nil
}

// Stats returns summary metadata about the prototype set.
func (c *Classifier) Stats() ModelStats {
	perLabel := make([]int, c.numClasses)
	for _, p := range c.prototypes {
		perLabel[p.label]++
	}
	dims := 0
	if len(c.prototypes) > 0 {
		dims = len(c.prototypes[0].features)
	}
	return ModelStats{
		PrototypeCount: len(c.prototypes),
		PerLabel:       perLabel,
		K:              c.k,
		Dimensions:     dims,
		Standardized:   c.scaler != nil,
	}
}

// Neighbours returns the predictions for a feature vector, best first.
func (c *Classifier) Neighbours(features []float32) ([]Prediction, error) {
	if len(features) == 0 {
		return nil, errors.New("feature vector is empty")
	}
	query, err := c.prepare(features)
	if err != nil {
		return nil, err
	}
	if len(query) != len(c.prototypes[0].features) {
		return nil, fmt.Errorf("feature vector has %d values, expected %d", len(query), len(c.prototypes[0].features))
	}

	distances := make([]distancePair, len(c.prototypes))
	for i := range c.prototypes {
		distances[i] = distancePair{index: i, distance: euclidean(query, c.prototypes[i].features)}
	}
	sort.SliceStable(distances, func(i, j int) bool {
		return distances[i].distance < distances[j].distance
	})

	type labelScore struct {
		weightSum float64
		distSum   float64
		count     int
	}
	scores := make(map[int]*labelScore)
	var totalWeight float64
	for idx := 0; idx < len(distances) && idx < c.k; idx++ {
		neighbour := distances[idx]
		weight := 1.0 / (neighbour.distance + epsilon)
		label := c.prototypes[neighbour.index].label

		s, ok := scores[label]
		if !ok {
			s = &labelScore{}
			scores[label] = s
		}
		s.weightSum += weight
		s.distSum += neighbour.distance
		s.count++
		totalWeight += weight
	}

	predictions := make([]Prediction, 0, len(scores))
	for label, s := range scores {
		predictions = append(predictions, Prediction{
			Label:       label,
			Confidence:  s.weightSum / totalWeight,
			AverageDist: s.distSum / float64(s.count),
			Support:     s.count,
		})
	}
	sort.Slice(predictions, func(i, j int) bool {
		if math.Abs(predictions[i].Confidence-predictions[j].Confidence) > 1e-9 {
			return predictions[i].Confidence > predictions[j].Confidence
		}
		if predictions[i].AverageDist != predictions[j].AverageDist {
			return predictions[i].AverageDist < predictions[j].AverageDist
		}
		return predictions[i].Label < predictions[j].Label
	})
	return predictions, nil
}

// Scores returns the confidence of every label, indexed by label.
func (c *Classifier) Scores(features []float32) ([]float64, error) {
	predictions, err := c.Neighbours(features)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, c.numClasses)
	for _, p := range predictions {
		scores[p.Label] = p.Confidence
	}
	return scores, nil
}

// Predict returns the best label for a feature vector.
func (c *Classifier) Predict(features []float32) (int, error) {
	predictions, err := c.Neighbours(features)
	if err != nil {
		return 0, err
	}
	return predictions[0].Label, nil
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Trainer fits a Classifier. When Candidates is set, each candidate k is
// scored on the validation subset and the most accurate one is kept.
type Trainer struct {
	K           int
	Candidates  []int
	Standardize bool
	NumClasses  int
}

// Train implements evaluation.Trainer.
func (t Trainer) Train(ctx context.Context, train, validation dataset.Subset) (evaluation.Model, error) {
	return t.Fit(ctx, train, validation)
}

// Fit is Train with the concrete classifier type.
func (t Trainer) Fit(ctx context.Context, train, validation dataset.Subset) (*Classifier, error) {
	k := t.K
	if k <= 0 {
		k = DefaultK
	}
	numClasses := t.NumClasses
	if numClasses <= 0 {
		for _, label := range train.Labels {
			numClasses = max(numClasses, label+1)
		}
	}

	best, err := NewClassifier(train, numClasses, k, t.Standardize)
	if err != nil {
		return nil, err
	}
	if len(t.Candidates) == 0 || validation.Len() == 0 {
		return best, nil
	}

	bestAccuracy := -1.0
	for _, candidate := range t.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clf, err := NewClassifier(train, numClasses, candidate, t.Standardize)
		if err != nil {
			return nil, err
		}
		report, err := evaluation.Evaluate(clf, validation, numClasses)
		if err != nil {
			return nil, fmt.Errorf("validate k=%d: %w", candidate, err)
		}
		if report.Accuracy > bestAccuracy {
			best, bestAccuracy = clf, report.Accuracy
		}
	}
	return best, nil
}
