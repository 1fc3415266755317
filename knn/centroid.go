package knn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"nfc-rfml/dataset"
	"nfc-rfml/evaluation"
)

// Template is the mean training vector of one label.
type Template struct {
	Label    int       `json:"label"`
	Support  int       `json:"support"`
	Features []float64 `json:"features"`
}

// CentroidClassifier compares a query with one template per label by cosine
// similarity.
type CentroidClassifier struct {
	templates  []Template
	numClasses int
}

// NewCentroidClassifier averages the training examples of every label into a
// unit-length template. Labels without examples get no template and are
// never predicted.
func NewCentroidClassifier(train dataset.Subset, numClasses int) (*CentroidClassifier, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("invalid class count: %d", numClasses)
	}
	if train.Len() == 0 {
		return nil, errors.New("training subset is empty")
	}

	dims := len(train.Features[0])
	sums := make([][]float64, numClasses)
	support := make([]int, numClasses)
	for i, features := range train.Features {
		if len(features) != dims {
			return nil, fmt.Errorf("example %d has %d features, expected %d", i, len(features), dims)
		}
		label := train.Labels[i]
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("example %d has label %d outside [0, %d)", i, label, numClasses)
		}
		if sums[label] == nil {
			sums[label] = make([]float64, dims)
		}
		for j, v := range features {
			sums[label][j] += float64(v)
		}
		support[label]++
	}

	c := &CentroidClassifier{numClasses: numClasses}
	for label, sum := range sums {
		if sum == nil {
			continue
		}
		for j := range sum {
			sum[j] /= float64(support[label])
		}
		normaliseInPlace(sum)
		c.templates = append(c.templates, Template{Label: label, Support: support[label], Features: sum})
	}
	return c, nil
}

// TemplateCount exposes number of templates.
func (c *CentroidClassifier) TemplateCount() int {
	return len(c.templates)
}

// Rank returns one prediction per template, most similar first. AverageDist
// holds 1 - similarity.
func (c *CentroidClassifier) Rank(features []float32) ([]Prediction, error) {
	if len(features) == 0 {
		return nil, errors.New("feature vector is empty")
	}
	if dims := len(c.templates[0].Features); len(features) != dims {
		return nil, fmt.Errorf("feature vector has %d values, expected %d", len(features), dims)
	}

	query := toFloat64(features)
	normaliseInPlace(query)

	results := make([]Prediction, 0, len(c.templates))
	for _, tpl := range c.templates {
		similarity := dot(query, tpl.Features)
		results = append(results, Prediction{
			Label:       tpl.Label,
			Confidence:  similarityToConfidence(similarity),
			AverageDist: 1 - similarity,
			Support:     tpl.Support,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].Label < results[j].Label
	})
	return results, nil
}

// Scores returns the per-label confidences rescaled to sum to 1.
func (c *CentroidClassifier) Scores(features []float32) ([]float64, error) {
	ranked, err := c.Rank(features)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, c.numClasses)
	var total float64
	for _, p := range ranked {
		scores[p.Label] = p.Confidence
		total += p.Confidence
	}
	if total > 0 {
		for i := range scores {
			scores[i] /= total
		}
	}
	return scores, nil
}

// Predict returns the label of the most similar template.
func (c *CentroidClassifier) Predict(features []float32) (int, error) {
	ranked, err := c.Rank(features)
	if err != nil {
		return 0, err
	}
	return ranked[0].Label, nil
}

// CentroidTrainer fits a CentroidClassifier. The validation subset is unused.
type CentroidTrainer struct {
	NumClasses int
}

// Train implements evaluation.Trainer.
func (t CentroidTrainer) Train(ctx context.Context, train, _ dataset.Subset) (evaluation.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	numClasses := t.NumClasses
	if numClasses <= 0 {
		for _, label := range train.Labels {
			numClasses = max(numClasses, label+1)
		}
	}
	return NewCentroidClassifier(train, numClasses)
}

func normaliseInPlace(vec []float64) {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm < epsilon {
		return
	}
	for i := range vec {
		vec[i] /= norm
	}
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func similarityToConfidence(sim float64) float64 {
	// sim ranges [-1,1]; convert to [0,1]
	conf := (sim + 1) / 2
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}
