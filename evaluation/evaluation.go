package evaluation

// Classifier evaluation
//
// Any model that maps one feature vector to a label can be scored against a
// dataset subset. The report carries:
//
// 1. Overall accuracy.
// 2. A confusion matrix with true labels as rows and predictions as columns.
// 3. Per-class precision, recall, F1 and support, plus their macro and
//    support-weighted averages.
// 4. Mean and spread of the winning score, for models that expose scores.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"

	"nfc-rfml/dataset"
)

// Model predicts the label of one feature vector.
type Model interface {
	Predict(features []float32) (int, error)
}

// Scorer is implemented by models that can report a per-class score vector.
// Scores are expected to sum to 1.
type Scorer interface {
	Scores(features []float32) ([]float64, error)
}

// Trainer fits a Model on a training subset. The validation subset may be
// used for model selection and may be empty.
type Trainer interface {
	Train(ctx context.Context, train, validation dataset.Subset) (Model, error)
}

// ClassMetrics tracks per-class performance
type ClassMetrics struct {
	Label         int     `json:"label"`
	ClassName     string  `json:"className"`
	Support       int     `json:"support"`
	Correct       int     `json:"correct"`
	Predicted     int     `json:"predicted"`
	Precision     float64 `json:"precision"`
	Recall        float64 `json:"recall"`
	F1            float64 `json:"f1"`
	AvgConfidence float64 `json:"avgConfidence,omitempty"`
	ConfidenceStd float64 `json:"confidenceStd,omitempty"`
}

// Misclassification records one wrong prediction.
type Misclassification struct {
	Index      int     `json:"index"`
	TrueLabel  int     `json:"trueLabel"`
	Predicted  int     `json:"predicted"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Report contains the evaluation results of one subset.
type Report struct {
	Samples        int                 `json:"samples"`
	Correct        int                 `json:"correct"`
	Accuracy       float64             `json:"accuracy"`
	MacroPrecision float64             `json:"macroPrecision"`
	MacroRecall    float64             `json:"macroRecall"`
	MacroF1        float64             `json:"macroF1"`
	WeightedF1     float64             `json:"weightedF1"`
	AvgConfidence  float64             `json:"avgConfidence,omitempty"`
	Confusion      [][]int             `json:"confusion"`
	Classes        []ClassMetrics      `json:"classes"`
	Misclassified  []Misclassification `json:"misclassified,omitempty"`
	Elapsed        time.Duration       `json:"elapsed"`
}

// SetClassNames labels the per-class metrics with names[label].
func (r *Report) SetClassNames(names []string) {
	for i := range r.Classes {
		if label := r.Classes[i].Label; label < len(names) {
			r.Classes[i].ClassName = names[label]
		}
	}
}

// Evaluate runs model over every example of subset. k is the number of
// classes; a prediction outside [0, k) is an error.
func Evaluate(model Model, subset dataset.Subset, k int) (*Report, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid class count: %d", k)
	}
	if len(subset.Features) != len(subset.Labels) {
		return nil, errors.New("subset features and labels differ in length")
	}
	started := time.Now()

	scorer, _ := model.(Scorer)
	confusion := make([][]int, k)
	for i := range confusion {
		confusion[i] = make([]int, k)
	}
	confidences := make([]stats.Float64Data, k)
	var allConfidences stats.Float64Data

	report := &Report{Samples: subset.Len()}
	for i, features := range subset.Features {
		truth := subset.Labels[i]
		if truth < 0 || truth >= k {
			return nil, fmt.Errorf("example %d has label %d outside [0, %d)", i, truth, k)
		}

		var predicted int
		confidence := 0.0
		if scorer != nil {
			scores, err := scorer.Scores(features)
			if err != nil {
				return nil, fmt.Errorf("score example %d: %w", i, err)
			}
			predicted = argmax(scores)
			if predicted >= 0 {
				confidence = scores[predicted]
			}
			confidences[truth] = append(confidences[truth], confidence)
			allConfidences = append(allConfidences, confidence)
		} else {
			var err error
			if predicted, err = model.Predict(features); err != nil {
				return nil, fmt.Errorf("predict example %d: %w", i, err)
			}
		}
		if predicted < 0 || predicted >= k {
			return nil, fmt.Errorf("example %d: prediction %d outside [0, %d)", i, predicted, k)
		}

		confusion[truth][predicted]++
		if predicted == truth {
			report.Correct++
			continue
		}
		report.Misclassified = append(report.Misclassified, Misclassification{
			Index:      subsetIndex(subset, i),
			TrueLabel:  truth,
			Predicted:  predicted,
			Confidence: confidence,
		})
	}

	report.Confusion = confusion
	if report.Samples > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Samples)
	}
	if len(allConfidences) > 0 {
		report.AvgConfidence, _ = allConfidences.Mean()
	}

	report.Classes = make([]ClassMetrics, k)
	for label := range k {
		m := ClassMetrics{Label: label, Correct: confusion[label][label]}
		for j := range k {
			m.Support += confusion[label][j]
			m.Predicted += confusion[j][label]
		}
		m.Precision = ratio(m.Correct, m.Predicted)
		m.Recall = ratio(m.Correct, m.Support)
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		if len(confidences[label]) > 0 {
			m.AvgConfidence, _ = confidences[label].Mean()
			m.ConfidenceStd, _ = confidences[label].StandardDeviationPopulation()
		}
		report.Classes[label] = m

		report.MacroPrecision += m.Precision / float64(k)
		report.MacroRecall += m.Recall / float64(k)
		report.MacroF1 += m.F1 / float64(k)
		if report.Samples > 0 {
			report.WeightedF1 += m.F1 * float64(m.Support) / float64(report.Samples)
		}
	}

	report.Elapsed = time.Since(started)
	return report, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func subsetIndex(subset dataset.Subset, i int) int {
	if i < len(subset.Indices) {
		return subset.Indices[i]
	}
	return i
}

func argmax(values []float64) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}

// Verdict grades an accuracy in [0, 1].
func Verdict(accuracy float64) string {
	switch {
	case accuracy >= 0.9:
		return "EXCELLENT"
	case accuracy >= 0.8:
		return "GOOD"
	case accuracy >= 0.7:
		return "FAIR"
	default:
		return "POOR"
	}
}
