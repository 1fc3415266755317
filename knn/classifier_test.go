package knn

import (
	"context"
	"math"
	"testing"

	"nfc-rfml/dataset"
)

func syntheticSubset() dataset.Subset {
	features := [][]float32{
		{1.0, 0.0, 0.0},
		{0.9, 0.1, 0.0},
		{1.1, 0.0, 0.1},
		{0.0, 0.0, 1.0},
		{0.1, 0.0, 0.9},
		{0.0, 0.1, 1.1},
	}
	labels := []int{0, 0, 0, 1, 1, 1}
	return dataset.NewSubset([]int{0, 1, 2, 3, 4, 5}, features, labels, 2)
}

func TestClassifierPredictPrefersMajorityLabel(t *testing.T) {
	t.Parallel()

	classifier, err := NewClassifier(syntheticSubset(), 2, 3, false)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}

	predictions, err := classifier.Neighbours([]float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Neighbours returned error: %v", err)
	}
	if len(predictions) == 0 {
		t.Fatalf("no predictions returned")
	}
	if predictions[0].Label != 0 {
		t.Fatalf("expected label 0 as top prediction, got %d", predictions[0].Label)
	}
	if predictions[0].Support != 3 {
		t.Fatalf("expected support=3 for label 0, got %d", predictions[0].Support)
	}
	if predictions[0].Confidence < 0.999 {
		t.Fatalf("expected confidence ~1 for label 0, got %.3f", predictions[0].Confidence)
	}
}

func TestClassifierPredictRespondsToFeatureShift(t *testing.T) {
	t.Parallel()

	classifier, err := NewClassifier(syntheticSubset(), 2, 5, false)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}

	label, err := classifier.Predict([]float32{0.05, 0, 1})
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected label 1, got %d", label)
	}

	scores, err := classifier.Scores([]float32{0.05, 0, 1})
	if err != nil {
		t.Fatalf("Scores returned error: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
	if math.Abs(scores[0]+scores[1]-1) > 1e-9 {
		t.Fatalf("scores should sum to 1, got %v", scores)
	}
	if scores[1] < 0.9 {
		t.Fatalf("expected label 1 score >= 0.9, got %.3f", scores[1])
	}
}

func TestClassifierExactMatchDominates(t *testing.T) {
	t.Parallel()

	classifier, err := NewClassifier(syntheticSubset(), 2, 6, true)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}
	label, err := classifier.Predict([]float32{0.0, 0.0, 1.0})
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected exact prototype label 1, got %d", label)
	}
	if stats := classifier.Stats(); !stats.Standardized || stats.PrototypeCount != 6 || stats.PerLabel[1] != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClassifierRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewClassifier(syntheticSubset(), 2, 0, false); err == nil {
		t.Fatalf("expected error for k=0")
	}
	if _, err := NewClassifier(dataset.Subset{}, 2, 3, false); err == nil {
		t.Fatalf("expected error for empty training subset")
	}
	if _, err := NewClassifier(syntheticSubset(), 1, 3, false); err == nil {
		t.Fatalf("expected error for label outside class count")
	}

	classifier, err := NewClassifier(syntheticSubset(), 2, 3, false)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}
	if _, err := classifier.Predict(nil); err == nil {
		t.Fatalf("expected error for empty feature vector")
	}
	if _, err := classifier.Predict([]float32{1, 2}); err == nil {
		t.Fatalf("expected error for wrong dimension")
	}
}

func TestTrainerSelectsCandidateOnValidation(t *testing.T) {
	t.Parallel()

	train := syntheticSubset()
	validation := dataset.NewSubset(nil, [][]float32{{1, 0, 0.05}, {0, 0.05, 1}}, []int{0, 1}, 2)

	trainer := Trainer{Candidates: []int{1, 3}, NumClasses: 2}
	classifier, err := trainer.Fit(context.Background(), train, validation)
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if classifier.k != 1 {
		t.Fatalf("expected first perfect candidate k=1 to be kept, got %d", classifier.k)
	}

	model, err := Trainer{}.Train(context.Background(), train, dataset.Subset{})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	if model.(*Classifier).k != DefaultK {
		t.Fatalf("expected default k=%d, got %d", DefaultK, model.(*Classifier).k)
	}

	small := dataset.NewSubset(nil, [][]float32{{0}, {1}}, []int{0, 1}, 2)
	capped, err := Trainer{K: 9}.Fit(context.Background(), small, dataset.Subset{})
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if capped.k != 2 {
		t.Fatalf("k should be capped at the prototype count, got %d", capped.k)
	}
}

func TestFeatureScalerStandardizes(t *testing.T) {
	t.Parallel()

	scaler, err := NewFeatureScaler([][]float32{{1, 5}, {3, 5}})
	if err != nil {
		t.Fatalf("NewFeatureScaler returned error: %v", err)
	}
	scaled, err := scaler.Transform([]float32{3, 5})
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if math.Abs(scaled[0]-1) > 1e-9 || scaled[1] != 0 {
		t.Fatalf("unexpected scaled vector %v", scaled)
	}
	if _, err := scaler.Transform([]float32{1}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestCentroidClassifierMatchesDirection(t *testing.T) {
	t.Parallel()

	model, err := CentroidTrainer{}.Train(context.Background(), syntheticSubset(), dataset.Subset{})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	classifier := model.(*CentroidClassifier)
	if classifier.TemplateCount() != 2 {
		t.Fatalf("expected 2 templates, got %d", classifier.TemplateCount())
	}

	// Scaled copies point the same way as the label 1 centroid.
	label, err := classifier.Predict([]float32{0, 0, 10})
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected label 1, got %d", label)
	}

	scores, err := classifier.Scores([]float32{3, 0, 0})
	if err != nil {
		t.Fatalf("Scores returned error: %v", err)
	}
	if math.Abs(scores[0]+scores[1]-1) > 1e-9 || scores[0] <= scores[1] {
		t.Fatalf("unexpected scores %v", scores)
	}

	if _, err := classifier.Predict([]float32{1}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestCentroidClassifierSkipsEmptyLabels(t *testing.T) {
	t.Parallel()

	train := dataset.NewSubset(nil, [][]float32{{1, 0}, {0, 1}}, []int{0, 2}, 3)
	classifier, err := NewCentroidClassifier(train, 3)
	if err != nil {
		t.Fatalf("NewCentroidClassifier returned error: %v", err)
	}
	ranked, err := classifier.Rank([]float32{0, 1})
	if err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}
	if len(ranked) != 2 || ranked[0].Label != 2 {
		t.Fatalf("unexpected ranking %+v", ranked)
	}
	if _, err := NewCentroidClassifier(dataset.Subset{}, 2); err == nil {
		t.Fatalf("expected error for empty training subset")
	}
}
