package knn

import (
	"errors"
	"math"
)

// FeatureScaler standardizes features across a training set using z-score
// normalization. Each feature dimension is transformed to have mean=0 and std=1.
type FeatureScaler struct {
	Mean   []float64 `json:"mean"`
	Stddev []float64 `json:"stddev"`
}

// NewFeatureScaler computes scaling parameters from training rows
func NewFeatureScaler(rows [][]float32) (*FeatureScaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows provided")
	}

	featureCount := len(rows[0])
	if featureCount == 0 {
		return nil, errors.New("rows have no features")
	}

	mean := make([]float64, featureCount)
	for _, row := range rows {
		if len(row) != featureCount {
			return nil, errors.New("inconsistent feature dimensions")
		}
		for i, val := range row {
			mean[i] += float64(val)
		}
	}
	for i := range mean {
		mean[i] /= float64(len(rows))
	}

	stddev := make([]float64, featureCount)
	for _, row := range rows {
		for i, val := range row {
			diff := float64(val) - mean[i]
			stddev[i] += diff * diff
		}
	}
	for i := range stddev {
		stddev[i] = math.Sqrt(stddev[i] / float64(len(rows)))
		// Constant features keep their offset only
		if stddev[i] < 1e-10 {
			stddev[i] = 1.0
		}
	}

	return &FeatureScaler{Mean: mean, Stddev: stddev}, nil
}

// Transform applies z-score standardization to a feature vector
func (fs *FeatureScaler) Transform(features []float32) ([]float64, error) {
	if len(features) != len(fs.Mean) {
		return nil, errors.New("feature dimension does not match scaler")
	}

	scaled := make([]float64, len(features))
	for i, val := range features {
		scaled[i] = (float64(val) - fs.Mean[i]) / fs.Stddev[i]
	}
	return scaled, nil
}

func toFloat64(features []float32) []float64 {
	out := make([]float64, len(features))
	for i, v := range features {
		out[i] = float64(v)
	}
	return out
}
