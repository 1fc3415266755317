package models

import (
	"time"
)

// RunManifest describes a persisted dataset build.
type RunManifest struct {
	ID          string    `json:"id" bson:"_id"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	DataPath    string    `json:"dataPath" bson:"dataPath"`
	Classes     []int     `json:"classes" bson:"classes"`
	ClassNames  []string  `json:"classNames" bson:"classNames"`
	Grouping    string    `json:"grouping" bson:"grouping"`
	WindowMode  string    `json:"windowMode" bson:"windowMode"`
	WindowSize  int       `json:"windowSize" bson:"windowSize"`
	Layout      string    `json:"layout" bson:"layout"`
	Shape       []int     `json:"shape" bson:"shape"`
	Normalized  bool      `json:"normalized" bson:"normalized"`
	Scale       float32   `json:"scale" bson:"scale"`
	NumClasses  int       `json:"numClasses" bson:"numClasses"`
	Seed        uint64    `json:"seed" bson:"seed"`
	PerClass    int       `json:"perClass" bson:"perClass"`
	LabelCounts []int     `json:"labelCounts" bson:"labelCounts"`
	Train       int       `json:"train" bson:"train"`
	Validation  int       `json:"validation" bson:"validation"`
	Test        int       `json:"test" bson:"test"`
}

// BuildRequest overrides configuration fields for a single build. Zero
// values keep the configured setting.
type BuildRequest struct {
	DataPath   string    `json:"dataPath,omitempty"`
	Tags       []int     `json:"tags,omitempty"`
	WindowSize int       `json:"windowSize,omitempty"`
	Windows    string    `json:"windows,omitempty"`
	Filter     *bool     `json:"filter,omitempty"`
	Normalize  *bool     `json:"normalize,omitempty"`
	GroupBy    string    `json:"groupBy,omitempty"`
	Seed       *uint64   `json:"seed,omitempty"`
	Ratios     []float64 `json:"ratios,omitempty"` // train, validation, test
	Persist    bool      `json:"persist,omitempty"`
}

// DatasetSummary is the client-facing outcome of a build. PerClass is the
// shared per-label count and stays 0 when labels are unbalanced, as under chip
// grouping; LabelCounts always holds the per-label counts.
type DatasetSummary struct {
	RunID        string   `json:"runId,omitempty"`
	Classes      []int    `json:"classes"`
	ClassNames   []string `json:"classNames"`
	WindowCounts []int    `json:"windowCounts"`
	PerClass     int      `json:"perClass"`
	LabelCounts  []int    `json:"labelCounts"`
	Shape        []int    `json:"shape"`
	NumClasses   int      `json:"numClasses"`
	Train        int      `json:"train"`
	Validation   int      `json:"validation"`
	Test         int      `json:"test"`
	Scale        float32  `json:"scale"`
	Warnings     []string `json:"warnings,omitempty"`
	ElapsedMs    float64  `json:"elapsedMs"`
}

// BuildProgress is emitted while a build runs.
type BuildProgress struct {
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
}
