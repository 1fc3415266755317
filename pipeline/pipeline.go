package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mdobak/go-xerrors"
	"golang.org/x/sync/errgroup"

	"nfc-rfml/capture"
	"nfc-rfml/config"
	"nfc-rfml/dataset"
	"nfc-rfml/formatting"
	"nfc-rfml/models"
	"nfc-rfml/utils"
)

// Progress stages reported through WithProgress.
const (
	StageDiscover  = "discover"
	StageLoad      = "load"
	StageWindow    = "window"
	StageAssemble  = "assemble"
	StageNormalize = "normalize"
	StageSplit     = "split"
	StageDone      = "done"
)

// Result is the outcome of a dataset build.
type Result struct {
	Config  *config.Resolved
	Dataset *dataset.Dataset
	Split   *dataset.Split
	// WindowCounts holds the number of windows each class produced before
	// balancing, in request order.
	WindowCounts []int
	// Scale is the normalisation divisor, 1 when normalisation is off.
	Scale float32
	// Warnings collects non-fatal conditions such as *dataset.ShapeInconsistency.
	Warnings []error
	Elapsed  time.Duration
}

// Empty reports whether the build produced no example.
func (r *Result) Empty() bool {
	return r.Dataset == nil || r.Dataset.Len() == 0
}

// Option customises a Build.
type Option func(*buildOptions)

type buildOptions struct {
	progress func(models.BuildProgress)
}

// WithProgress registers fn to be called as the build moves through its
// stages. fn is called from the building goroutine.
func WithProgress(fn func(models.BuildProgress)) Option {
	return func(o *buildOptions) {
		o.progress = fn
	}
}

// Build turns the captures described by cfg into a split dataset:
// discovery, loading, windowing and formatting per class, assembly and
// balancing, optional chip coarsening and normalisation, then the split.
//
// Discovery and read failures abort the build. A class without windows is
// reported in Result.Warnings and yields an empty dataset.
//
// Peak memory is the raw samples of every requested class plus their
// formatted windows. Raw samples are released once a class is formatted.
func Build(ctx context.Context, cfg *config.Resolved, opts ...Option) (*Result, error) {
	logger := utils.GetLogger()
	started := time.Now()

	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	report := func(stage, format string, args ...any) {
		if o.progress != nil {
			o.progress(models.BuildProgress{Stage: stage, Message: fmt.Sprintf(format, args...)})
		}
	}

	report(StageDiscover, "scanning %s for %d classes", cfg.DataPath, len(cfg.Classes))
	groups, err := capture.Discover(cfg.DataPath, cfg.Classes, cfg.Naming)
	if err != nil {
		return nil, err
	}

	report(StageLoad, "reading %d capture groups", len(groups))
	sequences, err := capture.LoadAll(ctx, groups, cfg.Parallelism)
	if err != nil {
		return nil, fmt.Errorf("load captures: %w", err)
	}
	for _, seq := range sequences {
		logger.DebugContext(ctx, "loaded capture sequence",
			slog.Int("class", seq.Class),
			slog.Int("files", len(seq.Files)),
			slog.Int("samples", len(seq.Samples)),
		)
	}

	report(StageWindow, "%s windows of %d samples", cfg.Engine.Mode, cfg.Engine.WindowSize)
	perClass, counts, err := windowAll(ctx, cfg, sequences)
	if err != nil {
		return nil, err
	}

	result := &Result{Config: cfg, WindowCounts: counts, Scale: 1}

	report(StageAssemble, "balancing %v windows per class", counts)
	ds, err := dataset.Assemble(perClass, cfg.Classes, cfg.Formatter.Shape(cfg.Engine.WindowSize))
	var shapeErr *dataset.ShapeInconsistency
	switch {
	case errors.As(err, &shapeErr):
		logger.WarnContext(ctx, "dataset is empty after balancing",
			slog.Any("emptyClasses", shapeErr.EmptyClasses()),
			slog.Any("windowCounts", counts),
		)
		result.Warnings = append(result.Warnings, shapeErr)
	case err != nil:
		return nil, fmt.Errorf("assemble dataset: %w", err)
	}

	if cfg.Grouping == config.ByChip {
		mapping, names, err := dataset.ChipMapping(ds.Classes)
		if err != nil {
			return nil, fmt.Errorf("group by chip: %w", err)
		}
		if ds, err = dataset.Coarsen(ds, mapping, names); err != nil {
			return nil, fmt.Errorf("group by chip: %w", err)
		}
	}

	if cfg.Normalize {
		report(StageNormalize, "scaling by dataset max magnitude")
		scale, err := dataset.Normalize(ds)
		if err != nil {
			return nil, fmt.Errorf("normalize: %w", err)
		}
		result.Scale = scale
	}

	report(StageSplit, "splitting %d examples", ds.Len())
	split, err := dataset.SplitDataset(ds, cfg.Ratios, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}

	result.Dataset = ds
	result.Split = split
	result.Elapsed = time.Since(started)

	train, validation, test := split.Sizes()
	logger.InfoContext(ctx, "dataset built",
		slog.Any("classes", cfg.Classes),
		slog.Any("windowCounts", counts),
		slog.Int("examples", ds.Len()),
		slog.Int("train", train),
		slog.Int("validation", validation),
		slog.Int("test", test),
		slog.Any("shape", split.Shape),
		slog.Duration("elapsed", result.Elapsed),
	)
	report(StageDone, "%d examples", ds.Len())
	return result, nil
}

// windowAll windows and formats every sequence concurrently, keeping request
// order in the returned slices.
func windowAll(ctx context.Context, cfg *config.Resolved, sequences []capture.Sequence) ([][][]float32, []int, error) {
	perClass := make([][][]float32, len(sequences))
	counts := make([]int, len(sequences))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	for i := range sequences {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			windows, err := cfg.Engine.Windows(sequences[i].Samples)
			if err != nil {
				return fmt.Errorf("window class %d: %w", sequences[i].Class, err)
			}
			perClass[i] = formatting.FormatAll(cfg.Formatter, windows)
			counts[i] = len(windows)
			sequences[i].Samples = nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return perClass, counts, nil
}

// Summary condenses r for clients and CLI output.
func Summary(r *Result) models.DatasetSummary {
	s := models.DatasetSummary{
		WindowCounts: r.WindowCounts,
		Scale:        r.Scale,
		ElapsedMs:    float64(r.Elapsed.Microseconds()) / 1000,
	}
	if r.Config != nil {
		s.Classes = r.Config.Classes
	}
	if r.Dataset != nil {
		s.ClassNames = r.Dataset.ClassNames
		s.LabelCounts = dataset.CountsByLabel(r.Dataset)
		if dataset.Balanced(s.LabelCounts) {
			s.PerClass = s.LabelCounts[0]
		}
	}
	if r.Split != nil {
		s.Shape = r.Split.Shape
		s.NumClasses = r.Split.NumClasses
		s.Train, s.Validation, s.Test = r.Split.Sizes()
	}
	for _, w := range r.Warnings {
		s.Warnings = append(s.Warnings, w.Error())
	}
	return s
}

// Manifest describes r for persistence under id.
func Manifest(r *Result, id string) models.RunManifest {
	s := Summary(r)
	m := models.RunManifest{
		ID:          id,
		CreatedAt:   time.Now().UTC(),
		Classes:     s.Classes,
		ClassNames:  s.ClassNames,
		Shape:       s.Shape,
		Scale:       r.Scale,
		NumClasses:  s.NumClasses,
		PerClass:    s.PerClass,
		LabelCounts: s.LabelCounts,
		Train:       s.Train,
		Validation:  s.Validation,
		Test:        s.Test,
	}
	if cfg := r.Config; cfg != nil {
		m.DataPath = cfg.DataPath
		m.Grouping = cfg.Source.Data.GroupBy
		m.WindowMode = cfg.Engine.Mode.String()
		m.WindowSize = cfg.Engine.WindowSize
		m.Layout = cfg.Formatter.Layout().String()
		m.Normalized = cfg.Normalize
		m.Seed = cfg.Seed
	}
	return m
}

// LogError logs err with its stack trace attached.
func LogError(ctx context.Context, msg string, err error) {
	utils.GetLogger().ErrorContext(ctx, msg, slog.Any("error", xerrors.New(err)))
}
