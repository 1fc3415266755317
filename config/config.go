package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"

	"nfc-rfml/capture"
	"nfc-rfml/formatting"
	"nfc-rfml/windowing"
)

// EnvPrefix prefixes environment overrides, e.g. RFML_DATA_WINDOWSIZE.
const EnvPrefix = "RFML"

// RatioTolerance is the allowed deviation of the split ratios' sum from 1.
const RatioTolerance = 1e-6

// ConfigurationError reports an invalid configuration value. It is always
// raised before any capture file is read.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DataConfig mirrors the "data" section of an experiment file. WindowMode,
// when set, names the windowing mode explicitly and overrides Filter.
type DataConfig struct {
	DataPath      string  `mapstructure:"datapath" json:"datapath"`
	Tags          []int   `mapstructure:"tags" json:"tags"`
	FilePrefix    string  `mapstructure:"fileprefix" json:"fileprefix"`
	Extension     string  `mapstructure:"extension" json:"extension"`
	WindowSize    int     `mapstructure:"windowsize" json:"windowsize"`
	Windows       string  `mapstructure:"windows" json:"windows"`
	Filter        bool    `mapstructure:"filter" json:"filter"`
	WindowMode    string  `mapstructure:"windowmode" json:"windowmode"`
	PeakHeight    float64 `mapstructure:"peakheight" json:"peakheight"`
	PeakThreshold float64 `mapstructure:"peakthreshold" json:"peakthreshold"`
	PeakPolicy    string  `mapstructure:"peakpolicy" json:"peakpolicy"`
	NoiseFactor   float64 `mapstructure:"noisefactor" json:"noisefactor"`
	Normalize     bool    `mapstructure:"normalize" json:"normalize"`
	GroupBy       string  `mapstructure:"groupby" json:"groupby"`
	Parallelism   int     `mapstructure:"parallelism" json:"parallelism"`
}

// SplitConfig mirrors the "split" section of an experiment file.
type SplitConfig struct {
	Train      float64 `mapstructure:"train" json:"train"`
	Validation float64 `mapstructure:"validation" json:"validation"`
	Test       float64 `mapstructure:"test" json:"test"`
	Seed       uint64  `mapstructure:"seed" json:"seed"`
}

// Config is the full configuration surface of a dataset build.
type Config struct {
	Data  DataConfig  `mapstructure:"data" json:"data"`
	Split SplitConfig `mapstructure:"split" json:"split"`
}

// Default returns the stock experiment configuration.
func Default() Config {
	naming := capture.DefaultNaming()
	peaks := windowing.DefaultPeakParams()
	return Config{
		Data: DataConfig{
			DataPath:      "data",
			FilePrefix:    naming.Prefix,
			Extension:     naming.Extension,
			WindowSize:    256,
			Windows:       formatting.Planar.String(),
			PeakHeight:    peaks.Height,
			PeakThreshold: peaks.Threshold,
			PeakPolicy:    peaks.Policy.String(),
			NoiseFactor:   peaks.NoiseFactor,
			Parallelism:   4,
		},
		Split: SplitConfig{Train: 0.7, Validation: 0.2, Test: 0.1, Seed: 42},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("data.datapath", d.Data.DataPath)
	v.SetDefault("data.fileprefix", d.Data.FilePrefix)
	v.SetDefault("data.extension", d.Data.Extension)
	v.SetDefault("data.windowsize", d.Data.WindowSize)
	v.SetDefault("data.windows", d.Data.Windows)
	v.SetDefault("data.filter", d.Data.Filter)
	v.SetDefault("data.windowmode", d.Data.WindowMode)
	v.SetDefault("data.peakheight", d.Data.PeakHeight)
	v.SetDefault("data.peakthreshold", d.Data.PeakThreshold)
	v.SetDefault("data.peakpolicy", d.Data.PeakPolicy)
	v.SetDefault("data.noisefactor", d.Data.NoiseFactor)
	v.SetDefault("data.normalize", d.Data.Normalize)
	v.SetDefault("data.groupby", d.Data.GroupBy)
	v.SetDefault("data.parallelism", d.Data.Parallelism)
	v.SetDefault("split.train", d.Split.Train)
	v.SetDefault("split.validation", d.Split.Validation)
	v.SetDefault("split.test", d.Split.Test)
	v.SetDefault("split.seed", d.Split.Seed)
}

// Load reads an experiment file (JSON, YAML or TOML, by extension) and
// applies RFML_* environment overrides. An empty path loads defaults and
// environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("data.tags"); err != nil {
		return Config{}, fmt.Errorf("bind data.tags: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyLegacyKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// applyLegacyKeys honours the alternative key names found in older
// experiment files: "classes" for "tags", "filterpeaks"/"eventmode" for
// "filter".
func applyLegacyKeys(v *viper.Viper) {
	if v.Get("data.tags") == nil {
		if classes := v.Get("data.classes"); classes != nil {
			v.Set("data.tags", classes)
		}
	}
	if v.GetBool("data.filterpeaks") || v.GetBool("data.eventmode") {
		v.Set("data.filter", true)
	}
}

// Ratios are the train/validation/test proportions of a split.
type Ratios struct {
	Train      float64
	Validation float64
	Test       float64
}

// Validate checks that every ratio is within [0, 1], that some data goes to
// training and that the ratios sum to 1.
func (r Ratios) Validate() error {
	for _, item := range []struct {
		field string
		value float64
	}{
		{"split.train", r.Train},
		{"split.validation", r.Validation},
		{"split.test", r.Test},
	} {
		if math.IsNaN(item.value) || item.value < 0 || item.value > 1 {
			return invalid(item.field, "ratio %v outside [0, 1]", item.value)
		}
	}
	if r.Train == 0 {
		return invalid("split.train", "training ratio must be positive")
	}
	if sum := r.Train + r.Validation + r.Test; math.Abs(sum-1) > RatioTolerance {
		return invalid("split", "ratios sum to %v, expected 1", sum)
	}
	return nil
}

// Grouping selects an optional coarsening of tag labels.
type Grouping int

const (
	// ByTag keeps one label per requested tag.
	ByTag Grouping = iota
	// ByChip maps tags onto their chip family (NTAG213, MIFARE, FELICA).
	ByChip
)

// ParseGrouping resolves a configuration value. Empty means by tag.
func ParseGrouping(value string) (Grouping, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "tag":
		return ByTag, nil
	case "chip", "chiptype":
		return ByChip, nil
	default:
		return 0, fmt.Errorf("unknown grouping %q", value)
	}
}

// Resolved is a validated configuration with every enumerated option turned
// into its typed value.
type Resolved struct {
	Source      Config
	DataPath    string
	Classes     []int
	Naming      capture.NamingOptions
	Engine      *windowing.Engine
	Formatter   formatting.Formatter
	Normalize   bool
	Grouping    Grouping
	Ratios      Ratios
	Seed        uint64
	Parallelism int
}

// Resolve validates c and resolves it. Every failure is a
// *ConfigurationError.
func (c Config) Resolve() (*Resolved, error) {
	d := c.Data

	if strings.TrimSpace(d.DataPath) == "" {
		return nil, invalid("data.datapath", "must not be empty")
	}
	if len(d.Tags) == 0 {
		return nil, invalid("data.tags", "at least one class is required")
	}
	seen := make(map[int]bool, len(d.Tags))
	for _, tag := range d.Tags {
		if tag < 0 {
			return nil, invalid("data.tags", "class %d is negative", tag)
		}
		if seen[tag] {
			return nil, invalid("data.tags", "class %d requested twice", tag)
		}
		seen[tag] = true
	}
	if d.WindowSize <= 0 {
		return nil, invalid("data.windowsize", "must be positive, got %d", d.WindowSize)
	}
	if d.Extension == "" {
		return nil, invalid("data.extension", "must not be empty")
	}

	layout, err := formatting.ParseLayout(d.Windows)
	if err != nil {
		return nil, invalid("data.windows", "%v", err)
	}
	formatter, err := formatting.New(layout)
	if err != nil {
		return nil, invalid("data.windows", "%v", err)
	}

	mode := windowing.FixedStride
	if d.Filter {
		mode = windowing.EventTriggered
	}
	if strings.TrimSpace(d.WindowMode) != "" {
		mode, err = windowing.ParseMode(d.WindowMode)
		if err != nil {
			return nil, invalid("data.windowmode", "%v", err)
		}
	}
	policy, err := windowing.ParseThresholdPolicy(d.PeakPolicy)
	if err != nil {
		return nil, invalid("data.peakpolicy", "%v", err)
	}
	if mode == windowing.EventTriggered {
		if math.IsNaN(d.PeakHeight) || d.PeakHeight < 0 {
			return nil, invalid("data.peakheight", "must be a non-negative magnitude, got %v", d.PeakHeight)
		}
		if math.IsNaN(d.PeakThreshold) || d.PeakThreshold < 0 {
			return nil, invalid("data.peakthreshold", "must be non-negative, got %v", d.PeakThreshold)
		}
		if policy == windowing.NoiseFloor && (math.IsNaN(d.NoiseFactor) || d.NoiseFactor < 0) {
			return nil, invalid("data.noisefactor", "must be non-negative, got %v", d.NoiseFactor)
		}
	}
	engine, err := windowing.NewEngine(mode, d.WindowSize, windowing.PeakParams{
		Height:      d.PeakHeight,
		Threshold:   d.PeakThreshold,
		Policy:      policy,
		NoiseFactor: d.NoiseFactor,
	})
	if err != nil {
		return nil, invalid("data.windowsize", "%v", err)
	}

	grouping, err := ParseGrouping(d.GroupBy)
	if err != nil {
		return nil, invalid("data.groupby", "%v", err)
	}

	ratios := Ratios{Train: c.Split.Train, Validation: c.Split.Validation, Test: c.Split.Test}
	if err := ratios.Validate(); err != nil {
		return nil, err
	}

	parallelism := d.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	classes := make([]int, len(d.Tags))
	copy(classes, d.Tags)

	return &Resolved{
		Source:      c,
		DataPath:    d.DataPath,
		Classes:     classes,
		Naming:      capture.NamingOptions{Prefix: d.FilePrefix, Extension: d.Extension},
		Engine:      engine,
		Formatter:   formatter,
		Normalize:   d.Normalize,
		Grouping:    grouping,
		Ratios:      ratios,
		Seed:        c.Split.Seed,
		Parallelism: parallelism,
	}, nil
}
