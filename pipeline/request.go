package pipeline

import (
	"nfc-rfml/config"
	"nfc-rfml/models"
)

// ApplyRequest returns a copy of base with the fields set in req applied.
func ApplyRequest(base config.Config, req models.BuildRequest) (config.Config, error) {
	cfg := base
	if req.DataPath != "" {
		cfg.Data.DataPath = req.DataPath
	}
	if len(req.Tags) > 0 {
		cfg.Data.Tags = append([]int(nil), req.Tags...)
	}
	if req.WindowSize != 0 {
		cfg.Data.WindowSize = req.WindowSize
	}
	if req.Windows != "" {
		cfg.Data.Windows = req.Windows
	}
	if req.Filter != nil {
		cfg.Data.Filter = *req.Filter
	}
	if req.Normalize != nil {
		cfg.Data.Normalize = *req.Normalize
	}
	if req.GroupBy != "" {
		cfg.Data.GroupBy = req.GroupBy
	}
	if req.Seed != nil {
		cfg.Split.Seed = *req.Seed
	}
	if req.Ratios != nil {
		if len(req.Ratios) != 3 {
			return base, &config.ConfigurationError{Field: "split", Reason: "ratios must be [train, validation, test]"}
		}
		cfg.Split.Train = req.Ratios[0]
		cfg.Split.Validation = req.Ratios[1]
		cfg.Split.Test = req.Ratios[2]
	}
	return cfg, nil
}
