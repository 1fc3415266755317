package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nfc-rfml/dataset"
	"nfc-rfml/models"
	"nfc-rfml/utils"
)

// ErrRunNotFound is returned by LoadRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Partition names used for persisted examples.
const (
	PartitionTrain      = "train"
	PartitionValidation = "validation"
	PartitionTest       = "test"
)

// ArtifactStore persists dataset builds. A run is either stored completely
// or not at all: readers never observe a run with missing examples.
type ArtifactStore interface {
	// SaveRun stores split under manifest and returns the run id. A new id
	// is assigned when manifest.ID is empty.
	SaveRun(ctx context.Context, manifest models.RunManifest, split *dataset.Split) (string, error)
	// ListRuns returns every stored manifest, newest first.
	ListRuns(ctx context.Context) ([]models.RunManifest, error)
	LoadRun(ctx context.Context, id string) (models.RunManifest, *dataset.Split, error)
	// DeleteRun removes a run and its examples. Unknown ids return
	// ErrRunNotFound.
	DeleteRun(ctx context.Context, id string) error
	Close() error
}

// NewArtifactStore opens the store selected by DB_TYPE: "sqlite" (default),
// "mongo" or "json".
func NewArtifactStore() (ArtifactStore, error) {
	dbType := strings.ToLower(utils.GetEnv("DB_TYPE", "sqlite"))

	switch dbType {
	case "sqlite":
		return NewSQLiteClient(utils.GetEnv("DB_PATH", "db/rfml.sqlite3"))
	case "mongo", "mongodb":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return NewMongoClient(ctx, utils.GetEnv("MONGODB_URI", "mongodb://localhost:27017"), utils.GetEnv("DB_NAME", "rfml"))
	case "json", "file":
		return NewFileStore(utils.GetEnv("ARTIFACT_DIR", "artifacts"))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// NewRunID returns a sortable, practically unique run identifier.
func NewRunID() string {
	return fmt.Sprintf("%s-%08x", time.Now().UTC().Format("20060102T150405"), utils.GenerateUniqueID())
}

// example is one persisted dataset example.
type example struct {
	Partition string
	Position  int
	Index     int
	Label     int
	Features  []float32
}

// flatten lists every example of split in partition order.
func flatten(split *dataset.Split) []example {
	var out []example
	for _, named := range split.Subsets() {
		for i, idx := range named.Indices {
			out = append(out, example{
				Partition: named.Name,
				Position:  i,
				Index:     idx,
				Label:     named.Labels[i],
				Features:  named.Features[i],
			})
		}
	}
	return out
}

// rebuild reassembles a split from stored examples. Examples must be ordered
// by position within each partition.
func rebuild(manifest models.RunManifest, examples []example) (*dataset.Split, error) {
	type columns struct {
		indices  []int
		features [][]float32
		labels   []int
	}
	parts := map[string]*columns{
		PartitionTrain:      {},
		PartitionValidation: {},
		PartitionTest:       {},
	}
	for _, ex := range examples {
		part, ok := parts[ex.Partition]
		if !ok {
			return nil, fmt.Errorf("run %s: unknown partition %q", manifest.ID, ex.Partition)
		}
		part.indices = append(part.indices, ex.Index)
		part.features = append(part.features, ex.Features)
		part.labels = append(part.labels, ex.Label)
	}

	k := manifest.NumClasses
	subset := func(name string) dataset.Subset {
		p := parts[name]
		return dataset.NewSubset(p.indices, p.features, p.labels, k)
	}
	return &dataset.Split{
		Train:      subset(PartitionTrain),
		Validation: subset(PartitionValidation),
		Test:       subset(PartitionTest),
		NumClasses: k,
		Shape:      append([]int(nil), manifest.Shape...),
	}, nil
}
