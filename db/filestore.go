package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"nfc-rfml/dataset"
	"nfc-rfml/models"
	"nfc-rfml/utils"
)

const (
	manifestFile  = "manifest.json"
	examplesFile  = "examples.json"
	stagingPrefix = ".staging-"
)

// FileStore keeps one directory per run under root. A run is written into a
// staging directory and renamed into place once complete.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

type exampleRecord struct {
	Partition string    `json:"partition"`
	Position  int       `json:"position"`
	Index     int       `json:"index"`
	Label     int       `json:"label"`
	Features  []float32 `json:"features"`
}

func NewFileStore(root string) (*FileStore, error) {
	if err := utils.CreateFolder(root); err != nil {
		return nil, fmt.Errorf("error creating artifact directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) SaveRun(ctx context.Context, manifest models.RunManifest, split *dataset.Split) (string, error) {
	if manifest.ID == "" {
		manifest.ID = NewRunID()
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}
	if strings.ContainsAny(manifest.ID, `/\`) || strings.HasPrefix(manifest.ID, ".") {
		return "", fmt.Errorf("invalid run id %q", manifest.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	final := filepath.Join(s.root, manifest.ID)
	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("run %s already exists", manifest.ID)
	}

	staging, err := os.MkdirTemp(s.root, stagingPrefix+manifest.ID+"-")
	if err != nil {
		return "", fmt.Errorf("error creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	records := make([]exampleRecord, 0, split.Train.Len()+split.Validation.Len()+split.Test.Len())
	for _, ex := range flatten(split) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		records = append(records, exampleRecord(ex))
	}

	if err := writeJSON(filepath.Join(staging, examplesFile), records); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(staging, manifestFile), manifest); err != nil {
		return "", err
	}

	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("error publishing run: %w", err)
	}
	return manifest.ID, nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readManifest(dir string) (models.RunManifest, error) {
	var m models.RunManifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("error unmarshaling manifest: %w", err)
	}
	return m, nil
}

func (s *FileStore) ListRuns(ctx context.Context) ([]models.RunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("error reading artifact directory: %w", err)
	}

	var runs []models.RunManifest
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		m, err := readManifest(filepath.Join(s.root, entry.Name()))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		runs = append(runs, m)
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	return runs, nil
}

// DeleteRun moves the run out of view with a rename, then removes it.
func (s *FileStore) DeleteRun(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := filepath.Base(id)
	if name == "." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	dir := filepath.Join(s.root, name)
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return err
	}

	trash := filepath.Join(s.root, stagingPrefix+"deleted-"+name)
	if err := os.RemoveAll(trash); err != nil {
		return err
	}
	if err := os.Rename(dir, trash); err != nil {
		return fmt.Errorf("error removing run: %w", err)
	}
	return os.RemoveAll(trash)
}

func (s *FileStore) LoadRun(ctx context.Context, id string) (models.RunManifest, *dataset.Split, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.root, filepath.Base(id))
	manifest, err := readManifest(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.RunManifest{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return models.RunManifest{}, nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, examplesFile))
	if err != nil {
		return models.RunManifest{}, nil, fmt.Errorf("error reading examples: %w", err)
	}
	var records []exampleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return models.RunManifest{}, nil, fmt.Errorf("error unmarshaling examples: %w", err)
	}

	examples := make([]example, len(records))
	for i, r := range records {
		examples[i] = example(r)
	}
	split, err := rebuild(manifest, examples)
	if err != nil {
		return models.RunManifest{}, nil, err
	}
	return manifest, split, nil
}
