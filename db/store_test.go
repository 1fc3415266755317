package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"nfc-rfml/config"
	"nfc-rfml/dataset"
	"nfc-rfml/models"
)

func sampleSplit(t *testing.T) *dataset.Split {
	t.Helper()
	perClass := make([][][]float32, 3)
	for c := range perClass {
		for i := range 5 {
			perClass[c] = append(perClass[c], []float32{float32(c), float32(i), -0.5, 1e-3})
		}
	}
	ds, err := dataset.Assemble(perClass, []int{1, 6, 9}, []int{2, 2})
	require.NoError(t, err)
	split, err := dataset.SplitDataset(ds, config.Ratios{Train: 0.6, Validation: 0.2, Test: 0.2}, 11)
	require.NoError(t, err)
	return split
}

func sampleManifest(id string, created time.Time) models.RunManifest {
	return models.RunManifest{
		ID:         id,
		CreatedAt:  created,
		DataPath:   "captures",
		Classes:    []int{1, 6, 9},
		ClassNames: []string{"tag1", "tag6", "tag9"},
		WindowMode: "fixed",
		WindowSize: 2,
		Layout:     "planar",
		Shape:      []int{2, 2, 1},
		NumClasses: 3,
		Seed:       11,
		PerClass:   5,
		Train:      9,
		Validation: 3,
		Test:       3,
	}
}

// StoreSuite runs the same contract against every local backend.
type StoreSuite struct {
	suite.Suite
	open  func(t *testing.T) ArtifactStore
	store ArtifactStore
}

func (s *StoreSuite) SetupTest() {
	s.store = s.open(s.T())
}

func (s *StoreSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *StoreSuite) TestSaveAndLoadRoundTrip() {
	ctx := context.Background()
	split := sampleSplit(s.T())

	id, err := s.store.SaveRun(ctx, sampleManifest("run-a", time.Now().UTC()), split)
	s.Require().NoError(err)
	s.Equal("run-a", id)

	manifest, loaded, err := s.store.LoadRun(ctx, id)
	s.Require().NoError(err)
	s.Equal([]int{1, 6, 9}, manifest.Classes)
	s.Equal(split.Shape, loaded.Shape)
	s.Equal(split.NumClasses, loaded.NumClasses)

	for _, pair := range []struct{ want, got dataset.Subset }{
		{split.Train, loaded.Train},
		{split.Validation, loaded.Validation},
		{split.Test, loaded.Test},
	} {
		s.Equal(pair.want.Indices, pair.got.Indices)
		s.Equal(pair.want.Labels, pair.got.Labels)
		s.Equal(pair.want.Features, pair.got.Features)
		s.Equal(pair.want.OneHot, pair.got.OneHot)
	}
}

func (s *StoreSuite) TestListRunsNewestFirst() {
	ctx := context.Background()
	split := sampleSplit(s.T())
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.store.SaveRun(ctx, sampleManifest("older", base), split)
	s.Require().NoError(err)
	_, err = s.store.SaveRun(ctx, sampleManifest("newer", base.Add(time.Hour)), split)
	s.Require().NoError(err)

	runs, err := s.store.ListRuns(ctx)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Equal("newer", runs[0].ID)
	s.Equal("older", runs[1].ID)
}

func (s *StoreSuite) TestAssignsRunID() {
	id, err := s.store.SaveRun(context.Background(), sampleManifest("", time.Time{}), sampleSplit(s.T()))
	s.Require().NoError(err)
	s.NotEmpty(id)

	manifest, _, err := s.store.LoadRun(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(id, manifest.ID)
	s.False(manifest.CreatedAt.IsZero())
}

func (s *StoreSuite) TestDuplicateRunRejected() {
	ctx := context.Background()
	split := sampleSplit(s.T())
	_, err := s.store.SaveRun(ctx, sampleManifest("dup", time.Now().UTC()), split)
	s.Require().NoError(err)
	_, err = s.store.SaveRun(ctx, sampleManifest("dup", time.Now().UTC()), split)
	s.Error(err)

	runs, err := s.store.ListRuns(ctx)
	s.Require().NoError(err)
	s.Len(runs, 1)
}

func (s *StoreSuite) TestDeleteRun() {
	ctx := context.Background()
	split := sampleSplit(s.T())
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.store.SaveRun(ctx, sampleManifest("keep", base), split)
	s.Require().NoError(err)
	_, err = s.store.SaveRun(ctx, sampleManifest("drop", base.Add(time.Hour)), split)
	s.Require().NoError(err)

	s.Require().NoError(s.store.DeleteRun(ctx, "drop"))

	runs, err := s.store.ListRuns(ctx)
	s.Require().NoError(err)
	s.Require().Len(runs, 1)
	s.Equal("keep", runs[0].ID)

	_, _, err = s.store.LoadRun(ctx, "drop")
	s.ErrorIs(err, ErrRunNotFound)
	s.ErrorIs(s.store.DeleteRun(ctx, "drop"), ErrRunNotFound)

	// The remaining run keeps all of its examples.
	_, loaded, err := s.store.LoadRun(ctx, "keep")
	s.Require().NoError(err)
	s.Equal(split.Train.Len(), loaded.Train.Len())
}

func (s *StoreSuite) TestLoadUnknownRun() {
	_, _, err := s.store.LoadRun(context.Background(), "missing")
	s.ErrorIs(err, ErrRunNotFound)
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) ArtifactStore {
		store, err := NewSQLiteClient(filepath.Join(t.TempDir(), "db", "runs.sqlite3"))
		require.NoError(t, err)
		return store
	}})
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) ArtifactStore {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
		require.NoError(t, err)
		return store
	}})
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	suite.Run(t, &StoreSuite{open: func(t *testing.T) ArtifactStore {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := NewMongoClient(ctx, uri, "rfml_test_"+NewRunID())
		require.NoError(t, err)
		t.Cleanup(func() {
			store.db.Drop(context.Background())
		})
		return store
	}})
}

func TestFileStoreIgnoresStagingDirectories(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, stagingPrefix+"partial"), 0o755))

	runs, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFeatureCodec(t *testing.T) {
	values := []float32{0, -1.5, 3.25, 1e-7}
	blob := EncodeFeatures(values)
	assert.Len(t, blob, 16)

	got, err := DecodeFeatures(blob)
	require.NoError(t, err)
	assert.Equal(t, values, got)

	_, err = DecodeFeatures([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewArtifactStoreSelectsBackend(t *testing.T) {
	t.Setenv("DB_TYPE", "json")
	t.Setenv("ARTIFACT_DIR", filepath.Join(t.TempDir(), "runs"))
	store, err := NewArtifactStore()
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	t.Setenv("DB_TYPE", "cassandra")
	_, err = NewArtifactStore()
	assert.Error(t, err)
}
