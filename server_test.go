package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfc-rfml/capture"
	"nfc-rfml/config"
	"nfc-rfml/db"
	"nfc-rfml/models"
)

func writeCapture(t *testing.T, dir, name string, n int, value complex64) {
	t.Helper()
	samples := make([]complex64, n)
	for i := range samples {
		samples[i] = value + complex(float32(i%3)*0.01, 0)
	}
	var buf bytes.Buffer
	require.NoError(t, capture.Encode(&buf, samples))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

func newTestService(t *testing.T) (*datasetService, db.ArtifactStore) {
	t.Helper()
	dataDir := t.TempDir()
	writeCapture(t, dataDir, "tag1.nfc", 1024, 0.5)
	writeCapture(t, dataDir, "tag2.nfc", 1024, -0.5)

	store, err := db.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	base := config.Default()
	base.Data.DataPath = dataDir
	base.Data.Tags = []int{1, 2}
	return newDatasetService(base, store), store
}

type recordedEvent struct {
	name string
	args []interface{}
}

type fakeSocket struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeSocket) ID() string { return "test-socket" }

func (f *fakeSocket) Emit(event string, v ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{name: event, args: v})
}

func (f *fakeSocket) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.name
	}
	return out
}

func TestBuildHandlerPersistsRun(t *testing.T) {
	service, store := newTestService(t)
	handler := newHandler(nil, service)

	body := bytes.NewBufferString(`{"persist": true}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/datasets", body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary models.DatasetSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, []int{1, 2}, summary.Classes)
	assert.Equal(t, []int{4, 4}, summary.WindowCounts)
	assert.Equal(t, 4, summary.PerClass)
	assert.Equal(t, 8, summary.Train+summary.Validation+summary.Test)
	require.NotEmpty(t, summary.RunID)

	manifest, split, err := store.LoadRun(t.Context(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 256, 1}, manifest.Shape)
	assert.Equal(t, summary.Train, split.Train.Len())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.RunManifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
}

func TestRunsHandlerDeletesRun(t *testing.T) {
	service, store := newTestService(t)
	handler := newHandler(nil, service)

	summary, err := service.build(t.Context(), models.BuildRequest{Persist: true}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/runs?id="+summary.RunID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	runs, err := store.ListRuns(t.Context())
	require.NoError(t, err)
	assert.Empty(t, runs)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/runs?id="+summary.RunID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/runs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildHandlerRejectsBadRequests(t *testing.T) {
	service, _ := newTestService(t)
	handler := newHandler(nil, service)

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"tags":`, http.StatusBadRequest},
		{"bad ratios", `{"ratios": [0.5, 0.5]}`, http.StatusBadRequest},
		{"bad window size", `{"windowSize": -4}`, http.StatusBadRequest},
		{"missing class", `{"tags": [1, 9]}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/datasets", bytes.NewBufferString(tc.body)))
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/datasets", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/runs", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBuildWithoutPersistStoresNothing(t *testing.T) {
	service, store := newTestService(t)

	summary, err := service.build(t.Context(), models.BuildRequest{Tags: []int{2}}, nil)
	require.NoError(t, err)
	assert.Empty(t, summary.RunID)
	assert.Equal(t, []int{2}, summary.Classes)

	runs, err := store.ListRuns(t.Context())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestEmptyDatasetIsNotPersisted(t *testing.T) {
	service, store := newTestService(t)

	// Windows larger than any capture leave every class empty.
	summary, err := service.build(t.Context(), models.BuildRequest{WindowSize: 4096, Persist: true}, nil)
	require.NoError(t, err)
	assert.Empty(t, summary.RunID)
	assert.NotEmpty(t, summary.Warnings)

	runs, err := store.ListRuns(t.Context())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSocketBuildEmitsProgressThenResult(t *testing.T) {
	service, _ := newTestService(t)
	controller := newSocketController(service)
	socket := &fakeSocket{}

	controller.handleBuildDataset(socket, `{"persist": true}`)

	names := socket.names()
	require.NotEmpty(t, names)
	assert.Equal(t, "datasetBuilt", names[len(names)-1])
	assert.Contains(t, names, "buildProgress")

	last := socket.events[len(socket.events)-1]
	summary, ok := last.args[0].(models.DatasetSummary)
	require.True(t, ok)
	assert.NotEmpty(t, summary.RunID)

	controller.emitRuns(socket)
	names = socket.names()
	assert.Equal(t, "runs", names[len(names)-1])
}

func TestSocketBuildReportsErrors(t *testing.T) {
	service, _ := newTestService(t)
	controller := newSocketController(service)

	socket := &fakeSocket{}
	controller.handleBuildDataset(socket, "not json")
	assert.Equal(t, []string{"buildError"}, socket.names())

	socket = &fakeSocket{}
	controller.handleBuildDataset(socket, `{"tags": [7]}`)
	names := socket.names()
	require.NotEmpty(t, names)
	assert.Equal(t, "buildError", names[len(names)-1])
}

func TestSocketDeleteRun(t *testing.T) {
	service, store := newTestService(t)
	controller := newSocketController(service)

	summary, err := service.build(t.Context(), models.BuildRequest{Persist: true}, nil)
	require.NoError(t, err)

	socket := &fakeSocket{}
	controller.handleDeleteRun(socket, summary.RunID)
	assert.Equal(t, []string{"runDeleted", "runs"}, socket.names())

	runs, err := store.ListRuns(t.Context())
	require.NoError(t, err)
	assert.Empty(t, runs)

	socket = &fakeSocket{}
	controller.handleDeleteRun(socket, summary.RunID)
	assert.Equal(t, []string{"runsError"}, socket.names())
}
