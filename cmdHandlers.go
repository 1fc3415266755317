package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nfc-rfml/capture"
	"nfc-rfml/config"
	"nfc-rfml/db"
	"nfc-rfml/models"
	"nfc-rfml/pipeline"
	"nfc-rfml/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
)

type apiError struct {
	Message string `json:"message"`
}

// maxRequestBytes bounds a build request body.
const maxRequestBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
}

// datasetService runs builds for the HTTP and socket front ends. Builds are
// serialised: each one can hold every requested capture in memory.
type datasetService struct {
	base  config.Config
	store db.ArtifactStore
	mu    sync.Mutex
}

func newDatasetService(base config.Config, store db.ArtifactStore) *datasetService {
	return &datasetService{base: base, store: store}
}

// build applies req to the base configuration, builds the dataset and, when
// asked, persists it. An empty dataset is never persisted.
func (s *datasetService) build(ctx context.Context, req models.BuildRequest, progress func(models.BuildProgress)) (models.DatasetSummary, error) {
	cfg, err := pipeline.ApplyRequest(s.base, req)
	if err != nil {
		return models.DatasetSummary{}, err
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		return models.DatasetSummary{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var opts []pipeline.Option
	if progress != nil {
		opts = append(opts, pipeline.WithProgress(progress))
	}
	result, err := pipeline.Build(ctx, resolved, opts...)
	if err != nil {
		return models.DatasetSummary{}, err
	}

	summary := pipeline.Summary(result)
	if !req.Persist {
		return summary, nil
	}
	if result.Empty() {
		summary.Warnings = append(summary.Warnings, "empty dataset was not persisted")
		return summary, nil
	}
	if s.store == nil {
		return summary, errors.New("no artifact store configured")
	}
	id, err := s.store.SaveRun(ctx, pipeline.Manifest(result, db.NewRunID()), result.Split)
	if err != nil {
		return summary, err
	}
	summary.RunID = id
	return summary, nil
}

func (s *datasetService) runs(ctx context.Context) ([]models.RunManifest, error) {
	if s.store == nil {
		return []models.RunManifest{}, nil
	}
	runs, err := s.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []models.RunManifest{}
	}
	return runs, nil
}

func (s *datasetService) deleteRun(ctx context.Context, id string) error {
	if s.store == nil {
		return errors.New("no artifact store configured")
	}
	return s.store.DeleteRun(ctx, id)
}

// buildStatus maps a build failure onto an HTTP status.
func buildStatus(err error) int {
	var configErr *config.ConfigurationError
	var discoveryErr *capture.DiscoveryError
	switch {
	case errors.As(err, &configErr):
		return http.StatusBadRequest
	case errors.As(err, &discoveryErr):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newRunsHandler(service *datasetService) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		setCORSHeaders(w, "GET, DELETE, OPTIONS")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodDelete:
			id := strings.TrimSpace(r.URL.Query().Get("id"))
			if id == "" {
				writeJSONError(w, http.StatusBadRequest, "missing run id")
				return
			}
			err := service.deleteRun(ctx, id)
			switch {
			case errors.Is(err, db.ErrRunNotFound):
				writeJSONError(w, http.StatusNotFound, "run not found")
			case err != nil:
				logger.ErrorContext(ctx, "failed to delete run", slog.String("runID", id), slog.Any("error", xerrors.New(err)))
				writeJSONError(w, http.StatusInternalServerError, "failed to delete run")
			default:
				logger.InfoContext(ctx, "run deleted", slog.String("runID", id))
				w.WriteHeader(http.StatusNoContent)
			}
			return
		case http.MethodGet:
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, err := service.runs(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "failed to list runs", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func newDatasetBuildHandler(service *datasetService) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		setCORSHeaders(w, "POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req models.BuildRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid build request")
				return
			}
		}

		started := time.Now()
		summary, err := service.build(ctx, req, nil)
		if err != nil {
			status := buildStatus(err)
			if status == http.StatusInternalServerError {
				logger.ErrorContext(ctx, "dataset build failed", slog.Any("error", xerrors.New(err)))
			}
			writeJSONError(w, status, err.Error())
			return
		}

		logger.InfoContext(ctx, "dataset built",
			slog.Any("classes", summary.Classes),
			slog.Int("perClass", summary.PerClass),
			slog.String("runID", summary.RunID),
			slog.Duration("elapsed", time.Since(started)),
		)
		writeJSON(w, http.StatusOK, summary)
	}
}

func newHandler(socketServer http.Handler, service *datasetService) http.Handler {
	mux := http.NewServeMux()
	if socketServer != nil {
		mux.Handle("/socket.io/", socketServer)
	}
	mux.HandleFunc("/api/runs", newRunsHandler(service))
	mux.HandleFunc("/api/datasets", newDatasetBuildHandler(service))
	mux.Handle("/", http.FileServer(http.Dir("static")))
	return mux
}

func serve(protocol, port string, base config.Config) {
	protocol = strings.ToLower(protocol)
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	store, err := db.NewArtifactStore()
	if err != nil {
		log.Fatalf("failed to open artifact store: %v", err)
	}
	defer store.Close()

	service := newDatasetService(base, store)
	controller := newSocketController(service)

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		connURL := socket.URL()
		log.Printf("CONNECTED: %s, transport: %s, remote addr: %s\n", socket.ID(), connURL.String(), socket.RemoteAddr())
		controller.emitRuns(socket)
		return nil
	})

	server.OnEvent("/", "requestRuns", func(socket socketio.Conn) {
		log.Printf("requestRuns received from %s\n", socket.ID())
		controller.handleRequestRuns(socket)
	})

	server.OnEvent("/", "deleteRun", func(socket socketio.Conn, id string) {
		log.Printf("deleteRun received from %s\n", socket.ID())
		controller.handleDeleteRun(socket, id)
	})

	server.OnEvent("/", "buildDataset", func(socket socketio.Conn, msg string) {
		log.Printf("buildDataset received from %s, payload length: %d\n", socket.ID(), len(msg))
		// Builds read every capture of the request; keep the event loop free.
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in handleBuildDataset for socket %s: %v\n", socket.ID(), r)
					socket.Emit("buildError", apiError{Message: "internal server error during build"})
				}
			}()
			controller.handleBuildDataset(socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	serveHTTPS := protocol == "https"
	serveHTTP(server, serveHTTPS, port, newHandler(server, service))
}

func serveHTTP(socketServer *socketio.Server, serveHTTPS bool, port string, handler http.Handler) {
	if handler == nil {
		handler = socketServer
	}
	if serveHTTPS {
		httpsAddr := ":" + port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		certKey := utils.GetEnv("CERT_KEY", "")
		certFile := utils.GetEnv("CERT_FILE", "")
		if certKey == "" || certFile == "" {
			log.Fatal("Missing cert: set CERT_KEY and CERT_FILE")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(certFile, certKey); err != nil {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
		return
	}

	log.Printf("Starting HTTP server on port %v", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}
