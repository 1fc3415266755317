package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"strings"
	"time"

	"nfc-rfml/models"
	"nfc-rfml/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

// emitter is the part of socketio.Conn the controller writes to.
type emitter interface {
	ID() string
	Emit(event string, v ...interface{})
}

type socketController struct {
	service *datasetService
}

func newSocketController(service *datasetService) *socketController {
	return &socketController{service: service}
}

func (c *socketController) emitRuns(socket emitter) {
	logger := utils.GetLogger()
	ctx := context.Background()

	runs, err := c.service.runs(ctx)
	if err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to list runs", slog.String("socketID", socket.ID()), slog.Any("error", err))
		socket.Emit("runsError", apiError{Message: "failed to list runs"})
		return
	}
	socket.Emit("runs", runs)
}

func (c *socketController) handleRequestRuns(socket socketio.Conn) {
	c.emitRuns(socket)
}

func (c *socketController) handleDeleteRun(socket emitter, id string) {
	logger := utils.GetLogger()
	ctx := context.Background()

	id = strings.TrimSpace(id)
	if id == "" {
		socket.Emit("runsError", apiError{Message: "missing run id"})
		return
	}
	if err := c.service.deleteRun(ctx, id); err != nil {
		logger.ErrorContext(ctx, "failed to delete run",
			slog.String("socketID", socket.ID()),
			slog.String("runID", id),
			slog.Any("error", xerrors.New(err)),
		)
		socket.Emit("runsError", apiError{Message: err.Error()})
		return
	}
	socket.Emit("runDeleted", id)
	c.emitRuns(socket)
}

func (c *socketController) handleBuildDataset(socket emitter, payload string) {
	logger := utils.GetLogger()
	ctx := context.Background()

	var req models.BuildRequest
	if strings.TrimSpace(payload) != "" {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "failed to parse build request", slog.Any("error", err))
			socket.Emit("buildError", apiError{Message: "invalid build request"})
			return
		}
	}

	logger.InfoContext(ctx, "build requested",
		slog.String("socketID", socket.ID()),
		slog.Any("tags", req.Tags),
		slog.Bool("persist", req.Persist),
	)

	started := time.Now()
	summary, err := c.service.build(ctx, req, func(p models.BuildProgress) {
		socket.Emit("buildProgress", p)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("[handleBuildDataset] build for %s cancelled\n", socket.ID())
		} else {
			logger.ErrorContext(ctx, "dataset build failed",
				slog.String("socketID", socket.ID()),
				slog.Any("error", xerrors.New(err)),
			)
		}
		socket.Emit("buildError", apiError{Message: err.Error()})
		return
	}

	log.Printf("[handleBuildDataset] built %d classes x %d windows for %s in %s\n",
		len(summary.Classes), summary.PerClass, socket.ID(), time.Since(started))
	socket.Emit("datasetBuilt", summary)
}
