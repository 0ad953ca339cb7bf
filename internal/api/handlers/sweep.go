package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/RMahshie/fetbench/internal/display"
	"github.com/RMahshie/fetbench/internal/measurement"
	"github.com/RMahshie/fetbench/internal/repository"
	"github.com/RMahshie/fetbench/internal/storage"
	"github.com/RMahshie/fetbench/internal/sweep"
	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SweepHandler handles sweep control and run history requests
type SweepHandler struct {
	svc measurement.SweepService
}

// NewSweepHandler creates a new sweep handler
func NewSweepHandler(svc measurement.SweepService) *SweepHandler {
	return &SweepHandler{svc: svc}
}

// StartSweep starts a sweep and returns the new run
func (h *SweepHandler) StartSweep(ctx context.Context, req *models.StartSweepRequest) (*models.StartSweepResponse, error) {
	log.Info().Str("type", req.Body.Type).Str("filename", req.Body.Filename).Msg("Start sweep request received")

	run, err := h.svc.StartSweep(ctx, req.Body)
	if err != nil {
		return nil, toHTTPError(err, "Failed to start sweep")
	}

	log.Info().Str("run_id", run.ID).Str("csv", run.CSVPath).Msg("Sweep started, returning run")
	return &models.StartSweepResponse{Body: run}, nil
}

// PauseSweep pauses the active sweep
func (h *SweepHandler) PauseSweep(ctx context.Context, _ *struct{}) (*models.ControlResponse, error) {
	if err := h.svc.Pause(ctx); err != nil {
		return nil, toHTTPError(err, "Failed to pause sweep")
	}
	return h.control(ctx, "Sweep paused"), nil
}

// ResumeSweep resumes a paused sweep
func (h *SweepHandler) ResumeSweep(ctx context.Context, _ *struct{}) (*models.ControlResponse, error) {
	if err := h.svc.Resume(ctx); err != nil {
		return nil, toHTTPError(err, "Failed to resume sweep")
	}
	return h.control(ctx, "Sweep resumed"), nil
}

// StopSweep stops the active sweep. Stopping with no active sweep is not an
// error.
func (h *SweepHandler) StopSweep(ctx context.Context, _ *struct{}) (*models.ControlResponse, error) {
	if !h.svc.Stop(ctx) {
		return h.control(ctx, "No sweep is running"), nil
	}
	return h.control(ctx, "Stop requested"), nil
}

func (h *SweepHandler) control(ctx context.Context, message string) *models.ControlResponse {
	return &models.ControlResponse{
		Body: models.ControlResponseBody{
			Status:  h.svc.Status(ctx).Status,
			Message: message,
		},
	}
}

// GetStatus returns the live sweep status
func (h *SweepHandler) GetStatus(ctx context.Context, _ *struct{}) (*models.SweepStatusResponse, error) {
	return &models.SweepStatusResponse{Body: h.svc.Status(ctx)}, nil
}

// GetPoints returns buffered points newer than since
func (h *SweepHandler) GetPoints(ctx context.Context, req *models.GetPointsRequest) (*models.GetPointsResponse, error) {
	points, total := h.svc.Points(req.Since)
	return &models.GetPointsResponse{
		Body: models.GetPointsResponseBody{
			Points: points,
			Total:  total,
		},
	}, nil
}

// ListRuns returns run history
func (h *SweepHandler) ListRuns(ctx context.Context, req *models.ListRunsRequest) (*models.ListRunsResponse, error) {
	runs, err := h.svc.ListRuns(ctx, req.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list runs", err)
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	return &models.ListRunsResponse{Body: models.ListRunsResponseBody{Runs: runs}}, nil
}

// GetRun returns one run
func (h *SweepHandler) GetRun(ctx context.Context, req *models.GetRunRequest) (*models.GetRunResponse, error) {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid run ID", err)
	}

	run, err := h.svc.GetRun(ctx, id)
	if err != nil {
		return nil, toHTTPError(err, "Failed to get run")
	}
	return &models.GetRunResponse{Body: run}, nil
}

// DownloadRun returns a download URL for the archived CSV of a run
func (h *SweepHandler) DownloadRun(ctx context.Context, req *models.GetRunRequest) (*models.DownloadRunResponse, error) {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid run ID", err)
	}

	url, err := h.svc.DownloadURL(ctx, id)
	if err != nil {
		return nil, toHTTPError(err, "Failed to generate download URL")
	}
	return &models.DownloadRunResponse{
		Body: models.DownloadRunResponseBody{
			URL:       url,
			ExpiresIn: int(storage.DownloadURLExpiry.Seconds()),
		},
	}, nil
}

// Plot serves the buffered points as a PNG. Query parameter q selects ids
// (default) or ig.
func (h *SweepHandler) Plot(w http.ResponseWriter, r *http.Request) {
	q, err := display.ParseQuantity(r.URL.Query().Get("q"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := h.svc.RenderPlot(&buf, q); err != nil {
		if errors.Is(err, display.ErrNotEnoughPoints) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("Failed to render plot")
		http.Error(w, "Failed to render plot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// toHTTPError maps service errors to huma status errors
func toHTTPError(err error, msg string) error {
	var cfgErr *sweep.ConfigurationError
	var running *sweep.AlreadyRunningError
	var ioErr *sweep.IOError

	switch {
	case errors.As(err, &cfgErr):
		return huma.Error400BadRequest(cfgErr.Error(), err)
	case errors.As(err, &running):
		return huma.Error409Conflict(running.Error(), err)
	case errors.Is(err, sweep.ErrNotRunning):
		return huma.Error409Conflict("No sweep is running", err)
	case errors.Is(err, repository.ErrRunNotFound):
		return huma.Error404NotFound("Run not found", err)
	case errors.Is(err, measurement.ErrNotArchived):
		return huma.Error404NotFound("Run has not been archived", err)
	case errors.Is(err, measurement.ErrArchiveDisabled):
		return huma.Error503ServiceUnavailable("Run archive is not configured", err)
	case errors.As(err, &ioErr):
		return huma.Error500InternalServerError(ioErr.Error(), err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
