package api

import (
	"context"
	"net/http"
	"time"

	"github.com/RMahshie/fetbench/internal/api/handlers"
	"github.com/RMahshie/fetbench/internal/measurement"
	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

// Version is reported by the health endpoint and the OpenAPI document
const Version = "1.0.0"

// RegisterRoutes sets up all API routes. metrics may be nil.
func RegisterRoutes(router chi.Router, api huma.API, svc measurement.SweepService, metrics http.Handler) {
	// Initialize handlers
	sweepHandler := handlers.NewSweepHandler(svc)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service",
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		resp := &models.HealthResponse{}
		resp.Body.Status = "healthy"
		resp.Body.Version = Version
		resp.Body.Time = time.Now()
		return resp, nil
	})

	// Register sweep control routes
	huma.Register(api, huma.Operation{
		OperationID:   "startSweep",
		Method:        http.MethodPost,
		Path:          "/api/sweeps",
		Summary:       "Start a sweep",
		Description:   "Validates the sweep, opens its CSV log and starts it. Omitted axes use the configured defaults.",
		Tags:          []string{"Sweep"},
		DefaultStatus: http.StatusCreated,
	}, sweepHandler.StartSweep)

	huma.Register(api, huma.Operation{
		OperationID: "pauseSweep",
		Method:      http.MethodPost,
		Path:        "/api/sweeps/pause",
		Summary:     "Pause the sweep",
		Description: "Holds the active sweep before its next instrument command",
		Tags:        []string{"Sweep"},
	}, sweepHandler.PauseSweep)

	huma.Register(api, huma.Operation{
		OperationID: "resumeSweep",
		Method:      http.MethodPost,
		Path:        "/api/sweeps/resume",
		Summary:     "Resume the sweep",
		Description: "Continues a paused sweep",
		Tags:        []string{"Sweep"},
	}, sweepHandler.ResumeSweep)

	huma.Register(api, huma.Operation{
		OperationID: "stopSweep",
		Method:      http.MethodPost,
		Path:        "/api/sweeps/stop",
		Summary:     "Stop the sweep",
		Description: "Stops the active sweep and returns the instruments to a safe state",
		Tags:        []string{"Sweep"},
	}, sweepHandler.StopSweep)

	huma.Register(api, huma.Operation{
		OperationID: "getSweepStatus",
		Method:      http.MethodGet,
		Path:        "/api/sweeps/status",
		Summary:     "Get sweep status",
		Description: "Returns the engine status, progress and most recent point",
		Tags:        []string{"Sweep"},
	}, sweepHandler.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getSweepPoints",
		Method:      http.MethodGet,
		Path:        "/api/sweeps/points",
		Summary:     "Get live points",
		Description: "Returns the buffered points of the current or last run",
		Tags:        []string{"Sweep"},
	}, sweepHandler.GetPoints)

	// Register run history routes
	huma.Register(api, huma.Operation{
		OperationID: "listRuns",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "List runs",
		Description: "Returns run history, newest first",
		Tags:        []string{"Runs"},
	}, sweepHandler.ListRuns)

	huma.Register(api, huma.Operation{
		OperationID: "getRun",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}",
		Summary:     "Get run",
		Description: "Returns one run from history",
		Tags:        []string{"Runs"},
	}, sweepHandler.GetRun)

	huma.Register(api, huma.Operation{
		OperationID: "downloadRun",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}/download",
		Summary:     "Download run log",
		Description: "Returns a pre-signed URL for the archived CSV of a run",
		Tags:        []string{"Runs"},
	}, sweepHandler.DownloadRun)

	// Binary and scrape endpoints bypass huma
	router.Get("/api/sweeps/plot.png", sweepHandler.Plot)
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}
}
