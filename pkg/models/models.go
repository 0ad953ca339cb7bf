package models

import (
	"time"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Body struct {
		Status  string    `json:"status" example:"healthy" doc:"Service health status"`
		Version string    `json:"version" example:"1.0.0" doc:"API version"`
		Time    time.Time `json:"time" doc:"Current server time"`
	}
}

// StartSweepRequestBody is the body of a start request. It doubles as the
// on-disk recipe format read by the command line tool.
type StartSweepRequestBody struct {
	Type      string      `json:"type" yaml:"type" enum:"idvd,idvg" required:"true" doc:"Sweep type"`
	Directory string      `json:"directory,omitempty" yaml:"directory" doc:"Subdirectory of the data directory for the CSV log (the data directory itself when empty)"`
	Filename  string      `json:"filename,omitempty" yaml:"filename" maxLength:"200" doc:"CSV base name, suffixed with -IDVD.csv or -IDVG.csv"`
	Gate      *SweepRange `json:"gate,omitempty" yaml:"gate" doc:"Gate axis (configured default when omitted)"`
	Drain     *SweepRange `json:"drain,omitempty" yaml:"drain" doc:"Drain axis (configured default when omitted)"`
}

// StartSweepRequest represents a request to start a sweep
type StartSweepRequest struct {
	Body StartSweepRequestBody
}

// StartSweepResponse represents the run created by a start request
type StartSweepResponse struct {
	Body *Run
}

// ControlResponseBody is the body of pause, resume and stop responses
type ControlResponseBody struct {
	Status  string `json:"status" doc:"Engine status after the request"`
	Message string `json:"message" doc:"Human-readable confirmation"`
}

// ControlResponse represents the response to a control request
type ControlResponse struct {
	Body ControlResponseBody
}

// SweepStatusBody is the body of the status response
type SweepStatusBody struct {
	RunID     string            `json:"run_id,omitempty" doc:"Current or last run ID"`
	Type      string            `json:"type,omitempty" doc:"Sweep type of the current or last run"`
	Status    string            `json:"status" enum:"idle,running,paused,stopping,stopped,completed,failed" doc:"Engine status"`
	Progress  float64           `json:"progress" minimum:"0" maximum:"100" doc:"Progress percentage"`
	Points    int               `json:"points" doc:"Points emitted during the run"`
	HoldValue float64           `json:"hold_value" doc:"Currently held voltage in V"`
	Latest    *MeasurementPoint `json:"latest,omitempty" doc:"Most recent point"`
	Message   string            `json:"message,omitempty" doc:"Human-readable status message"`
}

// SweepStatusResponse represents the live status of the engine
type SweepStatusResponse struct {
	Body SweepStatusBody
}

// GetPointsRequest represents a request for buffered points
type GetPointsRequest struct {
	Since int `query:"since" minimum:"0" doc:"Only return points with seq greater than this"`
}

// GetPointsResponseBody is the body of the points response
type GetPointsResponseBody struct {
	Points []MeasurementPoint `json:"points" doc:"Buffered points in emission order"`
	Total  int                `json:"total" doc:"Points received during the run"`
}

// GetPointsResponse represents the buffered live points
type GetPointsResponse struct {
	Body GetPointsResponseBody
}

// ListRunsRequest represents a request for run history
type ListRunsRequest struct {
	Limit int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Maximum runs to return"`
}

// ListRunsResponseBody is the body of the run history response
type ListRunsResponseBody struct {
	Runs []*Run `json:"runs" doc:"Runs, newest first"`
}

// ListRunsResponse represents run history
type ListRunsResponse struct {
	Body ListRunsResponseBody
}

// GetRunRequest represents a request for a single run
type GetRunRequest struct {
	ID string `path:"id" doc:"Run ID"`
}

// GetRunResponse represents a single run
type GetRunResponse struct {
	Body *Run
}

// DownloadRunResponseBody is the body of the download response
type DownloadRunResponseBody struct {
	URL       string `json:"url" doc:"Pre-signed URL of the archived CSV"`
	ExpiresIn int    `json:"expires_in" doc:"URL expiration time in seconds"`
}

// DownloadRunResponse represents a download link for an archived run
type DownloadRunResponse struct {
	Body DownloadRunResponseBody
}
