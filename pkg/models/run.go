package models

import "time"

// Sweep types accepted by the control surface
const (
	SweepIDVD = "idvd"
	SweepIDVG = "idvg"
)

// Run statuses as persisted in run history
const (
	RunRunning   = "running"
	RunStopped   = "stopped"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// SweepRange describes one voltage axis of a sweep
type SweepRange struct {
	From  float64 `json:"from" yaml:"from" doc:"Start voltage in V"`
	To    float64 `json:"to" yaml:"to" doc:"End voltage in V"`
	Step  float64 `json:"step" yaml:"step" exclusiveMinimum:"0" doc:"Step size in V"`
	Delay float64 `json:"delay" yaml:"delay" minimum:"0" doc:"Settle delay in seconds"`
}

// Run represents one executed sweep (for internal use and run history)
type Run struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Points      int        `json:"points"`
	Gate        SweepRange `json:"gate"`
	Drain       SweepRange `json:"drain"`
	CSVPath     string     `json:"csv_path"`
	ArchiveKey  *string    `json:"archive_key,omitempty"`
	ErrorMsg    *string    `json:"error_message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
