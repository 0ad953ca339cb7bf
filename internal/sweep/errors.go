package sweep

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned by Pause and Resume when no run is active.
var ErrNotRunning = errors.New("no sweep is running")

// errStopped unwinds the run goroutine after Stop.
var errStopped = errors.New("sweep stopped")

// ConfigurationError rejects a plan before any instrument command is issued.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// AlreadyRunningError rejects Start while a run is active.
type AlreadyRunningError struct {
	Status Status
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("a sweep is already %s", e.Status)
}

// IOError reports a failure to create or write the data log.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("data log %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("data log %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
