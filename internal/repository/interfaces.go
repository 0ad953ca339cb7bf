package repository

import (
	"context"
	"errors"

	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// RunRepository defines the interface for run history operations
type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error)
	List(ctx context.Context, limit int) ([]*models.Run, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress float64, points int) error
	UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error
	SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error
}

// IsTerminal reports whether a run status is final
func IsTerminal(status string) bool {
	return status == models.RunCompleted || status == models.RunStopped || status == models.RunFailed
}
