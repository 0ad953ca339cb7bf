// Package memory keeps run history in process memory. It is used when no
// database is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RMahshie/fetbench/internal/repository"
	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/google/uuid"
)

// RunRepository implements repository.RunRepository in memory.
// Safe for concurrent use.
type RunRepository struct {
	mu   sync.RWMutex
	runs map[string]*models.Run
}

// NewRunRepository creates an empty repository.
func NewRunRepository() *RunRepository {
	return &RunRepository{runs: make(map[string]*models.Run)}
}

var _ repository.RunRepository = (*RunRepository)(nil)

// Create stores a copy of run.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = clone(run)
	return nil
}

// GetByID returns a copy of the run.
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id.String()]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	return clone(run), nil
}

// List returns up to limit runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*models.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, clone(run))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus sets status, progress and point count.
func (r *RunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress float64, points int) error {
	return r.update(id, func(run *models.Run, now time.Time) {
		run.Status = status
		run.Progress = progress
		run.Points = points
		if repository.IsTerminal(status) {
			run.CompletedAt = &now
		}
	})
}

// UpdateError marks the run failed.
func (r *RunRepository) UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error {
	return r.update(id, func(run *models.Run, now time.Time) {
		run.Status = models.RunFailed
		run.ErrorMsg = &errorMsg
		if run.CompletedAt == nil {
			run.CompletedAt = &now
		}
	})
}

// SetArchiveKey records the archive location.
func (r *RunRepository) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.update(id, func(run *models.Run, _ time.Time) {
		run.ArchiveKey = &key
	})
}

func (r *RunRepository) update(id uuid.UUID, fn func(run *models.Run, now time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id.String()]
	if !ok {
		return repository.ErrRunNotFound
	}
	now := time.Now()
	fn(run, now)
	run.UpdatedAt = now
	return nil
}

func clone(run *models.Run) *models.Run {
	c := *run
	if run.ArchiveKey != nil {
		k := *run.ArchiveKey
		c.ArchiveKey = &k
	}
	if run.ErrorMsg != nil {
		m := *run.ErrorMsg
		c.ErrorMsg = &m
	}
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
