package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/RMahshie/fetbench/internal/repository"
	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/google/uuid"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the up migrations in order. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	return apply(ctx, db, files)
}

// MigrateDown reverts every migration, newest first.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	files, err := fs.Glob(migrations, "migrations/*.down.sql")
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return apply(ctx, db, files)
}

func apply(ctx context.Context, db *sql.DB, files []string) error {
	for _, name := range files {
		stmt, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(stmt)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
	}
	return nil
}

// PostgresRunRepository implements RunRepository for PostgreSQL
type PostgresRunRepository struct {
	db *sql.DB
}

// NewPostgresRunRepository creates a new PostgreSQL run repository
func NewPostgresRunRepository(db *sql.DB) repository.RunRepository {
	return &PostgresRunRepository{db: db}
}

const runColumns = `id, type, status, progress, points, gate, drain, csv_path, archive_key, error_message, created_at, updated_at, completed_at`

// Create inserts a new run record
func (r *PostgresRunRepository) Create(ctx context.Context, run *models.Run) error {
	gate, err := json.Marshal(run.Gate)
	if err != nil {
		return fmt.Errorf("failed to marshal gate range: %w", err)
	}
	drain, err := json.Marshal(run.Drain)
	if err != nil {
		return fmt.Errorf("failed to marshal drain range: %w", err)
	}

	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}

	query := `
		INSERT INTO runs (id, type, status, progress, points, gate, drain, csv_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.Type,
		run.Status,
		run.Progress,
		run.Points,
		string(gate),
		string(drain),
		run.CSVPath,
		run.CreatedAt,
		run.UpdatedAt)

	return err
}

// GetByID retrieves a run by ID
func (r *PostgresRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrRunNotFound
	}
	return run, err
}

// List returns the most recent runs first
func (r *PostgresRunRepository) List(ctx context.Context, limit int) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateStatus updates the status, progress and point count of a run
func (r *PostgresRunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, progress float64, points int) error {
	query := `
		UPDATE runs
		SET status = $1, progress = $2, points = $3, updated_at = NOW(),
		    completed_at = CASE WHEN $1 IN ('completed', 'stopped', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $4`

	return execOne(ctx, r.db, query, status, progress, points, id)
}

// UpdateError marks a run failed with a message
func (r *PostgresRunRepository) UpdateError(ctx context.Context, id uuid.UUID, errorMsg string) error {
	query := `
		UPDATE runs
		SET status = 'failed', error_message = $1, updated_at = NOW(),
		    completed_at = COALESCE(completed_at, NOW())
		WHERE id = $2`

	return execOne(ctx, r.db, query, errorMsg, id)
}

// SetArchiveKey records where the run's CSV was uploaded
func (r *PostgresRunRepository) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	query := `UPDATE runs SET archive_key = $1, updated_at = NOW() WHERE id = $2`

	return execOne(ctx, r.db, query, key, id)
}

func execOne(ctx context.Context, db *sql.DB, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrRunNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var gate, drain []byte
	var archiveKey, errorMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.Type,
		&run.Status,
		&run.Progress,
		&run.Points,
		&gate,
		&drain,
		&run.CSVPath,
		&archiveKey,
		&errorMsg,
		&run.CreatedAt,
		&run.UpdatedAt,
		&completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(gate, &run.Gate); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gate range: %w", err)
	}
	if err := json.Unmarshal(drain, &run.Drain); err != nil {
		return nil, fmt.Errorf("failed to unmarshal drain range: %w", err)
	}
	if archiveKey.Valid {
		run.ArchiveKey = &archiveKey.String
	}
	if errorMsg.Valid {
		run.ErrorMsg = &errorMsg.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	return &run, nil
}
