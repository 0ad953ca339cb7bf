package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgContainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/RMahshie/fetbench/internal/repository"
	"github.com/RMahshie/fetbench/pkg/models"
)

// setupDatabase starts PostgreSQL and applies the migrations
func setupDatabase(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := pgContainer.Run(ctx,
		"postgres:15-alpine",
		pgContainer.WithDatabase("fetbench_test"),
		pgContainer.WithUsername("testuser"),
		pgContainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	// Migrations are idempotent
	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestRunRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupDatabase(t)
	repo := NewPostgresRunRepository(db)
	ctx := context.Background()

	run := &models.Run{
		ID:      uuid.New().String(),
		Type:    models.SweepIDVG,
		Status:  models.RunRunning,
		Gate:    models.SweepRange{From: -10, To: 10, Step: 0.5, Delay: 0.2},
		Drain:   models.SweepRange{From: 0.2, To: 0.4, Step: 0.2, Delay: 0.5},
		CSVPath: "data/dut-IDVG.csv",
	}
	require.NoError(t, repo.Create(ctx, run))

	id := uuid.MustParse(run.ID)
	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, run.Type, got.Type)
	assert.Equal(t, run.Gate, got.Gate)
	assert.Equal(t, run.Drain, got.Drain)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, repo.UpdateStatus(ctx, id, models.RunCompleted, 100, 82))
	require.NoError(t, repo.SetArchiveKey(ctx, id, "runs/"+run.ID+"/dut-IDVG.csv"))

	got, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, 82, got.Points)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ArchiveKey)

	runs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
	assert.ErrorIs(t, repo.UpdateError(ctx, uuid.New(), "boom"), repository.ErrRunNotFound)
}

func TestMigrateDown_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupDatabase(t)
	ctx := context.Background()

	require.NoError(t, MigrateDown(ctx, db))
	var table sql.NullString
	require.NoError(t, db.QueryRowContext(ctx, "SELECT to_regclass('public.runs')").Scan(&table))
	assert.False(t, table.Valid)

	// Reverting an empty schema is a no-op.
	require.NoError(t, MigrateDown(ctx, db))

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, db.QueryRowContext(ctx, "SELECT to_regclass('public.runs')").Scan(&table))
	assert.True(t, table.Valid)
	assert.Equal(t, "runs", table.String)
}
