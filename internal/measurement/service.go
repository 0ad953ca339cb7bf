// Package measurement is the control surface shared by the HTTP API and the
// command line tool. It starts sweeps on the engine, keeps run history in
// step with the feed and archives finished logs.
package measurement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RMahshie/fetbench/internal/config"
	"github.com/RMahshie/fetbench/internal/datalog"
	"github.com/RMahshie/fetbench/internal/display"
	"github.com/RMahshie/fetbench/internal/feed"
	"github.com/RMahshie/fetbench/internal/repository"
	"github.com/RMahshie/fetbench/internal/storage"
	"github.com/RMahshie/fetbench/internal/sweep"
	"github.com/RMahshie/fetbench/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Plot dimensions in pixels
const (
	PlotWidth  = 800
	PlotHeight = 600
)

var (
	// ErrArchiveDisabled is returned for downloads when no bucket is configured
	ErrArchiveDisabled = errors.New("run archive is not configured")
	// ErrNotArchived is returned for downloads of runs without an archived log
	ErrNotArchived = errors.New("run has not been archived")
)

// SweepService drives the bench and answers status queries
type SweepService interface {
	StartSweep(ctx context.Context, req models.StartSweepRequestBody) (*models.Run, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) bool
	Status(ctx context.Context) models.SweepStatusBody
	Points(since int) ([]models.MeasurementPoint, int)
	RenderPlot(w io.Writer, q display.Quantity) error
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	DownloadURL(ctx context.Context, id uuid.UUID) (string, error)
}

// Engine is the part of sweep.Engine the service drives
type Engine interface {
	Start(plan sweep.Plan, open sweep.SinkOpener) error
	Pause() error
	Resume() error
	Stop() bool
	Snapshot() sweep.Session
}

// tracked is a run whose feed events have not all been consumed yet
type tracked struct {
	run      *models.Run
	points   int
	progress float64
}

// Service implements SweepService
type Service struct {
	cfg     *config.Config
	engine  Engine
	monitor *display.Monitor
	repo    repository.RunRepository
	s3      storage.S3Service // nil disables archiving

	mu      sync.Mutex
	pending []*tracked
	last    *models.Run
	wg      sync.WaitGroup
}

// NewService creates the service and installs its hooks on monitor. s3 may
// be nil.
func NewService(cfg *config.Config, engine Engine, monitor *display.Monitor, repo repository.RunRepository, s3 storage.S3Service) *Service {
	s := &Service{
		cfg:     cfg,
		engine:  engine,
		monitor: monitor,
		repo:    repo,
		s3:      s3,
	}
	monitor.SetHooks(display.Hooks{
		OnData:   s.onData,
		OnStatus: s.onStatus,
		OnFinish: s.onFinish,
	})
	return s
}

var _ SweepService = (*Service)(nil)

// StartSweep validates the request against the configured defaults and
// starts the run. The CSV name defaults to a timestamp.
func (s *Service) StartSweep(ctx context.Context, req models.StartSweepRequestBody) (*models.Run, error) {
	kind, err := sweep.ParseKind(req.Type)
	if err != nil {
		return nil, err
	}
	plan, err := s.cfg.Plan(kind, req.Gate, req.Drain)
	if err != nil {
		return nil, err
	}

	dir, name, err := logLocation(s.cfg.Data.Dir, req.Directory, req.Filename)
	if err != nil {
		return nil, err
	}

	// Holding mu until the run is queued keeps the hooks from seeing its
	// events first.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.engine.Start(plan, datalog.Opener(dir, name)); err != nil {
		return nil, err
	}

	run := &models.Run{
		ID:        uuid.New().String(),
		Type:      typeName(kind),
		Status:    models.RunRunning,
		Gate:      plan.Gate.Range(),
		Drain:     plan.Drain.Range(),
		CSVPath:   datalog.PathFor(dir, name, kind.Axis()),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, run); err != nil {
		// History is best effort; the sweep is already running.
		log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record run")
	}
	s.pending = append(s.pending, &tracked{run: run})
	s.last = run

	log.Info().
		Str("run_id", run.ID).
		Str("type", kind.String()).
		Str("csv", run.CSVPath).
		Msg("Run created")
	c := *run
	return &c, nil
}

// logLocation resolves the requested directory beneath base and checks that
// filename is a bare name. Requests cannot place logs outside base.
func logLocation(base, directory, filename string) (string, string, error) {
	dir := base
	if sub := strings.TrimSpace(directory); sub != "" {
		if !filepath.IsLocal(sub) {
			return "", "", &sweep.ConfigurationError{Field: "directory", Reason: "must be a relative path inside the data directory"}
		}
		dir = filepath.Join(base, sub)
	}

	name := strings.TrimSpace(filename)
	if name == "" {
		return dir, "fet-" + time.Now().Format("20060102-150405"), nil
	}
	if strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) || name == "." {
		return "", "", &sweep.ConfigurationError{Field: "filename", Reason: "must be a plain file name"}
	}
	return dir, name, nil
}

// Pause holds the active run
func (s *Service) Pause(ctx context.Context) error {
	return s.engine.Pause()
}

// Resume continues a paused run
func (s *Service) Resume(ctx context.Context) error {
	return s.engine.Resume()
}

// Stop signals the active run and reports whether there was one
func (s *Service) Stop(ctx context.Context) bool {
	return s.engine.Stop()
}

// Status combines the engine session with the display state
func (s *Service) Status(ctx context.Context) models.SweepStatusBody {
	session := s.engine.Snapshot()
	view := s.monitor.Snapshot()

	body := models.SweepStatusBody{
		Status:    session.Status.String(),
		Progress:  session.Progress,
		Points:    session.Emitted,
		HoldValue: session.HoldValue,
		Latest:    view.Latest,
		Message:   session.Message,
	}

	s.mu.Lock()
	if s.last != nil {
		body.RunID = s.last.ID
		body.Type = s.last.Type
	}
	s.mu.Unlock()
	return body
}

// Points returns buffered points after since and the sequence number of the
// newest point.
func (s *Service) Points(since int) ([]models.MeasurementPoint, int) {
	points := s.monitor.Points(since)
	total := 0
	if latest := s.monitor.Snapshot().Latest; latest != nil {
		total = latest.Seq
	}
	return points, total
}

// RenderPlot draws the buffered points
func (s *Service) RenderPlot(w io.Writer, q display.Quantity) error {
	return display.RenderPNG(w, s.monitor.Points(0), q, PlotWidth, PlotHeight)
}

// ListRuns returns run history, newest first
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	return s.repo.List(ctx, limit)
}

// GetRun returns one run
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	return s.repo.GetByID(ctx, id)
}

// DownloadURL returns a presigned URL for the archived CSV of a run
func (s *Service) DownloadURL(ctx context.Context, id uuid.UUID) (string, error) {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if s.s3 == nil {
		return "", ErrArchiveDisabled
	}
	if run.ArchiveKey == nil {
		return "", ErrNotArchived
	}
	return s.s3.GenerateDownloadURL(ctx, *run.ArchiveKey)
}

// Wait blocks until archive uploads started by finished runs are done
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) onData(ev feed.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return
	}
	t := s.pending[0]
	t.points = ev.Point.Seq
	t.progress = ev.Point.ProgressPct
}

func (s *Service) onStatus(ev feed.Event) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	t := *s.pending[0]
	s.mu.Unlock()

	// Terminal states are written by onFinish.
	if repository.IsTerminal(ev.Status) {
		return
	}
	id := uuid.MustParse(t.run.ID)
	if err := s.repo.UpdateStatus(context.Background(), id, ev.Status, t.progress, t.points); err != nil {
		log.Warn().Err(err).Str("run_id", t.run.ID).Msg("Failed to update run status")
	}
}

func (s *Service) onFinish(ev feed.Event) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	t.run.Status = ev.Status
	t.run.Progress = t.progress
	t.run.Points = t.points
	run := *t.run
	s.wg.Add(1)
	s.mu.Unlock()

	ctx := context.Background()
	id := uuid.MustParse(run.ID)
	if err := s.repo.UpdateStatus(ctx, id, run.Status, run.Progress, run.Points); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to update run status")
	}
	if ev.Kind == feed.KindError {
		if err := s.repo.UpdateError(ctx, id, ev.Message); err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record run error")
		}
	}

	log.Info().
		Str("run_id", run.ID).
		Str("status", run.Status).
		Int("points", run.Points).
		Msg("Run finished")

	// Uploads can be slow; keep them off the display goroutine.
	go func() {
		defer s.wg.Done()
		s.archive(ctx, run)
	}()
}

// archive exports and uploads the log of a finished run
func (s *Service) archive(ctx context.Context, run models.Run) {
	if run.Points == 0 {
		return
	}

	files := []string{run.CSVPath}
	if s.cfg.Data.XLSXExport {
		xlsxPath := strings.TrimSuffix(run.CSVPath, ".csv") + ".xlsx"
		rows, err := datalog.ExportXLSX(run.CSVPath, xlsxPath)
		if err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Msg("XLSX export failed")
		} else {
			log.Info().Str("run_id", run.ID).Str("path", xlsxPath).Int("rows", rows).Msg("Exported XLSX")
			files = append(files, xlsxPath)
		}
	}

	if s.s3 == nil {
		return
	}
	for i, path := range files {
		key := storage.ArchiveKey(run.ID, path)
		if err := s.s3.UploadFile(ctx, key, path, storage.ContentTypeFor(path)); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Str("key", key).Msg("Archive upload failed")
			return
		}
		if i == 0 {
			if err := s.repo.SetArchiveKey(ctx, uuid.MustParse(run.ID), key); err != nil {
				log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record archive key")
			}
		}
		log.Info().Str("run_id", run.ID).Str("key", key).Msg("Archived run file")
	}
}

func typeName(k sweep.Kind) string {
	switch k {
	case sweep.IDVD:
		return models.SweepIDVD
	case sweep.IDVG:
		return models.SweepIDVG
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}
