package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/fetbench/internal/api"
	"github.com/RMahshie/fetbench/internal/config"
	"github.com/RMahshie/fetbench/internal/display"
	"github.com/RMahshie/fetbench/internal/feed"
	"github.com/RMahshie/fetbench/internal/instrument"
	"github.com/RMahshie/fetbench/internal/measurement"
	"github.com/RMahshie/fetbench/internal/metrics"
	"github.com/RMahshie/fetbench/internal/repository"
	"github.com/RMahshie/fetbench/internal/repository/memory"
	"github.com/RMahshie/fetbench/internal/repository/postgres"
	"github.com/RMahshie/fetbench/internal/storage"
	"github.com/RMahshie/fetbench/internal/sweep"
)

func main() {
	// Configure zerolog for structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// Instruments
	bench, err := instrument.Connect(cfg.ConnectConfig())
	if err != nil {
		log.Fatal().Err(err).Str("transport", cfg.Instrument.Transport).Msg("Failed to connect instruments")
	}
	defer bench.Close()

	// Run history and archive
	repo, closeRepo := openRepository(cfg)
	defer closeRepo()

	var archive storage.S3Service
	if cfg.AWS.S3Bucket != "" {
		archive, err = storage.NewS3Service(storage.S3Config{
			Bucket:    cfg.AWS.S3Bucket,
			Endpoint:  cfg.AWS.S3Endpoint,
			Region:    cfg.AWS.Region,
			AccessKey: cfg.AWS.AccessKeyID,
			SecretKey: cfg.AWS.SecretAccessKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 service")
		}
		log.Info().Str("bucket", cfg.AWS.S3Bucket).Msg("Run archive enabled")
	}

	// Engine, feed and display
	events := feed.New()
	engine := sweep.New(bench, events, sweep.WithPollInterval(cfg.Display.PausePoll))
	recorder := metrics.NewRecorder()
	monitor := display.New(events,
		display.WithInterval(cfg.Display.FeedPoll),
		display.WithMaxPoints(cfg.Display.PlotMaxPoints),
		display.WithObserver(recorder),
	)
	svc := measurement.NewService(cfg, engine, monitor, repo, archive)

	// Create Chi router
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(zerologLogger())
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Create Huma API
	humaConfig := huma.DefaultConfig("Fetbench API", api.Version)
	humaConfig.DocsPath = "/api/docs"
	humaAPI := humachi.New(router, humaConfig)

	api.RegisterRoutes(router, humaAPI, svc, recorder.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(monitorCtx)
	}()

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Server.Env).Msg("Starting Fetbench API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	// The bench must be safe before the process exits.
	if engine.Stop() {
		log.Info().Msg("Stopping active sweep")
	}
	engine.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	stopMonitor()
	<-monitorDone
	svc.Wait()

	log.Info().Msg("Server exited")
}

// openRepository connects to PostgreSQL when DATABASE_URL is set and keeps
// history in memory otherwise.
func openRepository(cfg *config.Config) (repository.RunRepository, func()) {
	if cfg.Database.URL == "" {
		log.Warn().Msg("DATABASE_URL not set, run history is kept in memory")
		return memory.NewRunRepository(), func() {}
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("Connected to database")
	return postgres.NewPostgresRunRepository(db), func() { db.Close() }
}

// zerologLogger returns a Chi middleware that logs HTTP requests using zerolog
func zerologLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_ip", r.RemoteAddr).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("HTTP request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
