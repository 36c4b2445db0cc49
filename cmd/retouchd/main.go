// Command retouchd serves the restoration API, the job queue and a small
// web UI.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/stevecastle/retouch/appconfig"
	"github.com/stevecastle/retouch/auth"
	"github.com/stevecastle/retouch/export"
	"github.com/stevecastle/retouch/history"
	"github.com/stevecastle/retouch/jobqueue"
	"github.com/stevecastle/retouch/presets"
	"github.com/stevecastle/retouch/renderer"
	"github.com/stevecastle/retouch/restore"
	"github.com/stevecastle/retouch/restorer"
	"github.com/stevecastle/retouch/runners"
	"github.com/stevecastle/retouch/server"
	"github.com/stevecastle/retouch/stream"
	"github.com/stevecastle/retouch/tasks"
)

var version = "dev"

// batchFiles is how many files a batch job decodes and restores at once.
// The pipeline pool is shared, so this mostly overlaps decode and encode.
const batchFiles = 2

type app struct {
	db       *sql.DB
	queue    *jobqueue.Queue
	runners  *runners.Runners
	pipeline *restore.Pipeline
	srv      *http.Server
}

func main() {
	addr := flag.String("addr", "", "listen address (overrides config)")
	open := flag.Bool("open", false, "open the web UI in a browser on start")
	noAuth := flag.Bool("no-auth", false, "serve every route without a token")
	debug := flag.Bool("debug", false, "debug logging")
	jsonLogs := flag.Bool("json", false, "JSON log output")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if !*jsonLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	cfg, cfgPath, err := appconfig.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	log.Info().Str("path", cfgPath).Msg("loaded config")
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	a, err := start(cfg, !*noAuth)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runUI(ctx, uiURL(cfg.ListenAddr), *open)
	a.shutdown()
}

func initDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Str("path", path).Msg("connected to SQLite database")
	return db, nil
}

func start(cfg appconfig.Config, requireAuth bool) (*app, error) {
	db, err := initDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	a.queue = jobqueue.NewQueueWithDB(db)
	a.queue.SetHostLimit(jobqueue.HostLocal, cfg.JobConcurrency)
	log.Info().Int("jobs", len(a.queue.GetJobs())).Msg("job queue initialized")

	hist, err := history.New(db)
	if err != nil {
		return nil, err
	}
	store, err := presets.Load(cfg.PresetsPath)
	if err != nil {
		return nil, err
	}

	a.pipeline = restore.New(restore.WithWorkers(cfg.Workers))
	r := &restorer.Restorer{
		Pipeline: a.pipeline,
		MaxSide:  cfg.MaxSide,
		Quality:  cfg.JPEGQuality,
		History:  hist,
	}

	env := tasks.Env{
		Restorer:  r,
		Presets:   store,
		Defaults:  cfg.Defaults,
		OutputDir: cfg.OutputDir,
		Workers:   batchFiles,
	}
	if cfg.S3.Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		exp, err := export.NewS3(ctx, export.Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("S3 export disabled")
		} else {
			env.Exporter = exp
		}
	}
	tasks.Configure(env)

	authSvc, err := auth.NewAuthService(db, cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if err := authSvc.CreateDefaultUser(); err != nil {
		return nil, err
	}
	if requireAuth {
		renderer.AuthMiddleware = func(h http.Handler, role renderer.AuthRole) http.Handler {
			return authSvc.Middleware(h)
		}
	}

	a.runners = runners.New(a.queue)

	mux := server.Routes(&server.Dependencies{
		Queue:    a.queue,
		Restorer: r,
		Presets:  store,
		History:  hist,
		Auth:     authSvc,
		Defaults: cfg.Defaults,
		Version:  version,
	})
	a.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// shutdown stops taking jobs, closes streams, saves the queue and stops
// the HTTP server, in that order.
func (a *app) shutdown() {
	log.Info().Msg("shutting down")
	a.runners.Shutdown()
	stream.Shutdown()
	if err := a.queue.SaveAllJobsToDB(); err != nil {
		log.Error().Err(err).Msg("failed to save jobs")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	a.pipeline.Close()
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
	log.Info().Msg("shutdown complete")
}

// uiURL turns a listen address into a browsable URL.
func uiURL(addr string) string {
	host, port, ok := strings.Cut(addr, ":")
	if !ok {
		return "http://" + addr + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "[::]" {
		host = "localhost"
	}
	return "http://" + host + ":" + port + "/"
}
