package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvloznov/cnab-ingest/internal/api/handlers"
	"github.com/dvloznov/cnab-ingest/internal/api/middleware"
	"github.com/dvloznov/cnab-ingest/internal/blob"
	"github.com/dvloznov/cnab-ingest/internal/config"
	"github.com/dvloznov/cnab-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/cnab-ingest/internal/logger"
	"github.com/dvloznov/cnab-ingest/internal/notify"
	"github.com/dvloznov/cnab-ingest/internal/postgres"
	"github.com/dvloznov/cnab-ingest/internal/processor"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	// Balance derivation needs the type table; refuse to start unseeded.
	if _, err := store.LoadTransactionTypes(ctx); err != nil {
		log.Fatal().Err(err).Msg("Transaction types missing, run the seeder first")
	}

	if cfg.Bucket == "" {
		log.Fatal().Msg("BLOB_BUCKET is required for the API binary")
	}
	blobs, err := blob.NewGCS(ctx, cfg.Bucket)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create blob store")
	}
	defer blobs.Close()

	// The queue and its consumers live in this process; uploads published
	// here are processed by the embedded worker pool.
	queue := inmemory.NewQueue(cfg.QueueBuffer, cfg.WorkerCount, cfg.VisibilityTimeout, log)
	deadLetters := inmemory.NewDeadLetterStore()

	proc := processor.New(processor.Config{
		Files:       store,
		Attempts:    store,
		Batch:       store,
		Blobs:       blobs,
		DeadLetters: deadLetters,
		Notifier:    notify.NewStoreSink(store, "uploader", log),
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.ProcessTimeout,
		Log:         log,
	})

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	if err := queue.Start(workerCtx, proc.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start queue consumers")
	}

	// Router
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	filesHandler := handlers.NewFilesHandler(store, queue, blobs, deadLetters, log)
	filesHandler.Register(r.PathPrefix("/api/v1").Subrouter())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}

	cancelWorkers()
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Queue shutdown error")
	}

	log.Info().Msg("API server exited")
}
