package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cnab-ingest/internal/blob"
	"github.com/dvloznov/cnab-ingest/internal/config"
	"github.com/dvloznov/cnab-ingest/internal/jobs"
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
		log.Fatal().Msg("BLOB_BUCKET is required for the worker binary")
	}
	blobs, err := blob.NewGCS(ctx, cfg.Bucket)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create blob store")
	}
	defer blobs.Close()

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

	log.Info().Int("workers", cfg.WorkerCount).Msg("Starting worker service")

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := queue.Start(workerCtx, proc.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start queue consumers")
	}

	// The queue is in-process, so work that was pending when the previous
	// instance stopped only exists in the files table. Re-enqueue it.
	if err := republishPending(workerCtx, store, queue, log); err != nil {
		log.Error().Err(err).Msg("Failed to re-enqueue pending files")
	}

	log.Info().Msg("Worker service started, waiting for work items")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}

// republishPending publishes a work item for every file that never reached
// a terminal state. The idempotency guard makes the occasional duplicate
// harmless.
func republishPending(ctx context.Context, store *postgres.Store, publisher jobs.Publisher, log zerolog.Logger) error {
	pending, err := store.ListPendingFiles(ctx)
	if err != nil {
		return err
	}
	for _, f := range pending {
		job := jobs.FileJob{
			FileID:     f.ID,
			BlobKey:    f.BlobKey,
			FileName:   f.Name,
			UploadedAt: f.UploadedAt,
		}
		if err := publisher.Publish(ctx, job); err != nil {
			return err
		}
		log.Info().Str("file_id", f.ID).Str("status", string(f.Status)).Msg("Re-enqueued pending file")
	}
	return nil
}
