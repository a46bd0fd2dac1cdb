package main

import (
	"context"

	"github.com/dvloznov/cnab-ingest/internal/config"
	"github.com/dvloznov/cnab-ingest/internal/domain"
	"github.com/dvloznov/cnab-ingest/internal/logger"
	"github.com/dvloznov/cnab-ingest/internal/postgres"
)

// Seeds the transaction_types reference table with the canonical type-sign
// mapping. Idempotent: re-running refreshes descriptions in place.
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

	types := domain.SeedTransactionTypes()
	if err := store.SeedTransactionTypes(ctx, types); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed transaction types")
	}

	log.Info().Int("types", len(types)).Msg("Transaction types seeded")
}
