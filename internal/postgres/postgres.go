// Package postgres holds the relational store: file lifecycle rows, stores,
// transactions, processing attempts and the seeded type table. All mutation
// of transaction data happens inside the single batch transaction in
// SaveFileBatch; everything else is row-at-a-time bookkeeping.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the pgx connection pool.
type Store struct {
	db *pgxpool.Pool
}

// NewStore connects to Postgres and verifies the connection.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

// Pool exposes the underlying pool for binaries that need raw access
// (migrations, seeding).
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}
