package postgres

import (
	"context"
	"fmt"

	"github.com/dvloznov/cnab-ingest/internal/domain"
)

// LoadTransactionTypes reads the seeded type table into a code-keyed map.
// The table is static reference data; callers load it once at startup.
func (s *Store) LoadTransactionTypes(ctx context.Context) (map[int]domain.TransactionType, error) {
	rows, err := s.db.Query(ctx,
		`SELECT code, description, nature, sign FROM transaction_types ORDER BY code`)
	if err != nil {
		return nil, classify("load transaction types", err)
	}
	defer rows.Close()

	types := make(map[int]domain.TransactionType)
	for rows.Next() {
		var t domain.TransactionType
		if err := rows.Scan(&t.Code, &t.Description, &t.Nature, &t.Sign); err != nil {
			return nil, fmt.Errorf("scan transaction type: %w", err)
		}
		types[t.Code] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("transaction_types table is empty; run the seeder")
	}
	return types, nil
}

// SeedTransactionTypes upserts the canonical type table. Idempotent; safe
// to run on every deployment.
func (s *Store) SeedTransactionTypes(ctx context.Context, types []domain.TransactionType) error {
	for _, t := range types {
		_, err := s.db.Exec(ctx, `
			INSERT INTO transaction_types (code, description, nature, sign)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (code)
			DO UPDATE SET description = EXCLUDED.description,
			              nature = EXCLUDED.nature,
			              sign = EXCLUDED.sign`,
			t.Code, t.Description, t.Nature, t.Sign,
		)
		if err != nil {
			return fmt.Errorf("seed type %d: %w", t.Code, err)
		}
	}
	return nil
}
