package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dvloznov/cnab-ingest/internal/cnab"
)

// txBeginner opens a transaction; satisfied by pgxpool.Pool.
type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// SaveFileBatch persists the full set of validated records for one file
// under the all-or-nothing contract: inside a single transaction it upserts
// every distinct (owner_name, name) store, bulk-inserts all transactions,
// and commits. Any failure rolls the whole batch back, so a partially
// processed file is never visible.
//
// Failures are classified as *ProcessingError (retryable); terminal-state
// decisions belong to the coordinator.
func (s *Store) SaveFileBatch(ctx context.Context, fileID string, records []cnab.ValidRecord, now time.Time) error {
	return saveFileBatch(ctx, s.db, fileID, records, now)
}

func saveFileBatch(ctx context.Context, db txBeginner, fileID string, records []cnab.ValidRecord, now time.Time) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin batch tx", err)
	}
	defer tx.Rollback(ctx)

	// A worker that committed the batch but crashed before marking the file
	// terminal leaves the item redeliverable. Clearing the file's rows first
	// makes re-running the batch safe without breaking all-or-nothing.
	if _, err := tx.Exec(ctx, `DELETE FROM transactions WHERE file_id = $1`, fileID); err != nil {
		return classify("clear prior batch", err)
	}

	storeIDs, err := upsertStores(ctx, tx, records, now)
	if err != nil {
		return err
	}

	rows := make([][]interface{}, 0, len(records))
	for _, r := range records {
		key := storeKey{owner: r.OwnerName(), name: r.StoreName()}
		rows = append(rows, []interface{}{
			fileID,
			storeIDs[key],
			r.TypeCode,
			r.AmountCents,
			r.Date,
			pgtype.Time{Microseconds: r.TimeOfDay.Microseconds(), Valid: true},
			r.TaxID(),
			r.Card(),
			now,
		})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"transactions"},
		[]string{"file_id", "store_id", "type_code", "amount_cents", "event_date", "event_time", "tax_id", "card", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return classify("bulk insert transactions", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit batch tx", err)
	}
	return nil
}

type storeKey struct {
	owner string
	name  string
}

// upsertStores resolves or creates each distinct store referenced by the
// batch. The upsert is keyed on the database-level uniqueness constraint on
// (owner_name, name); a re-upload refreshes updated_at without creating a
// duplicate.
func upsertStores(ctx context.Context, tx pgx.Tx, records []cnab.ValidRecord, now time.Time) (map[storeKey]int64, error) {
	ids := make(map[storeKey]int64)
	for _, r := range records {
		key := storeKey{owner: r.OwnerName(), name: r.StoreName()}
		if _, seen := ids[key]; seen {
			continue
		}

		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO stores (owner_name, name, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (owner_name, name)
			DO UPDATE SET updated_at = EXCLUDED.updated_at
			RETURNING id`,
			key.owner, key.name, now,
		).Scan(&id)
		if err != nil {
			return nil, classify("upsert store", err)
		}
		ids[key] = id
	}
	return ids, nil
}
