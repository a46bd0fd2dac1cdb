package postgres

import (
	"context"
	"fmt"

	"github.com/dvloznov/cnab-ingest/internal/domain"
)

// StoreBalance is one store's derived balance over a file's transactions.
type StoreBalance struct {
	StoreID      int64  `json:"store_id"`
	OwnerName    string `json:"owner_name"`
	StoreName    string `json:"store_name"`
	BalanceCents int64  `json:"balance_cents"`
	Transactions int    `json:"transactions"`
}

// FileStoreBalances loads a file's transactions with their resolved types
// and derives one signed balance per store. Balances are always computed on
// demand, never stored.
func (s *Store) FileStoreBalances(ctx context.Context, fileID string) ([]StoreBalance, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.store_id, st.owner_name, st.name,
		       t.type_code, t.amount_cents,
		       ty.description, ty.nature, ty.sign
		FROM transactions t
		JOIN stores st ON st.id = t.store_id
		JOIN transaction_types ty ON ty.code = t.type_code
		WHERE t.file_id = $1
		ORDER BY t.store_id, t.id`, fileID)
	if err != nil {
		return nil, classify("query file transactions", err)
	}
	defer rows.Close()

	type group struct {
		balance StoreBalance
		txs     []domain.ResolvedTransaction
	}
	var order []int64
	groups := make(map[int64]*group)

	for rows.Next() {
		var (
			storeID      int64
			owner, name  string
			tx           domain.Transaction
			resolvedType domain.TransactionType
		)
		if err := rows.Scan(&storeID, &owner, &name,
			&tx.TypeCode, &tx.AmountCents,
			&resolvedType.Description, &resolvedType.Nature, &resolvedType.Sign); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		resolvedType.Code = tx.TypeCode
		tx.StoreID = storeID
		tx.FileID = fileID

		g, ok := groups[storeID]
		if !ok {
			g = &group{balance: StoreBalance{StoreID: storeID, OwnerName: owner, StoreName: name}}
			groups[storeID] = g
			order = append(order, storeID)
		}
		g.txs = append(g.txs, domain.ResolvedTransaction{Transaction: tx, Type: resolvedType})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balances := make([]StoreBalance, 0, len(order))
	for _, id := range order {
		g := groups[id]
		total, err := domain.CalculateBalance(g.txs)
		if err != nil {
			return nil, fmt.Errorf("store %d: %w", id, err)
		}
		g.balance.BalanceCents = total
		g.balance.Transactions = len(g.txs)
		balances = append(balances, g.balance)
	}
	return balances, nil
}

// RecordNotificationAttempt appends one outcome-notification attempt for a
// file. Delivery itself belongs to an external collaborator; this is only
// the audit sink.
func (s *Store) RecordNotificationAttempt(ctx context.Context, n *domain.NotificationAttempt) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO notification_attempts
			(file_id, notification_type, recipient, status, attempt_count, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		n.FileID, n.Type, n.Recipient, n.Status, n.AttemptCount, n.LastAttemptAt,
	).Scan(&n.ID)
	if err != nil {
		return classify("record notification attempt", err)
	}
	return nil
}

// TransactionCount returns how many transactions a file committed. Zero for
// rejected or unprocessed files by construction.
func (s *Store) TransactionCount(ctx context.Context, fileID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE file_id = $1`, fileID).Scan(&n)
	if err != nil {
		return 0, classify("count transactions", err)
	}
	return n, nil
}
