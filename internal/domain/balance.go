package domain

import "fmt"

// ResolvedTransaction pairs a transaction with its already-resolved type.
// The pairing is enforced by construction: balance computation accepts only
// this shape, so an unresolved type cannot reach it silently.
type ResolvedTransaction struct {
	Transaction Transaction
	Type        TransactionType
}

// CalculateBalance derives a store's signed balance in minor units from a
// transaction set: sum of amount * sign(type). Pure function, no side
// effects; used for on-demand reporting, never cached.
//
// A type whose sign is not +1/-1 indicates a caller bug (the type was not
// loaded from the seeded table) and returns an error.
func CalculateBalance(txs []ResolvedTransaction) (int64, error) {
	var total int64
	for i, rt := range txs {
		if rt.Type.Sign != 1 && rt.Type.Sign != -1 {
			return 0, fmt.Errorf("transaction %d: type %d has unresolved sign %d",
				i, rt.Transaction.TypeCode, rt.Type.Sign)
		}
		if rt.Type.Code != rt.Transaction.TypeCode {
			return 0, fmt.Errorf("transaction %d: resolved type %d does not match transaction type %d",
				i, rt.Type.Code, rt.Transaction.TypeCode)
		}
		total += rt.Transaction.AmountCents * int64(rt.Type.Sign)
	}
	return total, nil
}
