package domain

// SeedTransactionTypes returns the canonical type-sign table for CNAB type
// codes 1-9. Codes 1,4,5,6,7,8 are income (+1); codes 2,3,9 are expense (-1).
//
// NOTE: upstream format documents disagree on whether 2,3,9 are credits or
// debits. The mapping below follows the interface table shipped with the
// format and is the single source of truth; changing it means reseeding
// transaction_types, not touching code.
func SeedTransactionTypes() []TransactionType {
	return []TransactionType{
		{Code: 1, Description: "Debit", Nature: NatureIncome, Sign: +1},
		{Code: 2, Description: "Billet", Nature: NatureExpense, Sign: -1},
		{Code: 3, Description: "Financing", Nature: NatureExpense, Sign: -1},
		{Code: 4, Description: "Credit", Nature: NatureIncome, Sign: +1},
		{Code: 5, Description: "Loan receipt", Nature: NatureIncome, Sign: +1},
		{Code: 6, Description: "Sales", Nature: NatureIncome, Sign: +1},
		{Code: 7, Description: "TED receipt", Nature: NatureIncome, Sign: +1},
		{Code: 8, Description: "DOC receipt", Nature: NatureIncome, Sign: +1},
		{Code: 9, Description: "Rent", Nature: NatureExpense, Sign: -1},
	}
}
