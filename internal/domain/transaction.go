package domain

import "time"

// Store is a receiving/paying entity referenced by transactions. The pair
// (OwnerName, Name) uniquely identifies a store; re-uploads upsert metadata
// rather than creating duplicates. Balance is never stored, always derived.
type Store struct {
	ID        int64
	OwnerName string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionNature classifies a transaction type as money in or money out.
type TransactionNature string

const (
	NatureIncome  TransactionNature = "income"
	NatureExpense TransactionNature = "expense"
)

// TransactionType is seeded reference data for CNAB type codes 1-9. The Sign
// carried here is authoritative for balance computation; it is never
// hard-coded elsewhere.
type TransactionType struct {
	Code        int
	Description string
	Nature      TransactionNature
	Sign        int // +1 or -1
}

// Transaction is one parsed, validated CNAB line. AmountCents is always
// strictly positive; the sign of its type is applied only when a balance is
// computed. Rows exist only inside a committed file batch.
type Transaction struct {
	ID          int64
	FileID      string
	StoreID     int64
	TypeCode    int
	AmountCents int64
	Date        time.Time
	TimeOfDay   time.Duration
	TaxID       string
	Card        string
	CreatedAt   time.Time
}

// FileProcessingAttempt is the audit record of one processing try. Rows are
// appended, never updated.
type FileProcessingAttempt struct {
	ID           int64
	FileID       string
	Number       int
	Status       FileStatus
	ErrorMessage string
	MessageID    string
	InvocationID string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Duration     time.Duration
}

// NotificationAttempt tracks delivery of a processing outcome to the
// uploader. The delivery subsystem itself is an external collaborator; this
// record is only a sink for outcomes.
type NotificationAttempt struct {
	ID            int64
	FileID        string
	Type          string
	Recipient     string
	Status        string
	AttemptCount  int
	LastAttemptAt time.Time
}
