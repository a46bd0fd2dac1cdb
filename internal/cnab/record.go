// Package cnab decodes and validates the fixed-width 80-column CNAB
// transaction format. Malformed input is a normal, expected outcome and is
// represented as typed error values, never as panics.
package cnab

import (
	"fmt"
	"strings"
	"time"
)

// LineLength is the exact byte length of one CNAB record.
const LineLength = 80

// Field offsets, 0-based half-open byte ranges per the interface layout
// (1-based inclusive columns in the format document).
const (
	typeStart  = 0  // col 1
	typeEnd    = 1  //
	dateStart  = 1  // cols 2-9, YYYYMMDD
	dateEnd    = 9  //
	amtStart   = 9  // cols 10-19, minor units
	amtEnd     = 19 //
	taxStart   = 19 // cols 20-30, 11 digits
	taxEnd     = 30 //
	cardStart  = 30 // cols 31-42, alphanumeric
	cardEnd    = 42 //
	timeStart  = 42 // cols 43-48, HHMMSS
	timeEnd    = 48 //
	ownerStart = 48 // cols 49-62, space-padded text
	ownerEnd   = 62 //
	storeStart = 62 // cols 63-80, space-padded text
	storeEnd   = 80 //
)

// Field names used in parse and validation errors.
const (
	FieldType   = "type"
	FieldDate   = "date"
	FieldAmount = "amount"
	FieldTaxID  = "tax_id"
	FieldCard   = "card"
	FieldTime   = "time"
	FieldOwner  = "owner_name"
	FieldStore  = "store_name"
)

// Record is one decoded CNAB line. Raw field slices are preserved verbatim
// (padding included) so that Encode reproduces the source line byte for
// byte; trimmed accessors serve business use.
type Record struct {
	Line int // 1-based line number in the source file

	TypeCode    int
	AmountCents int64

	rawType   string
	rawDate   string
	rawAmount string
	rawTaxID  string
	rawCard   string
	rawTime   string
	rawOwner  string
	rawStore  string
}

// Encode re-assembles the original 80-byte line from the verbatim field
// slices.
func (r Record) Encode() string {
	return r.rawType + r.rawDate + r.rawAmount + r.rawTaxID +
		r.rawCard + r.rawTime + r.rawOwner + r.rawStore
}

// TaxID returns the recipient tax id digits.
func (r Record) TaxID() string { return r.rawTaxID }

// Card returns the card identifier verbatim.
func (r Record) Card() string { return r.rawCard }

// OwnerName returns the store owner name with the fixed-field padding
// trimmed.
func (r Record) OwnerName() string { return strings.TrimSpace(r.rawOwner) }

// StoreName returns the store display name with the fixed-field padding
// trimmed.
func (r Record) StoreName() string { return strings.TrimSpace(r.rawStore) }

// RawDate returns the YYYYMMDD date field verbatim.
func (r Record) RawDate() string { return r.rawDate }

// RawTime returns the HHMMSS time field verbatim.
func (r Record) RawTime() string { return r.rawTime }

// ValidRecord is a Record that passed business validation, carrying the
// decoded calendar date and time of day.
type ValidRecord struct {
	Record

	Date      time.Time     // calendar date, midnight UTC
	TimeOfDay time.Duration // offset since midnight
}

// ParseError reports a malformed line. Field is empty for whole-line
// failures such as a bad length.
type ParseError struct {
	Line   int
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: field %s: %s", e.Line, e.Field, e.Reason)
}

// ValidationError reports a well-formed line that violates a business rule.
type ValidationError struct {
	Line   int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: field %s: %s", e.Line, e.Field, e.Reason)
}
