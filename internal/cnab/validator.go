package cnab

import (
	"fmt"
	"strings"
	"time"
)

// Validate enforces domain invariants on a parsed record: the type code is
// 1-9, the amount is strictly positive, the date is a real calendar date and
// the time a real time of day. Validation is pure and carries no cross-line
// state.
func Validate(r Record) (ValidRecord, error) {
	if r.TypeCode < 1 || r.TypeCode > 9 {
		return ValidRecord{}, &ValidationError{
			Line:   r.Line,
			Field:  FieldType,
			Reason: fmt.Sprintf("type code %d outside range 1-9", r.TypeCode),
		}
	}

	if r.AmountCents <= 0 {
		return ValidRecord{}, &ValidationError{
			Line:   r.Line,
			Field:  FieldAmount,
			Reason: fmt.Sprintf("amount must be positive, got %d", r.AmountCents),
		}
	}

	date, err := time.Parse("20060102", r.rawDate)
	if err != nil {
		return ValidRecord{}, &ValidationError{
			Line:   r.Line,
			Field:  FieldDate,
			Reason: fmt.Sprintf("%q is not a valid calendar date", r.rawDate),
		}
	}

	tod, err := parseTimeOfDay(r.rawTime)
	if err != nil {
		return ValidRecord{}, &ValidationError{
			Line:   r.Line,
			Field:  FieldTime,
			Reason: err.Error(),
		}
	}

	return ValidRecord{Record: r, Date: date.UTC(), TimeOfDay: tod}, nil
}

func parseTimeOfDay(raw string) (time.Duration, error) {
	// raw is known to be six digits by the time validation runs.
	h := decode2(raw[0:2])
	m := decode2(raw[2:4])
	s := decode2(raw[4:6])
	if h > 23 || m > 59 || s > 59 {
		return 0, fmt.Errorf("%q is not a valid time of day", raw)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, nil
}

func decode2(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}

// ParseFile runs the parser and validator over every line of a CNAB file and
// returns the full set of valid records. It short-circuits on the first
// failing line: the returned error names that line and reason only, keeping
// the rejection message bounded.
//
// Records are fully parsed and validated before any caller writes anything;
// a file is good in full or rejected in full.
func ParseFile(data []byte) ([]ValidRecord, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	records := make([]ValidRecord, 0, len(lines))
	for i, line := range lines {
		if line == "" && i == len(lines)-1 {
			continue // empty segment after the trailing newline
		}
		number := i + 1

		rec, err := ParseLine(line, number)
		if err != nil {
			return nil, err
		}
		valid, err := Validate(rec)
		if err != nil {
			return nil, err
		}
		records = append(records, valid)
	}

	if len(records) == 0 {
		return nil, &ParseError{Line: 0, Reason: "file contains no records"}
	}
	return records, nil
}
