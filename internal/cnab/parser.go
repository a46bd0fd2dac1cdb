package cnab

import (
	"fmt"
	"strconv"
)

// ParseLine decodes one fixed-width CNAB line. number is the 1-based line
// number used in error reporting. Whitespace inside fixed fields is
// preserved verbatim; numeric fields must contain only digits.
func ParseLine(line string, number int) (Record, error) {
	if len(line) != LineLength {
		return Record{}, &ParseError{
			Line:   number,
			Reason: fmt.Sprintf("expected %d characters, got %d", LineLength, len(line)),
		}
	}

	r := Record{
		Line:      number,
		rawType:   line[typeStart:typeEnd],
		rawDate:   line[dateStart:dateEnd],
		rawAmount: line[amtStart:amtEnd],
		rawTaxID:  line[taxStart:taxEnd],
		rawCard:   line[cardStart:cardEnd],
		rawTime:   line[timeStart:timeEnd],
		rawOwner:  line[ownerStart:ownerEnd],
		rawStore:  line[storeStart:storeEnd],
	}

	typeCode, err := parseDigits(r.rawType, FieldType, number)
	if err != nil {
		return Record{}, err
	}
	r.TypeCode = int(typeCode)

	if _, err := parseDigits(r.rawDate, FieldDate, number); err != nil {
		return Record{}, err
	}

	amount, err := parseDigits(r.rawAmount, FieldAmount, number)
	if err != nil {
		return Record{}, err
	}
	r.AmountCents = amount

	if _, err := parseDigits(r.rawTaxID, FieldTaxID, number); err != nil {
		return Record{}, err
	}

	if _, err := parseDigits(r.rawTime, FieldTime, number); err != nil {
		return Record{}, err
	}

	return r, nil
}

// parseDigits decodes a fixed numeric field, rejecting anything that is not
// an ASCII digit. strconv would accept signs and underscores we must not.
func parseDigits(raw, field string, line int) (int64, error) {
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, &ParseError{
				Line:   line,
				Field:  field,
				Reason: fmt.Sprintf("non-numeric character %q", c),
			}
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ParseError{Line: line, Field: field, Reason: err.Error()}
	}
	return v, nil
}
