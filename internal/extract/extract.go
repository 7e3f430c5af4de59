// Package extract turns raw notification text into structured transaction
// events using a single fixed pattern.
package extract

import (
	"fmt"
	"regexp"

	"ghoshika/internal/model"
)

// DefaultPattern matches the bank's credit-alert phrase. Group 1 is the
// amount (digits with optional thousands separators and up to two decimal
// digits), group 2 the DD/MM/YYYY date, group 3 the HH:MM time.
const DefaultPattern = `(?i)has been credited with INR\s*([0-9,]+\.?[0-9]{0,2})\s+on\s+(\d{2}/\d{2}/\d{4})\s+(\d{2}:\d{2})`

// Extractor applies the alert pattern to candidate text. It is stateless
// beyond the pre-compiled expression and safe for reuse.
type Extractor struct {
	re *regexp.Regexp
}

// New compiles the given pattern. The pattern must capture exactly three
// groups: amount, date and time.
func New(pattern string) (*Extractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction pattern: %w", err)
	}
	if re.NumSubexp() != 3 {
		return nil, fmt.Errorf("extraction pattern must capture amount, date and time, got %d groups", re.NumSubexp())
	}
	return &Extractor{re: re}, nil
}

// MustDefault returns an extractor for DefaultPattern.
func MustDefault() *Extractor {
	e, err := New(DefaultPattern)
	if err != nil {
		panic(err)
	}
	return e
}

// Extract scans text for the alert phrase. The leftmost match wins.
// Captured groups are returned verbatim; normalization for speech is the
// sink's concern. Returns false on any text that does not match, including
// empty input, and never panics.
func (e *Extractor) Extract(text string) (model.TransactionEvent, bool) {
	m := e.re.FindStringSubmatch(text)
	if m == nil {
		return model.TransactionEvent{}, false
	}
	return model.TransactionEvent{
		Amount: m[1],
		Date:   m[2],
		Time:   m[3],
	}, true
}
