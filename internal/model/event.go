// Package model defines the domain types shared across the application.
package model

import (
	"fmt"
	"strings"
)

// TransactionEvent is one credit alert extracted from a notification body.
// Fields hold the captured groups verbatim; constructible only through
// extraction, never partially populated.
type TransactionEvent struct {
	Amount string // decimal string exactly as captured, e.g. "1,234.56"
	Date   string // DD/MM/YYYY as captured
	Time   string // HH:MM as captured
}

// SpokenAmount returns the amount formatted for speech: thousands
// separators stripped and a whole-rupee ".00" suffix dropped. Both
// transports share this one normalization rule.
func (e TransactionEvent) SpokenAmount() string {
	s := strings.ReplaceAll(e.Amount, ",", "")
	return strings.TrimSuffix(s, ".00")
}

func (e TransactionEvent) String() string {
	return fmt.Sprintf("credited INR %s on %s at %s", e.Amount, e.Date, e.Time)
}
