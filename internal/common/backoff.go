package common

import (
	"context"
	"time"
)

// Backoff is the single retry policy applied by the supervisor. Delays are
// keyed by failure classification rather than sprinkled per error site.
type Backoff struct {
	// Reconnect is the nominal delay before retrying a dropped or failed
	// connection.
	Reconnect time.Duration
	// DNS is the widened delay used when the failure was a name
	// resolution error, which tends to outlast a single reconnect window.
	DNS time.Duration
	// Degraded is the delay between re-acquisition attempts while the
	// supervisor sits in a degraded state.
	Degraded time.Duration
}

// DefaultBackoff returns the nominal policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Reconnect: 5 * time.Second,
		DNS:       10 * time.Second,
		Degraded:  30 * time.Second,
	}
}

// For returns the delay appropriate for the given failure.
func (b Backoff) For(err error) time.Duration {
	if IsDNSFailure(err) {
		return b.DNS
	}
	if Classify(err) == FailureAuth {
		return b.Degraded
	}
	return b.Reconnect
}

// Sleep waits for d or until ctx is canceled, returning the context error
// in the latter case. All supervisor waits go through here so cancellation
// mid-backoff unblocks within one tick.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
