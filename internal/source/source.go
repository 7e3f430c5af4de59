// Package source defines the transport-agnostic contracts between the
// supervisor and the two notification transports. Both variants surface
// raw candidate text; reconnection and backoff policy stay with the
// supervisor.
package source

import "context"

// Notification is one raw candidate text plus its transport-specific
// acknowledgment. Ack may be nil when the transport has no per-item
// acknowledgment (the streaming variant).
type Notification struct {
	Body string
	Ack  func(ctx context.Context) error
}

// Poller is the polling transport variant. The supervisor drives the
// cadence; one Poll call returns everything currently pending.
type Poller interface {
	// Poll lists pending items and returns their bodies. Errors are
	// classified by common.Classify: auth failures degrade the
	// supervisor, everything else is retried on the next tick.
	Poll(ctx context.Context) ([]Notification, error)
	// Rebuild reconstructs the transport client, picking up refreshed
	// credentials.
	Rebuild(ctx context.Context) error
}

// Stream is one live connection yielding raw candidate text until it
// drops or the context is canceled.
type Stream interface {
	// Next blocks for the next candidate text. It returns an error when
	// the connection ends for any reason; it never retries internally.
	Next(ctx context.Context) (string, error)
	Close() error
}

// Connector is the streaming transport variant.
type Connector interface {
	Connect(ctx context.Context) (Stream, error)
}
