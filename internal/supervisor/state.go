package supervisor

// State is the supervisor's connection state. It is mutated only by the
// supervisor's own loop; the indicator output is a pure function of it
// (Connected means steady-on, everything else off) except for the
// transient blink on a matched event.
type State int

const (
	// StateDisconnected means no live connection; a reconnect is pending.
	StateDisconnected State = iota
	// StateConnecting means a connection attempt is in flight.
	StateConnecting
	// StateConnected means the transport is live and the pipeline is
	// processing.
	StateConnected
	// StateDegraded means an auth or other recoverable failure is being
	// waited out; the loop keeps ticking.
	StateDegraded
	// StateShuttingDown means cancellation was observed and the loop is
	// winding down.
	StateShuttingDown
	// StateFailed is terminal: an unrecoverable failure was classified as
	// fatal and the process must stop with a non-zero status.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting-down"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
