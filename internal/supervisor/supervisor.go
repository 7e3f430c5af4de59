// Package supervisor implements the resilient notification pipeline: one
// loop per transport variant that owns the failure/recovery state machine,
// drives extract -> announce -> acknowledge for each candidate text, and
// survives transport and credential failures without operator
// intervention.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ghoshika/internal/announce"
	"ghoshika/internal/auth"
	"ghoshika/internal/common"
	"ghoshika/internal/extract"
	"ghoshika/internal/source"
)

// CredentialKeeper is the supervisor's view of the credential provider,
// consulted only by the polling variant.
type CredentialKeeper interface {
	State() auth.State
	CanRefresh() bool
	Refresh(ctx context.Context) error
	Invalidate()
}

// Config holds the supervisor's timing knobs.
type Config struct {
	// PollInterval is the polling transport's tick.
	PollInterval time.Duration
	// RefreshInterval is the proactive credential refresh cadence.
	RefreshInterval time.Duration
	// Backoff is the single retry policy for all failure classes.
	Backoff common.Backoff
	// Blink settings for the on-event indicator sequence.
	BlinkCount int
	BlinkOn    time.Duration
	BlinkOff   time.Duration
}

// DefaultConfig returns the nominal timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:    10 * time.Second,
		RefreshInterval: time.Hour,
		Backoff:         common.DefaultBackoff(),
		BlinkCount:      3,
		BlinkOn:         150 * time.Millisecond,
		BlinkOff:        150 * time.Millisecond,
	}
}

// Supervisor owns one transport source and the notification sink. Exactly
// one pipeline iteration is in flight at a time; state is never shared
// across concurrent mutators.
type Supervisor struct {
	extractor *extract.Extractor
	sink      announce.Sink
	cfg       Config
	state     State
}

// New creates a supervisor. The zero state is Disconnected.
func New(extractor *extract.Extractor, sink announce.Sink, cfg Config) *Supervisor {
	return &Supervisor{
		extractor: extractor,
		sink:      sink,
		cfg:       cfg,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return s.state
}

// RunStream drives the streaming transport: connect, iterate the yielded
// sequence, and on any stream end apply backoff and reconnect. Returns nil
// on cancellation; the transport never retries internally.
func (s *Supervisor) RunStream(ctx context.Context, connector source.Connector) error {
	defer s.shutdown()

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateConnecting)
		stream, err := connector.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.setState(StateDisconnected)
			delay := s.cfg.Backoff.For(err)
			slog.Warn("Connection failed, retrying", "error", err, "backoff", delay)
			if common.Sleep(ctx, delay) != nil {
				return nil
			}
			continue
		}

		s.setState(StateConnected)
		var streamErr error
		for {
			body, nextErr := stream.Next(ctx)
			if nextErr != nil {
				streamErr = nextErr
				break
			}
			s.handle(ctx, body)
		}
		_ = stream.Close()

		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateDisconnected)
		delay := s.cfg.Backoff.For(streamErr)
		slog.Warn("Stream ended, reconnecting", "error", streamErr, "backoff", delay)
		if common.Sleep(ctx, delay) != nil {
			return nil
		}
	}
}

// RunPoll drives the polling transport on a fixed tick, with an
// independent, much slower proactive credential refresh. Invalid
// credentials degrade the loop to idle ticking rather than crashing it;
// only failures classified as fatal end the loop with an error.
func (s *Supervisor) RunPoll(ctx context.Context, poller source.Poller, creds CredentialKeeper) error {
	defer s.shutdown()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	refresh := time.NewTicker(s.cfg.RefreshInterval)
	defer refresh.Stop()

	// Poll immediately, then on the tick.
	if err := s.pollOnce(ctx, poller, creds); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			s.scheduledRefresh(ctx, poller, creds)
		case <-ticker.C:
			if err := s.pollOnce(ctx, poller, creds); err != nil {
				return err
			}
		}
	}
}

// pollOnce runs one tick: re-acquire credentials if they are known
// invalid, then poll and run the pipeline over every yielded item. A
// non-nil return means a fatal failure.
func (s *Supervisor) pollOnce(ctx context.Context, poller source.Poller, creds CredentialKeeper) error {
	if creds.State() == auth.StateInvalid {
		if !creds.CanRefresh() {
			s.setState(StateDegraded)
			slog.Warn("Credentials invalid with no refresh token; idling until the token file is replaced out-of-band (run: ghoshika auth)")
			return nil
		}
		if err := creds.Refresh(ctx); err != nil {
			s.setState(StateDegraded)
			slog.Warn("Credential re-acquisition failed; will retry next tick", "error", err)
			return nil
		}
		if err := poller.Rebuild(ctx); err != nil {
			s.setState(StateDegraded)
			slog.Warn("Failed to rebuild transport after refresh", "error", err)
			return nil
		}
		slog.Info("Credentials re-acquired")
	}

	items, err := poller.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		switch common.Classify(err) {
		case common.FailureAuth:
			creds.Invalidate()
			s.setState(StateDegraded)
			slog.Warn("Transport reported authorization failure", "error", err)
		case common.FailureFatal:
			s.setState(StateFailed)
			return fmt.Errorf("fatal transport failure: %w", err)
		default:
			slog.Warn("Poll failed, retrying on next tick", "error", err)
		}
		return nil
	}

	s.setState(StateConnected)
	for _, n := range items {
		s.handle(ctx, n.Body)
		if n.Ack != nil {
			if ackErr := n.Ack(ctx); ackErr != nil {
				slog.Warn("Failed to acknowledge notification", "error", ackErr)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// scheduledRefresh proactively refreshes credentials while they are still
// good, so the access token never lapses mid-poll. Failure marks them
// suspect; the next tick's validity check handles re-acquisition.
func (s *Supervisor) scheduledRefresh(ctx context.Context, poller source.Poller, creds CredentialKeeper) {
	if !creds.CanRefresh() {
		slog.Info("No refresh token available; skipping scheduled refresh")
		return
	}
	if err := creds.Refresh(ctx); err != nil {
		slog.Warn("Scheduled credential refresh failed; next tick will re-acquire", "error", err)
		return
	}
	if err := poller.Rebuild(ctx); err != nil {
		slog.Warn("Failed to rebuild transport with refreshed credentials", "error", err)
		return
	}
	slog.Info("Credentials refreshed on schedule")
}

// handle runs one pipeline iteration: extract, then the side effects in
// order (log, blink, speak). Non-matches are silently ignored; side-effect
// failures are logged and never abort the loop or skip acknowledgment.
func (s *Supervisor) handle(ctx context.Context, body string) {
	ev, ok := s.extractor.Extract(body)
	if !ok {
		return
	}

	slog.Info("Transaction alert", "amount", ev.Amount, "date", ev.Date, "time", ev.Time)

	if err := s.sink.Blink(ctx, s.cfg.BlinkCount, s.cfg.BlinkOn, s.cfg.BlinkOff); err != nil {
		slog.Warn("Indicator blink failed", "error", err)
	}
	phrase := fmt.Sprintf("Rupees %s received.", ev.SpokenAmount())
	if err := s.sink.Announce(ctx, phrase); err != nil {
		slog.Warn("Announcement failed", "error", err)
	}
}

func (s *Supervisor) shutdown() {
	if s.state == StateFailed {
		// Terminal state is kept; only the indicator goes dark.
		if err := s.sink.SetIndicator(false); err != nil {
			slog.Warn("Failed to turn indicator off", "error", err)
		}
		return
	}
	s.setState(StateShuttingDown)
}

// setState records a transition and drives the indicator from it.
func (s *Supervisor) setState(st State) {
	if st == s.state {
		return
	}
	s.state = st
	slog.Debug("Connection state changed", "state", st)

	if err := s.sink.SetIndicator(st == StateConnected); err != nil {
		slog.Warn("Failed to drive indicator", "state", st, "error", err)
	}
}
