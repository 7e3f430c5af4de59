// Package announce implements the best-effort output side effects: spoken
// audio and the visual indicator. Failures here are reported to the caller
// but must never abort the notification pipeline.
package announce

import (
	"context"
	"time"

	"ghoshika/internal/common"
)

// Sink is the pair of output side effects driven by the supervisor.
type Sink interface {
	// Announce renders and plays the given phrase.
	Announce(ctx context.Context, text string) error
	// SetIndicator turns the steady indicator on or off.
	SetIndicator(on bool) error
	// Blink runs n on/off cycles and leaves the indicator steady-on.
	Blink(ctx context.Context, n int, onFor, offFor time.Duration) error
	// Close releases the indicator resource, leaving it off.
	Close() error
}

// Speaker renders a phrase to audio and plays it.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Indicator drives the physical light.
type Indicator interface {
	Set(on bool) error
	Close() error
}

// Notifier composes a Speaker and an Indicator into a Sink.
type Notifier struct {
	speaker   Speaker
	indicator Indicator
}

// NewNotifier builds the single Sink implementation.
func NewNotifier(speaker Speaker, indicator Indicator) *Notifier {
	return &Notifier{speaker: speaker, indicator: indicator}
}

// Announce implements Sink.
func (n *Notifier) Announce(ctx context.Context, text string) error {
	return n.speaker.Speak(ctx, text)
}

// SetIndicator implements Sink.
func (n *Notifier) SetIndicator(on bool) error {
	return n.indicator.Set(on)
}

// Blink implements Sink. The sequence ends steady-on: the blink only runs
// while a connection is live, so on is the state to restore.
func (n *Notifier) Blink(ctx context.Context, times int, onFor, offFor time.Duration) error {
	for i := 0; i < times; i++ {
		if err := n.indicator.Set(true); err != nil {
			return err
		}
		if err := common.Sleep(ctx, onFor); err != nil {
			return err
		}
		if err := n.indicator.Set(false); err != nil {
			return err
		}
		if err := common.Sleep(ctx, offFor); err != nil {
			return err
		}
	}
	return n.indicator.Set(true)
}

// Close implements Sink.
func (n *Notifier) Close() error {
	return n.indicator.Close()
}
