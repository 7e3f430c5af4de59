package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghoshika/internal/auth"
	"ghoshika/internal/common"
	"ghoshika/internal/extract"
	"ghoshika/internal/source"
)

func alertText(amount string) string {
	return fmt.Sprintf("Your account has been credited with INR %s on 05/03/2024 14:30.", amount)
}

// recorder collects the ordered side effects of a run; safe for use from
// the supervisor goroutine and the test goroutine.
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
	return out
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, op := range r.snapshot() {
		if len(op) >= len(prefix) && op[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type fakeSink struct {
	rec         *recorder
	announceErr error
	blinkErr    error
}

func (s *fakeSink) Announce(_ context.Context, text string) error {
	s.rec.add("announce:" + text)
	return s.announceErr
}

func (s *fakeSink) SetIndicator(on bool) error {
	if on {
		s.rec.add("indicator:on")
	} else {
		s.rec.add("indicator:off")
	}
	return nil
}

func (s *fakeSink) Blink(context.Context, int, time.Duration, time.Duration) error {
	s.rec.add("blink")
	return s.blinkErr
}

func (s *fakeSink) Close() error {
	s.rec.add("close")
	return nil
}

type pollStep struct {
	err   error
	items []source.Notification
}

type fakePoller struct {
	mu       sync.Mutex
	steps    []pollStep
	idx      int
	polls    int
	rebuilds int
}

func (p *fakePoller) Poll(context.Context) ([]source.Notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.idx >= len(p.steps) {
		return nil, nil
	}
	step := p.steps[p.idx]
	p.idx++
	return step.items, step.err
}

func (p *fakePoller) Rebuild(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebuilds++
	return nil
}

func (p *fakePoller) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

type fakeCreds struct {
	mu          sync.Mutex
	state       auth.State
	canRefresh  bool
	refreshErr  error
	refreshes   int
	invalidated int
}

func (c *fakeCreds) State() auth.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeCreds) CanRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canRefresh
}

func (c *fakeCreds) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	if c.refreshErr != nil {
		return c.refreshErr
	}
	c.state = auth.StateValid
	return nil
}

func (c *fakeCreds) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	c.state = auth.StateInvalid
}

type fakeStream struct {
	bodies []string
	idx    int
}

func (s *fakeStream) Next(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if s.idx < len(s.bodies) {
		body := s.bodies[s.idx]
		s.idx++
		return body, nil
	}
	return "", errors.New("connection closed by server")
}

func (s *fakeStream) Close() error { return nil }

type fakeConnector struct {
	mu       sync.Mutex
	streams  []*fakeStream
	connects int
}

func (c *fakeConnector) Connect(context.Context) (source.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connects <= len(c.streams) {
		return c.streams[c.connects-1], nil
	}
	return nil, errors.New("connection refused")
}

func (c *fakeConnector) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func testConfig() Config {
	return Config{
		PollInterval:    5 * time.Millisecond,
		RefreshInterval: time.Hour,
		Backoff: common.Backoff{
			Reconnect: 5 * time.Millisecond,
			DNS:       10 * time.Millisecond,
			Degraded:  10 * time.Millisecond,
		},
		BlinkCount: 3,
		BlinkOn:    time.Millisecond,
		BlinkOff:   time.Millisecond,
	}
}

func newTestSupervisor(rec *recorder) (*Supervisor, *fakeSink) {
	sink := &fakeSink{rec: rec}
	return New(extract.MustDefault(), sink, testConfig()), sink
}

func TestPollOnce_ProcessesInOrderAndSurvivesTransientError(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestSupervisor(rec)

	ack := func(name string) func(context.Context) error {
		return func(context.Context) error {
			rec.add("ack:" + name)
			return nil
		}
	}
	poller := &fakePoller{steps: []pollStep{
		{items: []source.Notification{
			{Body: alertText("10.00"), Ack: ack("A")},
			{Body: alertText("20.00"), Ack: ack("B")},
		}},
		{err: errors.New("rate limited")},
		{items: []source.Notification{
			{Body: alertText("30.00"), Ack: ack("C")},
		}},
	}}
	creds := &fakeCreds{state: auth.StateValid}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.pollOnce(ctx, poller, creds))
	}

	want := []string{
		"indicator:on", // connected on first successful poll
		"announce:Rupees 10 received.",
		"ack:A",
		"announce:Rupees 20 received.",
		"ack:B",
		// transient error tick: no state change, no output
		"announce:Rupees 30 received.",
		"ack:C",
	}
	var got []string
	for _, op := range rec.snapshot() {
		if op != "blink" { // blink ordering checked separately
			got = append(got, op)
		}
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, poller.pollCount())
	assert.Equal(t, StateConnected, s.State())
}

func TestPollOnce_BlinkBeforeAnnounceBeforeAck(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestSupervisor(rec)

	poller := &fakePoller{steps: []pollStep{
		{items: []source.Notification{{
			Body: alertText("1,234.56"),
			Ack: func(context.Context) error {
				rec.add("ack")
				return nil
			},
		}}},
	}}
	creds := &fakeCreds{state: auth.StateValid}

	require.NoError(t, s.pollOnce(context.Background(), poller, creds))

	assert.Equal(t, []string{
		"indicator:on",
		"blink",
		"announce:Rupees 1234.56 received.",
		"ack",
	}, rec.snapshot())
}

func TestPollOnce_SideEffectFailuresNeverSkipAck(t *testing.T) {
	rec := &recorder{}
	sink := &fakeSink{
		rec:         rec,
		announceErr: errors.New("speaker unplugged"),
		blinkErr:    errors.New("gpio busy"),
	}
	s := New(extract.MustDefault(), sink, testConfig())

	acked := 0
	poller := &fakePoller{steps: []pollStep{
		{items: []source.Notification{{
			Body: alertText("50.00"),
			Ack: func(context.Context) error {
				acked++
				return nil
			},
		}}},
	}}

	require.NoError(t, s.pollOnce(context.Background(), poller, &fakeCreds{state: auth.StateValid}))
	assert.Equal(t, 1, acked)
}

func TestPollOnce_NonMatchingBodyIgnored(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestSupervisor(rec)

	poller := &fakePoller{steps: []pollStep{
		{items: []source.Notification{{Body: "Your OTP is 123456"}}},
	}}

	require.NoError(t, s.pollOnce(context.Background(), poller, &fakeCreds{state: auth.StateValid}))
	assert.Zero(t, rec.count("announce:"))
	assert.Zero(t, rec.count("blink"))
}

func TestPollOnce_AuthFailureDegradesAndInvalidates(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestSupervisor(rec)

	poller := &fakePoller{steps: []pollStep{
		{err: fmt.Errorf("%w: 401 unauthorized", common.ErrAuth)},
	}}
	creds := &fakeCreds{state: auth.StateValid}

	require.NoError(t, s.pollOnce(context.Background(), poller, creds))
	assert.Equal(t, 1, creds.invalidated)
	assert.Equal(t, StateDegraded, s.State())
}

func TestPollOnce_InvalidUnrefreshableCredentialsIdle(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestSupervisor(rec)

	poller := &fakePoller{}
	creds := &fakeCreds{state: auth.StateInvalid, canRefresh: false}

	// Several ticks: never crashes, never calls the API.
	for i := 0; i < 5; i++ {
		require.NoError(t, s.pollOnce(context.Background(), poller, creds))
	}
	assert.Zero(t, poller.pollCount())
	assert.Equal(t, StateDegraded, s.State())
	assert.Zero(t, rec.count("indicator:on"))
}

func TestPollOnce_InvalidRefreshableCredentialsRecover(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestSupervisor(rec)

	poller := &fakePoller{}
	creds := &fakeCreds{state: auth.StateInvalid, canRefresh: true}

	require.NoError(t, s.pollOnce(context.Background(), poller, creds))
	assert.Equal(t, 1, creds.refreshes)
	assert.Equal(t, 1, poller.rebuilds)
	assert.Equal(t, 1, poller.pollCount())
	assert.Equal(t, StateConnected, s.State())
}

func TestPollOnce_FatalFailureTerminates(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestSupervisor(rec)

	poller := &fakePoller{steps: []pollStep{
		{err: fmt.Errorf("wrapped: %w", common.ErrMissingConfig)},
	}}

	err := s.pollOnce(context.Background(), poller, &fakeCreds{state: auth.StateValid})
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
}

func TestScheduledRefresh(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestSupervisor(rec)
	poller := &fakePoller{}

	t.Run("refresh and rebuild on success", func(t *testing.T) {
		creds := &fakeCreds{state: auth.StateValid, canRefresh: true}
		s.scheduledRefresh(context.Background(), poller, creds)
		assert.Equal(t, 1, creds.refreshes)
		assert.Equal(t, 1, poller.rebuilds)
	})

	t.Run("no refresh token skips", func(t *testing.T) {
		creds := &fakeCreds{state: auth.StateValid, canRefresh: false}
		s.scheduledRefresh(context.Background(), poller, creds)
		assert.Zero(t, creds.refreshes)
	})

	t.Run("failed refresh does not rebuild", func(t *testing.T) {
		before := poller.rebuilds
		creds := &fakeCreds{state: auth.StateValid, canRefresh: true, refreshErr: errors.New("revoked")}
		s.scheduledRefresh(context.Background(), poller, creds)
		assert.Equal(t, 1, creds.refreshes)
		assert.Equal(t, before, poller.rebuilds)
	})
}

func TestRunPoll_FirstPollIsImmediate(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig()
	cfg.PollInterval = time.Hour // only the immediate poll can fire
	s := New(extract.MustDefault(), &fakeSink{rec: rec}, cfg)

	poller := &fakePoller{steps: []pollStep{
		{items: []source.Notification{{Body: alertText("99.00")}}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunPoll(ctx, poller, &fakeCreds{state: auth.StateValid}) }()

	require.Eventually(t, func() bool {
		return rec.count("announce:") == 1
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, poller.pollCount())
}

func TestRunStream_OneEventThenDisconnectThenReconnect(t *testing.T) {
	rec := &recorder{}
	s, _ := newTestSupervisor(rec)

	connector := &fakeConnector{streams: []*fakeStream{
		{bodies: []string{alertText("777.00")}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunStream(ctx, connector) }()

	// Exactly one announce/blink pair, then a reconnect attempt after the
	// backoff interval.
	require.Eventually(t, func() bool {
		return rec.count("announce:") == 1 && connector.connectCount() >= 2
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, rec.count("announce:"))
	assert.Equal(t, 1, rec.count("blink"))

	ops := rec.snapshot()
	assert.Contains(t, ops, "announce:Rupees 777 received.")
	// Connected turned the indicator on; the drop turned it off.
	assert.GreaterOrEqual(t, rec.count("indicator:on"), 1)
	assert.GreaterOrEqual(t, rec.count("indicator:off"), 1)
	// Shutdown leaves the indicator off.
	assert.Equal(t, "indicator:off", ops[len(ops)-1])
}

func TestRunStream_CancellationMidBackoff(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig()
	cfg.Backoff.Reconnect = 5 * time.Second // long enough that exit must be cancellation-driven
	s := New(extract.MustDefault(), &fakeSink{rec: rec}, cfg)

	connector := &fakeConnector{} // every connect fails

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunStream(ctx, connector) }()

	require.Eventually(t, func() bool {
		return connector.connectCount() >= 1
	}, time.Second, time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not exit during backoff sleep")
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	ops := rec.snapshot()
	require.NotEmpty(t, ops)
	assert.Equal(t, "indicator:off", ops[len(ops)-1])
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Hour, cfg.RefreshInterval)
	assert.Equal(t, 3, cfg.BlinkCount)
	assert.Equal(t, 150*time.Millisecond, cfg.BlinkOn)
}
