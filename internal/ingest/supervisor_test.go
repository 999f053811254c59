package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazardguard/internal/config"
	"hazardguard/internal/logging"
	"hazardguard/internal/metrics"
	"hazardguard/internal/model"
)

type scriptedDialer struct {
	mu     sync.Mutex
	calls  []string
	script func(call int, endpoint string) (Session, error)
}

func (d *scriptedDialer) Dial(_ context.Context, endpoint string) (Session, error) {
	d.mu.Lock()
	d.calls = append(d.calls, endpoint)
	n := len(d.calls)
	d.mu.Unlock()
	return d.script(n, endpoint)
}

func (d *scriptedDialer) endpoints() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type waitRecorder struct {
	waits chan time.Duration
	mu    sync.Mutex
	last  metrics.ConnState
}

func newWaitRecorder() *waitRecorder {
	return &waitRecorder{waits: make(chan time.Duration, 32)}
}

func (r *waitRecorder) SetState(_ string, state metrics.ConnState, _ string, _ int, wait time.Duration) {
	r.mu.Lock()
	r.last = state
	r.mu.Unlock()
	if state == metrics.StateBackoff || state == metrics.StateFallback {
		r.waits <- wait
	}
}

func (r *waitRecorder) RecordError(string, error) {}
func (r *waitRecorder) RecordMessage(string)      {}

type funcSession struct {
	run func(ctx context.Context, emit func([]byte)) error
}

func (s funcSession) Run(ctx context.Context, emit func([]byte)) error { return s.run(ctx, emit) }
func (s funcSession) Close() error                                     { return nil }

var errRefused = errors.New("connection refused")

func nextWait(t *testing.T, ctx context.Context, clock *clockwork.FakeClock, rec *waitRecorder) time.Duration {
	t.Helper()
	select {
	case wait := <-rec.waits:
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(wait)
		return wait
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not back off")
	}
	return 0
}

func TestSupervisorFallbackAfterFastAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClock()
	dialer := &scriptedDialer{script: func(int, string) (Session, error) { return nil, errRefused }}
	rec := newWaitRecorder()
	conn := config.ConnectionConfig{Name: "p2p", URL: "wss://primary", BackupURL: "wss://backup"}
	s := NewSupervisor(conn, fastConfig(), dialer, make(chan model.RawMessage, 1), rec, metrics.NewMetricsForTesting(), logging.Discard())
	s.SetClock(clock)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	var waits []time.Duration
	for i := 0; i < 6; i++ {
		waits = append(waits, nextWait(t, ctx, clock, rec))
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		30 * time.Minute, 30 * time.Minute,
	}, waits)

	calls := dialer.endpoints()
	require.GreaterOrEqual(t, len(calls), 12)
	for i := 0; i < 12; i += 2 {
		assert.Equal(t, "wss://primary", calls[i])
		assert.Equal(t, "wss://backup", calls[i+1], "backup is tried right after the primary fails")
	}

	cancel()
	<-done
	assert.Equal(t, metrics.StateStopped, rec.last)
}

func TestSupervisorResetsAfterHealthySession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClock()
	out := make(chan model.RawMessage, 4)
	cfg := fastConfig()
	dialer := &scriptedDialer{script: func(call int, _ string) (Session, error) {
		if call <= 3 {
			return nil, errRefused
		}
		return funcSession{run: func(_ context.Context, emit func([]byte)) error {
			emit([]byte(`{"type":"jma_eew"}`))
			clock.Advance(cfg.GracePeriod + time.Second)
			return errors.New("read: connection reset")
		}}, nil
	}}
	rec := newWaitRecorder()
	s := NewSupervisor(config.ConnectionConfig{Name: "wolfx_jma_eew", URL: "wss://primary"}, cfg, dialer, out, rec, nil, logging.Discard())
	s.SetClock(clock)
	go s.Run(ctx)

	assert.Equal(t, time.Second, nextWait(t, ctx, clock, rec))
	assert.Equal(t, 2*time.Second, nextWait(t, ctx, clock, rec))
	assert.Equal(t, 4*time.Second, nextWait(t, ctx, clock, rec))
	assert.Equal(t, time.Second, nextWait(t, ctx, clock, rec), "a session past the grace period resets the backoff")

	msg := <-out
	assert.Equal(t, "wolfx_jma_eew", msg.Connection)
	assert.JSONEq(t, `{"type":"jma_eew"}`, string(msg.Payload))
}

func TestSupervisorFallbackConnectionResetsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClock()
	dialer := &scriptedDialer{script: func(call int, _ string) (Session, error) {
		if call <= 5 || call > 6 {
			return nil, errRefused
		}
		return funcSession{run: func(context.Context, func([]byte)) error {
			return errors.New("read: connection reset")
		}}, nil
	}}
	rec := newWaitRecorder()
	s := NewSupervisor(config.ConnectionConfig{Name: "p2p", URL: "wss://primary"}, fastConfig(), dialer,
		make(chan model.RawMessage, 1), rec, nil, logging.Discard())
	s.SetClock(clock)
	go s.Run(ctx)

	var waits []time.Duration
	for i := 0; i < 7; i++ {
		waits = append(waits, nextWait(t, ctx, clock, rec))
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 30 * time.Minute,
		time.Second, 2 * time.Second,
	}, waits, "a short session made in fallback mode still restarts the fast attempts")
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.RawMessage, 1)
	ctx := context.Background()
	assert.True(t, SendNonBlocking(ctx, out, model.RawMessage{Connection: "a"}, nil))
	assert.False(t, SendNonBlocking(ctx, out, model.RawMessage{Connection: "b"}, nil))
	assert.Equal(t, "a", (<-out).Connection)
}

func TestNewDialerRejectsUnknownKind(t *testing.T) {
	_, err := NewDialer(config.ConnectionConfig{Name: "x", Kind: "carrier_pigeon"}, fastConfig())
	assert.Error(t, err)
}
