package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"

	"hazardguard/internal/config"
	"hazardguard/internal/metrics"
	"hazardguard/internal/model"
)

// Session is one live upstream connection.
type Session interface {
	// Run reads until the session ends and calls emit for each payload. It
	// returns the error that ended the session.
	Run(ctx context.Context, emit func(payload []byte)) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Session, error)
}

// Observer receives connection health updates. Calls must not block.
type Observer interface {
	SetState(name string, state metrics.ConnState, endpoint string, attempt int, wait time.Duration)
	RecordError(name string, err error)
	RecordMessage(name string)
}

type nopObserver struct{}

func (nopObserver) SetState(string, metrics.ConnState, string, int, time.Duration) {}
func (nopObserver) RecordError(string, error)                                      {}
func (nopObserver) RecordMessage(string)                                           {}

// Supervisor keeps one connection alive: it dials the primary endpoint,
// falls over to the backup at once when the primary cannot be reached, and
// backs off between rounds.
type Supervisor struct {
	conn     config.ConnectionConfig
	cfg      config.SupervisorConfig
	dialer   Dialer
	out      chan<- model.RawMessage
	observer Observer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    clockwork.Clock
	backoff  *Backoff
	sessions int
}

func NewSupervisor(conn config.ConnectionConfig, cfg config.SupervisorConfig, dialer Dialer, out chan<- model.RawMessage, observer Observer, m *metrics.Metrics, logger *slog.Logger) *Supervisor {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Supervisor{
		conn:     conn,
		cfg:      cfg,
		dialer:   dialer,
		out:      out,
		observer: observer,
		metrics:  m,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		backoff:  NewBackoff(cfg),
	}
}

func (s *Supervisor) SetClock(c clockwork.Clock) {
	s.clock = c
}

func (s *Supervisor) Name() string {
	return s.conn.Name
}

func (s *Supervisor) endpoints() []string {
	out := []string{s.conn.URL}
	if s.conn.BackupURL != "" && s.conn.BackupURL != s.conn.URL {
		out = append(out, s.conn.BackupURL)
	}
	return out
}

// Run supervises the connection until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	name := s.conn.Name
	defer s.observer.SetState(name, metrics.StateStopped, "", 0, 0)
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.round(ctx)
		if ctx.Err() != nil {
			return
		}
		wait, fallback := s.backoff.Next()
		state := metrics.StateBackoff
		if fallback {
			state = metrics.StateFallback
		}
		s.observer.SetState(name, state, "", s.backoff.Failures(), wait)
		if s.logger != nil {
			s.logger.Warn("connection lost, reconnecting",
				"connection", name,
				"error", err,
				"failures", s.backoff.Failures(),
				"fallback", fallback,
				"backoff", wait,
			)
		}
		if !BackoffSleep(ctx, s.clock, wait) {
			return
		}
	}
}

// round makes one pass over the endpoints. It returns when a session ends
// or every endpoint refused the connection.
func (s *Supervisor) round(ctx context.Context) error {
	name := s.conn.Name
	var lastErr error
	for _, endpoint := range s.endpoints() {
		s.observer.SetState(name, metrics.StateConnecting, endpoint, s.backoff.Failures(), 0)
		session, err := s.dialer.Dial(ctx, endpoint)
		if err != nil {
			lastErr = &model.ConnectionError{Connection: name, Endpoint: endpoint, Err: err}
			s.observer.RecordError(name, lastErr)
			if s.logger != nil && ctx.Err() == nil {
				s.logger.Warn("dial failed", "connection", name, "endpoint", endpoint, "error", err)
			}
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}
		return s.serve(ctx, endpoint, session)
	}
	return lastErr
}

func (s *Supervisor) serve(ctx context.Context, endpoint string, session Session) error {
	name := s.conn.Name
	s.sessions++
	// A connection made in fallback mode counts as recovered at once.
	if s.backoff.InFallback() {
		s.backoff.Reset()
	}
	if s.sessions > 1 && s.metrics != nil {
		s.metrics.Reconnects.WithLabelValues(name, endpoint).Inc()
	}
	s.observer.SetState(name, metrics.StateConnected, endpoint, s.backoff.Failures(), 0)
	if s.logger != nil {
		s.logger.Info("connected", "connection", name, "endpoint", endpoint)
	}

	started := s.clock.Now()
	err := session.Run(ctx, func(payload []byte) {
		s.emit(ctx, payload)
	})
	_ = session.Close()

	if s.clock.Since(started) >= s.cfg.GracePeriod {
		s.backoff.Reset()
	}
	if isTimeout(err) {
		s.observer.SetState(name, metrics.StateDegraded, endpoint, s.backoff.Failures(), 0)
	}
	if err == nil {
		err = errors.New("session closed")
	}
	cerr := &model.ConnectionError{Connection: name, Endpoint: endpoint, Err: err}
	if ctx.Err() == nil {
		s.observer.RecordError(name, cerr)
	}
	return cerr
}

func (s *Supervisor) emit(ctx context.Context, payload []byte) {
	name := s.conn.Name
	s.observer.RecordMessage(name)
	if s.metrics != nil {
		s.metrics.RawMessages.WithLabelValues(name).Inc()
	}
	msg := model.RawMessage{
		Connection: name,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: s.clock.Now().UTC(),
	}
	if !SendNonBlocking(ctx, s.out, msg, s.logger) && s.metrics != nil && ctx.Err() == nil {
		s.metrics.IngestDropped.WithLabelValues(name).Inc()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
