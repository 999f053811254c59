package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"hazardguard/internal/config"
	"hazardguard/internal/metrics"
	"hazardguard/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.RawMessage, msg model.RawMessage, logger *slog.Logger) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("ingest channel full, dropping payload", "connection", msg.Connection, "received_at", msg.ReceivedAt)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

// NewDialer picks the transport for a connection kind.
func NewDialer(conn config.ConnectionConfig, sup config.SupervisorConfig) (Dialer, error) {
	switch conn.Kind {
	case config.KindWebSocket:
		return NewWebSocketDialer(sup.HeartbeatTimeout, sup.PingInterval), nil
	case config.KindHTTPPoll:
		return NewPollDialer(&http.Client{Timeout: 30 * time.Second}, conn.PollInterval, conn.Format), nil
	case config.KindKafka:
		return NewKafkaDialer(conn.Brokers, conn.Topic, conn.GroupID), nil
	case config.KindTCPStream:
		return NewTCPDialer(sup.HeartbeatTimeout), nil
	}
	return nil, fmt.Errorf("connection %s: unsupported kind %q", conn.Name, conn.Kind)
}

// StartSupervisors launches one supervisor per enabled connection. The
// returned WaitGroup completes once every supervisor has stopped.
func StartSupervisors(ctx context.Context, cfg *config.Config, out chan<- model.RawMessage, observer Observer, m *metrics.Metrics, logger *slog.Logger) (*sync.WaitGroup, error) {
	var wg sync.WaitGroup
	var sups []*Supervisor
	for _, conn := range cfg.Ingest.Connections {
		if !conn.Enabled {
			continue
		}
		sup := cfg.SupervisorFor(conn)
		dialer, err := NewDialer(conn, sup)
		if err != nil {
			return nil, err
		}
		sups = append(sups, NewSupervisor(conn, sup, dialer, out, observer, m, logger))
	}
	for _, s := range sups {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
		if logger != nil {
			logger.Info("connection supervisor started", "connection", s.Name())
		}
	}
	return &wg, nil
}
