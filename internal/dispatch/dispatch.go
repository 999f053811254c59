// Package dispatch delivers push decisions to sinks through a bounded
// queue. When the queue is full the oldest decision is dropped.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hazardguard/internal/config"
	"hazardguard/internal/metrics"
	"hazardguard/internal/model"
	"hazardguard/internal/storage"
)

type Sink interface {
	Name() string
	Send(ctx context.Context, d model.PushDecision) error
}

type Dispatcher struct {
	mu      sync.Mutex
	buf     []model.PushDecision
	limit   int
	notify  chan struct{}
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func New(cfg config.DispatchConfig, sinks []Sink, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	limit := cfg.QueueSize
	if limit <= 0 {
		limit = 256
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		limit:   limit,
		notify:  make(chan struct{}, 1),
		sinks:   sinks,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Publish enqueues a decision without blocking.
func (d *Dispatcher) Publish(dec model.PushDecision) {
	d.mu.Lock()
	if len(d.buf) >= d.limit {
		dropped := d.buf[0]
		copy(d.buf, d.buf[1:])
		d.buf = d.buf[:len(d.buf)-1]
		if d.metrics != nil {
			d.metrics.DispatchDropped.Inc()
		}
		if d.logger != nil {
			d.logger.Warn("dispatch queue full, dropping oldest decision",
				"decision_id", dropped.ID,
				"lineage_id", dropped.LineageID,
				"source_id", dropped.Event.SourceID,
			)
		}
	}
	d.buf = append(d.buf, dec)
	depth := len(d.buf)
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(depth))
	}
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}

func (d *Dispatcher) pop() (model.PushDecision, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buf) == 0 {
		return model.PushDecision{}, false
	}
	dec := d.buf[0]
	d.buf[0] = model.PushDecision{}
	d.buf = d.buf[1:]
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(len(d.buf)))
	}
	return dec, true
}

// Start drains the queue until ctx is cancelled. Decisions still queued at
// cancellation are delivered before the dispatcher exits.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			d.drain(ctx)
			select {
			case <-ctx.Done():
				d.drain(context.Background())
				return
			case <-d.notify:
			}
		}
	}()
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		dec, ok := d.pop()
		if !ok {
			return
		}
		d.deliver(ctx, dec)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, dec model.PushDecision) {
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		err := sink.Send(sendCtx, dec)
		cancel()
		if err != nil {
			if d.metrics != nil {
				d.metrics.DispatchErrors.WithLabelValues(sink.Name()).Inc()
			}
			if d.logger != nil {
				d.logger.Warn("dispatch failed", "sink", sink.Name(), "decision_id", dec.ID, "error", err)
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.DispatchSent.WithLabelValues(sink.Name()).Inc()
		}
	}
}

// BuildSinks creates the sinks enabled in cfg. Decisions are recorded in
// store, when one is set, after the delivery sinks have run.
func BuildSinks(cfg config.DispatchConfig, store storage.Store, logger *slog.Logger) []Sink {
	var sinks []Sink
	if cfg.Log {
		sinks = append(sinks, NewLogSink(logger))
	}
	if cfg.Kafka.Enabled {
		sinks = append(sinks, NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	if cfg.Webhook.Enabled {
		sinks = append(sinks, NewWebhookSink(cfg.Webhook.URL, cfg.Timeout))
	}
	if store != nil {
		sinks = append(sinks, NewStoreSink(store))
	}
	return sinks
}

// Close releases sink resources.
func Close(sinks []Sink) {
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}
