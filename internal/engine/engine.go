package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"hazardguard/internal/alerts"
	"hazardguard/internal/config"
	"hazardguard/internal/filter"
	"hazardguard/internal/metrics"
	"hazardguard/internal/model"
	"hazardguard/internal/normalize"
	"hazardguard/internal/storage"
)

const (
	SuppressDisabled       = "disabled"
	SuppressSourceDisabled = "source_disabled"
)

// Publisher receives decisions that should reach subscribers.
type Publisher interface {
	Publish(d model.PushDecision)
}

type rules struct {
	filters   *filter.Chain
	frequency *Controller
}

type Engine struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	history     *alerts.Store
	store       storage.Store
	out         Publisher
	normalizers *normalize.Set
	dedup       *Deduplicator
	cfg         atomic.Value
	rules       atomic.Value

	mu      sync.Mutex
	clock   clockwork.Clock
	started time.Time

	wg         sync.WaitGroup
	processed  atomic.Uint64
	decisions  atomic.Uint64
	suppressed atomic.Uint64

	pendingMu sync.Mutex
	pending   []string
}

type Stats struct {
	StartedAt  time.Time `json:"started_at"`
	Silenced   bool      `json:"silenced"`
	Lineages   int       `json:"lineages"`
	Processed  uint64    `json:"processed"`
	Decisions  uint64    `json:"decisions"`
	Suppressed uint64    `json:"suppressed"`
}

func NewEngine(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, history *alerts.Store, store storage.Store, out Publisher) *Engine {
	clock := clockwork.NewRealClock()
	if history == nil {
		history = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	e := &Engine{
		logger:      logger,
		metrics:     m,
		history:     history,
		store:       store,
		out:         out,
		normalizers: normalize.NewSet(),
		dedup:       NewDeduplicator(cfg.Dedup, clock),
		clock:       clock,
		started:     clock.Now().UTC(),
	}
	e.cfg.Store(cfg)
	e.rules.Store(buildRules(cfg))
	return e
}

func buildRules(cfg *config.Config) *rules {
	return &rules{
		filters:   filter.New(cfg.Filters),
		frequency: NewController(cfg.Frequency),
	}
}

// SetClock replaces the clock and restarts the startup silence window from
// the new clock's now.
func (e *Engine) SetClock(c clockwork.Clock) {
	e.mu.Lock()
	e.clock = c
	e.started = c.Now().UTC()
	e.mu.Unlock()
	e.dedup.setClock(c)
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.rules.Store(buildRules(cfg))
	e.dedup.UpdateConfig(cfg.Dedup)
}

func (e *Engine) Config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) currentRules() *rules {
	return e.rules.Load().(*rules)
}

func (e *Engine) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Now().UTC()
}

func (e *Engine) silenced(cfg *config.Config, now time.Time) bool {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	return cfg.Pipeline.StartupSilence > 0 && now.Sub(started) < cfg.Pipeline.StartupSilence
}

// Ingest normalizes one tagged payload and runs it through the pipeline. A
// nil decision with a nil error means the event was suppressed. Payloads
// that cannot be normalized return a *model.NormalizationError.
func (e *Engine) Ingest(raw []byte, sourceID, tag string) (*model.PushDecision, error) {
	return e.ingestAt(raw, sourceID, tag, e.now())
}

func (e *Engine) ingestAt(raw []byte, sourceID, tag string, receivedAt time.Time) (*model.PushDecision, error) {
	cfg := e.Config()
	if !cfg.Enabled {
		e.suppress(SuppressDisabled)
		return nil, nil
	}
	if !cfg.SourceEnabled(sourceID) {
		e.suppress(SuppressSourceDisabled)
		return nil, nil
	}
	ev, err := e.normalizers.Normalize(sourceID, tag, raw, receivedAt)
	if err != nil {
		if e.metrics != nil {
			e.metrics.NormalizationErrors.WithLabelValues(sourceID).Inc()
		}
		return nil, err
	}
	return e.process(cfg, ev)
}

// Simulate injects a synthetic earthquake attributed to the representative
// source of family. It is deduplicated, filtered and rate controlled like a
// live report but is never silenced and ignores the source enable flags.
func (e *Engine) Simulate(lat, lon, magnitude, depth float64, family string) (*model.PushDecision, error) {
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return nil, fmt.Errorf("longitude %v out of range", lon)
	}
	if magnitude < 0 || depth < 0 {
		return nil, errors.New("magnitude and depth must not be negative")
	}
	src, ok := model.FamilySource(family)
	if !ok {
		return nil, fmt.Errorf("unknown source family %q", family)
	}
	now := e.now()
	ev := model.Event{
		SourceID:     src.ID,
		MessageType:  src.MessageType,
		EventID:      "sim-" + uuid.NewString(),
		OriginTime:   now,
		SourceZone:   src.Zone,
		ReportNumber: 1,
		ReceivedAt:   now,
		Simulated:    true,
		Earthquake: &model.Earthquake{
			Latitude:  lat,
			Longitude: lon,
			Magnitude: model.Float(magnitude),
			DepthKm:   model.Float(depth),
		},
	}
	return e.process(e.Config(), ev)
}

func (e *Engine) process(cfg *config.Config, ev model.Event) (*model.PushDecision, error) {
	e.processed.Add(1)
	if !cfg.Enabled {
		e.suppress(SuppressDisabled)
		return nil, nil
	}
	r := e.currentRules()
	now := e.now()

	unlock := e.dedup.Lock(ev)
	defer unlock()

	lineage, class, err := e.dedup.Classify(ev)
	var violation *model.InvariantViolation
	if errors.As(err, &violation) {
		if e.metrics != nil {
			e.metrics.InvariantViolations.Inc()
		}
		if e.logger != nil {
			e.logger.Error("lineage reset", "lineage_id", violation.LineageID, "reason", violation.Reason, "source_id", ev.SourceID)
		}
	}
	if e.metrics != nil {
		e.metrics.Classifications.WithLabelValues(ev.SourceID, string(class)).Inc()
		e.metrics.Lineages.Set(float64(e.dedup.Len()))
	}

	verdict := r.filters.Evaluate(ev, now)
	if !verdict.Pass {
		e.suppress(verdict.Reason)
		if e.logger != nil {
			e.logger.Debug("event filtered", "source_id", ev.SourceID, "lineage_id", lineage.ID, "reason", verdict.Reason)
		}
		return nil, nil
	}

	push, reason := r.frequency.ShouldPush(lineage, class, ev)
	if !push {
		e.suppress(reason)
		if e.logger != nil {
			e.logger.Debug("report suppressed", "source_id", ev.SourceID, "lineage_id", lineage.ID,
				"classification", class, "report_number", ev.Report(), "reason", reason)
		}
		return nil, nil
	}

	d := model.PushDecision{
		ID:             uuid.NewString(),
		LineageID:      lineage.ID,
		Classification: class,
		Event:          ev,
		ReportNumber:   ev.Report(),
		IsFinal:        ev.IsFinal,
		LocalIntensity: verdict.LocalIntensity,
		DistanceKm:     verdict.DistanceKm,
		DecidedAt:      now,
		Silenced:       !ev.Simulated && e.silenced(cfg, now),
	}
	e.dedup.MarkPushed(lineage.ID, d.ReportNumber)
	e.record(d)
	return &d, nil
}

func (e *Engine) record(d model.PushDecision) {
	e.decisions.Add(1)
	e.history.Add(d)
	if e.metrics != nil {
		e.metrics.Decisions.WithLabelValues(d.Event.SourceID).Inc()
		if !d.Event.ReceivedAt.IsZero() {
			e.metrics.PipelineLatency.Observe(d.DecidedAt.Sub(d.Event.ReceivedAt).Seconds())
		}
	}
	if d.Silenced {
		if e.logger != nil {
			e.logger.Info("decision silenced during startup", "source_id", d.Event.SourceID, "lineage_id", d.LineageID,
				"report_number", d.ReportNumber)
		}
		return
	}
	if e.logger != nil {
		e.logger.Info("push decision",
			"source_id", d.Event.SourceID,
			"lineage_id", d.LineageID,
			"classification", d.Classification,
			"report_number", d.ReportNumber,
			"is_final", d.IsFinal,
		)
	}
	if e.out != nil {
		e.out.Publish(d)
	}
}

func (e *Engine) suppress(reason string) {
	e.suppressed.Add(1)
	if e.metrics != nil {
		e.metrics.Suppressed.WithLabelValues(reason).Inc()
	}
}

// Start consumes connection payloads until ctx is cancelled or in is
// closed. Payloads are split per source and handed to workers sharded by
// source id, so each source is processed in arrival order.
func (e *Engine) Start(ctx context.Context, in <-chan model.RawMessage) {
	workers := e.Config().Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	shards := make([]chan model.RawMessage, workers)
	for i := range shards {
		shards[i] = make(chan model.RawMessage, 64)
		e.wg.Add(1)
		go func(shard <-chan model.RawMessage) {
			defer e.wg.Done()
			for msg := range shard {
				e.handle(msg)
			}
		}(shards[i])
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			for _, shard := range shards {
				close(shard)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				for _, part := range e.split(msg) {
					select {
					case shards[shardFor(part.SourceID, workers)] <- part:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until Start's goroutines have drained and exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func shardFor(sourceID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sourceID))
	return int(h.Sum32() % uint32(n))
}

// split demultiplexes a connection payload into tagged messages. Messages
// that already carry a source id pass through.
func (e *Engine) split(msg model.RawMessage) []model.RawMessage {
	if msg.SourceID != "" {
		return []model.RawMessage{msg}
	}
	conn, ok := e.Config().Connection(msg.Connection)
	if !ok {
		if e.logger != nil {
			e.logger.Warn("payload from unknown connection", "connection", msg.Connection)
		}
		return nil
	}
	envs, err := normalize.Demux(conn.Format, msg.Payload)
	if err != nil {
		if e.metrics != nil {
			e.metrics.NormalizationErrors.WithLabelValues(conn.Format).Inc()
		}
		if e.logger != nil {
			e.logger.Debug("payload dropped", "connection", msg.Connection, "error", err)
		}
		return nil
	}
	out := make([]model.RawMessage, 0, len(envs))
	for _, env := range envs {
		out = append(out, model.RawMessage{
			Connection: msg.Connection,
			SourceID:   env.SourceID,
			Tag:        env.Tag,
			Payload:    env.Payload,
			ReceivedAt: msg.ReceivedAt,
		})
	}
	return out
}

func (e *Engine) handle(msg model.RawMessage) {
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = e.now()
	}
	if _, err := e.ingestAt(msg.Payload, msg.SourceID, msg.Tag, receivedAt); err != nil && e.logger != nil {
		e.logger.Warn("payload dropped", "connection", msg.Connection, "source_id", msg.SourceID, "tag", msg.Tag, "error", err)
	}
}

// Reset forgets every lineage and the decision history. Checkpointed
// lineages are deleted on the next checkpoint.
func (e *Engine) Reset() {
	var ids []string
	for _, l := range e.dedup.Snapshot() {
		ids = append(ids, l.ID)
	}
	e.queueDeletes(ids)
	e.dedup.Reset()
	e.history.Clear()
	if e.metrics != nil {
		e.metrics.Lineages.Set(0)
	}
}

func (e *Engine) Lineages() []model.Lineage {
	return e.dedup.Snapshot()
}

func (e *Engine) Lineage(id string) (model.Lineage, bool) {
	return e.dedup.Get(id)
}

func (e *Engine) History() *alerts.Store {
	return e.history
}

func (e *Engine) Stats() Stats {
	now := e.now()
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	return Stats{
		StartedAt:  started,
		Silenced:   e.silenced(e.Config(), now),
		Lineages:   e.dedup.Len(),
		Processed:  e.processed.Load(),
		Decisions:  e.decisions.Load(),
		Suppressed: e.suppressed.Load(),
	}
}
