package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazardguard/internal/alerts"
	"hazardguard/internal/config"
	"hazardguard/internal/logging"
	"hazardguard/internal/metrics"
	"hazardguard/internal/model"
	"hazardguard/internal/storage"
)

// 2025/03/01 12:00:00 JST, the origin used by the payloads below.
var origin = time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)

type collector struct {
	mu  sync.Mutex
	got []model.PushDecision
}

func (c *collector) Publish(d model.PushDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, d)
}

func (c *collector) reports() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.got))
	for _, d := range c.got {
		out = append(out, d.ReportNumber)
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Pipeline.StartupSilence = 0
	cfg.Frequency.ReportN[model.CadenceJMA] = 3
	return cfg
}

type harness struct {
	eng     *Engine
	clock   *clockwork.FakeClock
	out     *collector
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, cfg *config.Config, store storage.Store) *harness {
	t.Helper()
	h := &harness{
		clock:   clockwork.NewFakeClockAt(origin.Add(30 * time.Second)),
		out:     &collector{},
		metrics: metrics.NewMetricsForTesting(),
	}
	h.eng = NewEngine(cfg, logging.Discard(), h.metrics, alerts.NewStore(100), store, h.out)
	h.eng.SetClock(h.clock)
	return h
}

func jmaReport(eventID string, serial int, magnitude float64, final bool) []byte {
	return []byte(fmt.Sprintf(`{"type":"jma_eew","EventID":%q,"Serial":"%d","OriginTime":"2025/03/01 12:00:00",
		"Hypocenter":"威宁","Latitude":25.66,"Longitude":104.24,"Magunitude":%.1f,"Depth":10,"MaxIntensity":"3",
		"isFinal":%t,"isCancel":false,"isTraining":false}`, eventID, serial, magnitude, final))
}

func (h *harness) jma(t *testing.T, serial int, final bool) *model.PushDecision {
	t.Helper()
	d, err := h.eng.Ingest(jmaReport("20250301120000", serial, 4.3, final), "jma_wolfx", "jma_eew")
	require.NoError(t, err)
	return d
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestReportCadenceScenarios(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	first := h.jma(t, 1, false)
	require.NotNil(t, first, "first report pushes")
	assert.Equal(t, model.ClassNew, first.Classification)

	assert.Nil(t, h.jma(t, 2, false), "report 2 is off cadence")

	third := h.jma(t, 3, false)
	require.NotNil(t, third, "report 3 is on cadence")
	assert.Equal(t, model.ClassUpdate, third.Classification)
	assert.Equal(t, first.LineageID, third.LineageID)

	final := h.jma(t, 5, true)
	require.NotNil(t, final, "final report always pushes")
	assert.True(t, final.IsFinal)

	assert.Equal(t, []int{1, 3, 5}, h.out.reports())

	l, ok := h.eng.Lineage(first.LineageID)
	require.True(t, ok)
	assert.Equal(t, 5, l.MaxReportNumberSeen)
	require.NotNil(t, l.LastPushedReportNumber)
	assert.Equal(t, 5, *l.LastPushedReportNumber)
	assert.Equal(t, model.StateFinalized, l.State)
	assert.Equal(t, 4, l.ReportCount)
}

func TestSourcesKeepIndependentLineages(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	jma := h.jma(t, 1, false)
	require.NotNil(t, jma)

	cea := []byte(`{"type":"cenc_eew","ID":"c1","EventID":"202503011100","ReportNum":1,"OriginTime":"2025-03-01 11:00:00",
		"HypoCenter":"贵州毕节市威宁县","Latitude":25.66,"Longitude":104.24,"Magnitude":4.3,"Depth":10,"MaxIntensity":5}`)
	d, err := h.eng.Ingest(cea, "cea_wolfx", "cenc_eew")
	require.NoError(t, err)
	require.NotNil(t, d, "another source's first report pushes on its own")
	assert.Equal(t, model.ClassNew, d.Classification)
	assert.NotEqual(t, jma.LineageID, d.LineageID)
	assert.Len(t, h.eng.Lineages(), 2)
}

func TestGlobalScopeMergesSources(t *testing.T) {
	cfg := testConfig()
	cfg.Dedup.Scope = config.ScopeGlobal
	h := newHarness(t, cfg, nil)

	require.NotNil(t, h.jma(t, 1, false))
	cea := []byte(`{"type":"cenc_eew","EventID":"202503011100","ReportNum":1,"OriginTime":"2025-03-01 11:00:10",
		"Latitude":25.66,"Longitude":104.24,"Magnitude":4.3,"MaxIntensity":5}`)
	d, err := h.eng.Ingest(cea, "cea_wolfx", "cenc_eew")
	require.NoError(t, err)
	assert.Nil(t, d, "same physical event from a second source repeats")
	assert.Len(t, h.eng.Lineages(), 1)
}

func TestCadenceOverLaterReports(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	require.NotNil(t, h.jma(t, 1, false))
	for n := 2; n <= 6; n++ {
		h.jma(t, n, false)
	}
	assert.Equal(t, []int{1, 3, 6}, h.out.reports())
}

func TestRepeatIsSuppressed(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	first := h.jma(t, 1, false)
	require.NotNil(t, first)
	assert.Nil(t, h.jma(t, 1, false))

	l, _ := h.eng.Lineage(first.LineageID)
	assert.Equal(t, 2, l.ReportCount)
	assert.Equal(t, model.StateNew, l.State)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.Suppressed.WithLabelValues(SuppressRepeat)))
}

func TestFinalReportPushesOnce(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	require.NotNil(t, h.jma(t, 1, false))
	require.NotNil(t, h.jma(t, 4, true))
	assert.Nil(t, h.jma(t, 4, true), "a repeated final is not pushed twice")
	assert.Equal(t, []int{1, 4}, h.out.reports())
}

func TestCancellationUpgrades(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	require.NotNil(t, h.jma(t, 1, false))

	cancel := []byte(`{"type":"jma_eew","EventID":"20250301120000","Serial":"2","OriginTime":"2025/03/01 12:00:00",
		"Latitude":25.66,"Longitude":104.24,"Magunitude":4.3,"MaxIntensity":"3","isCancel":true}`)
	d, err := h.eng.Ingest(cancel, "jma_wolfx", "jma_eew")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.ClassUpgrade, d.Classification)

	l, _ := h.eng.Lineage(d.LineageID)
	assert.Equal(t, model.StateCancelled, l.State)
}

func TestFilteredFirstReportDoesNotBlockLineage(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	weakReport := []byte(`{"type":"jma_eew","EventID":"20250301120000","Serial":"1","OriginTime":"2025/03/01 12:00:00",
		"Latitude":25.66,"Longitude":104.24,"Magunitude":2.0,"Depth":10,"MaxIntensity":"不明"}`)
	weak, err := h.eng.Ingest(weakReport, "jma_wolfx", "jma_eew")
	require.NoError(t, err)
	require.Nil(t, weak)

	// Report 2 revises the magnitude into another bucket; the event id keeps
	// it on the same lineage, which has never been pushed.
	d, err := h.eng.Ingest(jmaReport("20250301120000", 2, 4.3, false), "jma_wolfx", "jma_eew")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.ClassUpdate, d.Classification)
	assert.Len(t, h.eng.Lineages(), 1)
}

func TestStartupSilence(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.StartupSilence = 10 * time.Second
	h := newHarness(t, cfg, nil)

	d := h.jma(t, 1, false)
	require.NotNil(t, d)
	assert.True(t, d.Silenced)
	assert.Empty(t, h.out.reports(), "silenced decisions are not dispatched")
	assert.Len(t, h.eng.History().List(0), 1)

	h.clock.Advance(11 * time.Second)
	require.NotNil(t, h.jma(t, 3, false))
	assert.Equal(t, []int{3}, h.out.reports())
}

func TestSimulate(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.StartupSilence = time.Minute
	h := newHarness(t, cfg, nil)

	d, err := h.eng.Simulate(25.66, 104.24, 5.0, 10, "cea")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, d.Silenced)
	assert.True(t, d.Event.Simulated)
	assert.Equal(t, "cea_fanstudio", d.Event.SourceID)
	assert.Len(t, h.out.reports(), 1)

	again, err := h.eng.Simulate(25.66, 104.24, 5.0, 10, "cea")
	require.NoError(t, err)
	require.NotNil(t, again, "each simulation is its own event")
	assert.NotEqual(t, d.LineageID, again.LineageID)

	_, err = h.eng.Simulate(95, 0, 5, 10, "cea")
	assert.Error(t, err)
	_, err = h.eng.Simulate(0, 0, 5, 10, "kma")
	assert.Error(t, err)
}

func TestSourceDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Sources["jma_wolfx"] = false
	h := newHarness(t, cfg, nil)
	assert.Nil(t, h.jma(t, 1, false))
	assert.Empty(t, h.eng.Lineages())
}

func TestNormalizationErrorIsReturned(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	d, err := h.eng.Ingest([]byte(`{"type":"jma_eew"`), "jma_wolfx", "jma_eew")
	assert.Nil(t, d)
	var nerr *model.NormalizationError
	assert.ErrorAs(t, err, &nerr)
}

func TestCollectExpiresIdleLineages(t *testing.T) {
	cfg := testConfig()
	cfg.Filters.MaxEventAge = 0
	cfg.Dedup.LineageTTL = time.Hour
	h := newHarness(t, cfg, nil)

	first := h.jma(t, 1, false)
	require.NotNil(t, first)
	h.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, h.eng.Collect())
	assert.Empty(t, h.eng.Lineages())

	again := h.jma(t, 2, false)
	require.NotNil(t, again)
	assert.Equal(t, model.ClassNew, again.Classification)
	assert.NotEqual(t, first.LineageID, again.LineageID)
}

func TestInvariantViolationResetsLineage(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	first := h.jma(t, 1, false)
	require.NotNil(t, first)

	h.eng.dedup.mu.Lock()
	h.eng.dedup.byID[first.LineageID].LastPushedReportNumber = model.Int(9)
	h.eng.dedup.mu.Unlock()

	d := h.jma(t, 2, false)
	require.NotNil(t, d)
	assert.Equal(t, model.ClassNew, d.Classification)
	assert.NotEqual(t, first.LineageID, d.LineageID)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.InvariantViolations))
}

func TestCheckpointRestore(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "checkpoint.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(ctx))

	before := newHarness(t, testConfig(), store)
	require.NotNil(t, before.jma(t, 1, false))
	require.NotNil(t, before.jma(t, 3, false))
	require.NoError(t, before.eng.Checkpoint(ctx))

	after := newHarness(t, testConfig(), store)
	restored, err := after.eng.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	lineages := after.eng.Lineages()
	require.Len(t, lineages, 1)
	assert.Equal(t, 3, lineages[0].MaxReportNumberSeen)
	require.NotNil(t, lineages[0].LastPushedReportNumber)
	assert.Equal(t, 3, *lineages[0].LastPushedReportNumber)

	assert.Nil(t, after.jma(t, 3, false), "restored lineage remembers report 3")
	assert.Nil(t, after.jma(t, 4, false))
	require.NotNil(t, after.jma(t, 6, false))
	assert.Equal(t, []int{6}, after.out.reports())
}

func TestCheckpointDeletesResetLineages(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "checkpoint.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(ctx))

	h := newHarness(t, testConfig(), store)
	require.NotNil(t, h.jma(t, 1, false))
	require.NoError(t, h.eng.Checkpoint(ctx))

	h.eng.Reset()
	require.NoError(t, h.eng.Checkpoint(ctx))
	loaded, err := store.LoadLineages(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStartDemultiplexesConnectionPayloads(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	in := make(chan model.RawMessage, 4)
	h.eng.Start(context.Background(), in)

	in <- model.RawMessage{Connection: "wolfx_jma_eew", Payload: jmaReport("20250301120000", 1, 4.3, false)}
	in <- model.RawMessage{Connection: "wolfx_jma_eew", Payload: []byte(`{"type":"heartbeat"}`)}
	in <- model.RawMessage{Connection: "wolfx_jma_eew", Payload: []byte(`pong`)}
	in <- model.RawMessage{Connection: "wolfx_jma_eew", Payload: jmaReport("20250301120000", 3, 4.3, false)}
	close(in)
	h.eng.Wait()

	assert.Equal(t, []int{1, 3}, h.out.reports())
	assert.Equal(t, uint64(2), h.eng.Stats().Decisions)
}

func TestStartStopsOnCancel(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.eng.Start(ctx, make(chan model.RawMessage))
	cancel()

	done := make(chan struct{})
	go func() {
		h.eng.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestUpdateConfigSwapsCadence(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	require.NotNil(t, h.jma(t, 1, false))

	next := testConfig()
	next.Frequency.ReportN[model.CadenceJMA] = 2
	h.eng.UpdateConfig(next)

	require.NotNil(t, h.jma(t, 2, false))
	assert.Equal(t, []int{1, 2}, h.out.reports())
}

// hungStore blocks every write until released.
type hungStore struct {
	storage.Store
	release chan struct{}
}

func (s hungStore) SaveDecision(ctx context.Context, _ model.PushDecision) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestIngestDoesNotWaitOnDecisionStore(t *testing.T) {
	store := hungStore{release: make(chan struct{})}
	defer close(store.release)
	h := newHarness(t, testConfig(), store)

	done := make(chan *model.PushDecision, 1)
	go func() {
		d, _ := h.eng.Ingest(jmaReport("20250301120000", 1, 4.3, false), "jma_wolfx", "jma_eew")
		done <- d
	}()
	select {
	case d := <-done:
		require.NotNil(t, d)
	case <-time.After(time.Second):
		t.Fatal("ingest blocked on the decision store")
	}
	assert.Equal(t, []int{1}, h.out.reports(), "decision published without waiting on storage")
}
