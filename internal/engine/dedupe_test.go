package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazardguard/internal/config"
	"hazardguard/internal/model"
)

func quake(source string, lat, lon float64, mag *float64, at time.Time) model.Event {
	return model.Event{
		SourceID:   source,
		OriginTime: at,
		ReceivedAt: at,
		Earthquake: &model.Earthquake{Latitude: lat, Longitude: lon, Magnitude: mag},
	}
}

func TestFingerprintBuckets(t *testing.T) {
	fp := newFingerprinter(config.DefaultConfig().Dedup)
	at := time.Date(2025, 3, 1, 3, 0, 10, 0, time.UTC)
	base := fp.Fingerprint(quake("jma_wolfx", 25.66, 104.24, model.Float(4.3), at))

	assert.Equal(t, base, fp.Fingerprint(quake("jma_wolfx", 25.67, 104.25, model.Float(4.4), at.Add(20*time.Second))),
		"nearby revision shares the fingerprint")
	assert.NotEqual(t, base, fp.Fingerprint(quake("cea_wolfx", 25.66, 104.24, model.Float(4.3), at)),
		"source scope separates sources")
	assert.NotEqual(t, base, fp.Fingerprint(quake("jma_wolfx", 26.5, 104.24, model.Float(4.3), at)))
	assert.NotEqual(t, base, fp.Fingerprint(quake("jma_wolfx", 25.66, 104.24, model.Float(5.1), at)))
	assert.NotEqual(t, base, fp.Fingerprint(quake("jma_wolfx", 25.66, 104.24, model.Float(4.3), at.Add(time.Minute))))

	unknown := fp.Fingerprint(quake("jma_wolfx", 25.66, 104.24, nil, at))
	assert.Contains(t, unknown, "|-1|", "unknown magnitude has its own bucket")
}

func TestFingerprintCellsWidenWithLatitude(t *testing.T) {
	fp := newFingerprinter(config.DedupConfig{GridKm: 20})
	// 0.3 degrees of longitude is ~33 km at the equator but ~10 km at 70N.
	x1, _ := fp.cell(0.05, 10.0)
	x2, _ := fp.cell(0.05, 10.3)
	assert.NotEqual(t, x1, x2)

	x1, _ = fp.cell(70.05, 10.0)
	x2, _ = fp.cell(70.05, 10.1)
	assert.LessOrEqual(t, x2-x1, int64(1))

	x, _ := fp.cell(90, 100)
	assert.Equal(t, int64(5), x, "cell width is clamped near the poles")
}

func TestFingerprintNonEarthquake(t *testing.T) {
	fp := newFingerprinter(config.DefaultConfig().Dedup)
	at := time.Date(2025, 3, 1, 2, 15, 0, 0, time.UTC)
	w := model.Event{SourceID: "china_weather_fanstudio", OriginTime: at, Weather: &model.Weather{Headline: "暴雨橙色预警"}}
	a := fp.Fingerprint(w)
	assert.Equal(t, a, fp.Fingerprint(w))
	w.EventID = "44010041600000_20250301101500"
	assert.NotEqual(t, a, fp.Fingerprint(w))
	assert.Equal(t, "weather", domainOf(a))
}

func TestClassifyTransitions(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 3, 1, 0, 0, time.UTC))
	d := NewDeduplicator(config.DefaultConfig().Dedup, clock)
	at := time.Date(2025, 3, 1, 3, 0, 10, 0, time.UTC)
	ev := quake("jma_p2p_info", 38.3, 141.9, model.Float(5.2), at)
	ev.EventID = "q1"
	ev.ReportNumber = 1

	l, class, err := d.Classify(ev)
	require.NoError(t, err)
	assert.Equal(t, model.ClassNew, class)

	ev.Determination = 2
	_, class, _ = d.Classify(ev)
	assert.Equal(t, model.ClassUpgrade, class, "a firmer determination upgrades")

	_, class, _ = d.Classify(ev)
	assert.Equal(t, model.ClassRepeat, class)

	ev.IsFinal = true
	got, class, _ := d.Classify(ev)
	assert.Equal(t, model.ClassUpdate, class, "first final report updates")
	assert.Equal(t, model.StateFinalized, got.State)
	assert.Equal(t, l.ID, got.ID)
	assert.Equal(t, 4, got.ReportCount)
}

func TestMarkPushedNeverMovesBack(t *testing.T) {
	d := NewDeduplicator(config.DefaultConfig().Dedup, clockwork.NewFakeClock())
	ev := quake("jma_wolfx", 35, 140, model.Float(5), time.Now())
	ev.ReportNumber = 6
	l, _, _ := d.Classify(ev)

	d.MarkPushed(l.ID, 6)
	d.MarkPushed(l.ID, 3)
	got, ok := d.Get(l.ID)
	require.True(t, ok)
	assert.Equal(t, 6, *got.LastPushedReportNumber)
}

func TestRestoreSkipsCorruptLineages(t *testing.T) {
	now := time.Date(2025, 3, 1, 3, 1, 0, 0, time.UTC)
	d := NewDeduplicator(config.DefaultConfig().Dedup, clockwork.NewFakeClockAt(now))
	good := model.Lineage{ID: "a", Fingerprint: "eq|1|2|8|3|jma_wolfx", SourceScope: "jma_wolfx", EventID: "e1",
		FirstSeenAt: now, LastSeenAt: now, MaxReportNumberSeen: 3, LastPushedReportNumber: model.Int(3),
		ReportCount: 3, State: model.StateUpdated}
	bad := good
	bad.ID = "b"
	bad.LastPushedReportNumber = model.Int(7)
	stale := good
	stale.ID = "c"
	stale.LastSeenAt = now.Add(-48 * time.Hour)
	stale.FirstSeenAt = stale.LastSeenAt

	restored, skipped := d.Restore([]model.Lineage{good, bad, stale})
	assert.Equal(t, 1, restored)
	require.Len(t, skipped, 1)
	var violation *model.InvariantViolation
	assert.True(t, errors.As(skipped[0], &violation))
	assert.Equal(t, "b", violation.LineageID)

	ev := quake("jma_wolfx", 10, 10, nil, now)
	ev.EventID = "e1"
	ev.ReportNumber = 3
	l, class, err := d.Classify(ev)
	require.NoError(t, err)
	assert.Equal(t, "a", l.ID, "restored revision link still matches")
	assert.Equal(t, model.ClassRepeat, class)
}
