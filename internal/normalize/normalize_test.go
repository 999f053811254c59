package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazardguard/internal/model"
)

var received = time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)

func TestNormalizeWolfxCENCEEW(t *testing.T) {
	raw := []byte(`{"type":"cenc_eew","ID":"202503011152.0001","EventID":"202503011152","ReportNum":2,
		"OriginTime":"2025-03-01 11:52:10","HypoCenter":"贵州毕节市威宁县","Latitude":25.66,"Longitude":104.24,
		"Magnitude":4.3,"Depth":null,"MaxIntensity":5,"isFinal":true}`)

	ev, err := NewSet().Normalize("cea_wolfx", "cenc_eew", raw, received)
	require.NoError(t, err)

	assert.Equal(t, "cea_wolfx", ev.SourceID)
	assert.Equal(t, model.ZoneChina, ev.SourceZone)
	assert.Equal(t, time.Date(2025, 3, 1, 3, 52, 10, 0, time.UTC), ev.OriginTime)
	assert.Equal(t, 2, ev.ReportNumber)
	assert.False(t, ev.IsFinal, "CEA does not publish final reports")
	assert.Equal(t, "202503011152", ev.EventID)
	require.NotNil(t, ev.Earthquake)
	assert.Nil(t, ev.Earthquake.DepthKm, "missing depth stays unknown")
	require.NotNil(t, ev.Earthquake.Magnitude)
	assert.InDelta(t, 4.3, *ev.Earthquake.Magnitude, 1e-9)
	require.NotNil(t, ev.Earthquake.Intensity)
	assert.InDelta(t, 5.0, *ev.Earthquake.Intensity, 1e-9)
	assert.Equal(t, "贵州毕节市威宁县", ev.Earthquake.PlaceName)
}

func TestNormalizeWolfxJMAEEW(t *testing.T) {
	raw := []byte(`{"type":"jma_eew","EventID":"20250301120000","Serial":"5","OriginTime":"2025/03/01 12:00:00",
		"Hypocenter":"千葉県東方沖","Latitude":35.7,"Longitude":140.8,"Magunitude":5.9,"Depth":40,
		"MaxIntensity":"5弱","isFinal":true,"isTraining":false}`)

	ev, err := NewSet().Normalize("jma_wolfx", "jma_eew", raw, received)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC), ev.OriginTime)
	assert.Equal(t, 5, ev.ReportNumber)
	assert.True(t, ev.IsFinal)
	require.NotNil(t, ev.Earthquake.Scale)
	assert.InDelta(t, 4.5, *ev.Earthquake.Scale, 1e-9)
	require.NotNil(t, ev.Earthquake.Magnitude)
	assert.InDelta(t, 5.9, *ev.Earthquake.Magnitude, 1e-9)
	assert.Nil(t, ev.Earthquake.Intensity)
}

func TestNormalizeP2PEEW(t *testing.T) {
	raw := []byte(`{"code":556,"id":"abc","earthquake":{"originTime":"2025/03/01 12:00:00",
		"hypocenter":{"name":"石川県能登地方","latitude":37.5,"longitude":137.3,"depth":-1,"magnitude":6.1}},
		"issue":{"eventId":"20250301120000","serial":"3"},"areas":[{"scaleFrom":45},{"scaleFrom":0,"scaleTo":55}],
		"cancelled":false,"test":false}`)

	ev, err := NewSet().Normalize("jma_p2p", "556", raw, received)
	require.NoError(t, err)

	assert.Equal(t, "20250301120000", ev.EventID)
	assert.Equal(t, 3, ev.ReportNumber)
	assert.Nil(t, ev.Earthquake.DepthKm)
	require.NotNil(t, ev.Earthquake.Scale)
	assert.InDelta(t, 5.5, *ev.Earthquake.Scale, 1e-9)
}

func TestNormalizeP2PQuakeDetermination(t *testing.T) {
	raw := []byte(`{"code":551,"id":"q1","issue":{"type":"DetailScale"},"earthquake":{"time":"2025/03/01 12:00:00",
		"hypocenter":{"name":"宮城県沖","latitude":38.3,"longitude":141.9,"depth":50,"magnitude":5.2},"maxScale":40}}`)

	ev, err := NewSet().Normalize("jma_p2p_info", "551", raw, received)
	require.NoError(t, err)
	assert.Equal(t, 4, ev.Determination)
	require.NotNil(t, ev.Earthquake.Scale)
	assert.InDelta(t, 4.0, *ev.Earthquake.Scale, 1e-9)
}

func TestNormalizeGlobalQuake(t *testing.T) {
	raw := []byte(`{"type":"earthquake","action":"update","data":{"id":"gq-1","originTimeMs":1740801130000,
		"latitude":-33.1,"longitude":-71.9,"depth":25.04,"magnitude":6.24,"intensity":"VII","region":"Chile","revisionId":4}}`)

	ev, err := NewSet().Normalize("global_quake", "earthquake", raw, received)
	require.NoError(t, err)

	assert.Equal(t, time.UnixMilli(1740801130000).UTC(), ev.OriginTime)
	assert.Equal(t, 4, ev.ReportNumber)
	assert.Equal(t, model.ZoneUTC, ev.SourceZone)
	require.NotNil(t, ev.Earthquake.Intensity)
	assert.InDelta(t, 7.0, *ev.Earthquake.Intensity, 1e-9)
	require.NotNil(t, ev.Earthquake.Magnitude)
	assert.InDelta(t, 6.2, *ev.Earthquake.Magnitude, 1e-9)
}

func TestNormalizeFanStudioCENC(t *testing.T) {
	raw := []byte(`{"type":"update","source":"cenc","Data":{"id":1,"eventId":"CC20250301","shockTime":"2025-03-01 11:52:10",
		"latitude":25.66,"longitude":104.24,"depth":10,"magnitude":4.31,"placeName":"贵州毕节市威宁县","infoTypeName":"[正式测定]"}}`)

	ev, err := NewSet().Normalize("cenc_fanstudio", "cenc", raw, received)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Determination)
	assert.InDelta(t, 4.3, *ev.Earthquake.Magnitude, 1e-9)
}

func TestNormalizeWeather(t *testing.T) {
	raw := []byte(`{"type":"update","source":"weatheralarm","Data":{"id":"44010041600000_20250301101500",
		"headline":"广东省广州市气象台发布暴雨橙色预警信号","description":"预计未来3小时...","type":"11B03","effective":"2025/03/01 10:15"}}`)

	ev, err := NewSet().Normalize("china_weather_fanstudio", "weatheralarm", raw, received)
	require.NoError(t, err)

	require.NotNil(t, ev.Weather)
	assert.Equal(t, "广东", ev.Weather.Province)
	assert.Equal(t, model.ColorOrange, ev.Weather.Color)
	assert.Equal(t, time.Date(2025, 3, 1, 2, 15, 0, 0, time.UTC), ev.OriginTime)
	assert.Equal(t, model.DomainWeather, ev.Domain())
}

func TestNormalizeP2PTsunami(t *testing.T) {
	raw := []byte(`{"code":552,"id":"t1","cancelled":false,"issue":{"time":"2025/03/01 12:10:00"},
		"areas":[{"grade":"Watch","name":"伊豆諸島"},{"grade":"Warning","name":"千葉県九十九里・外房",
		"firstHeight":{"arrivalTime":"2025/03/01 12:40:00"},"maxHeight":{"description":"３ｍ"}}]}`)

	ev, err := NewSet().Normalize("jma_tsunami_p2p", "552", raw, received)
	require.NoError(t, err)

	require.NotNil(t, ev.Tsunami)
	assert.Equal(t, model.TsunamiWarning, ev.Tsunami.Level)
	require.Len(t, ev.Tsunami.Regions, 2)
	require.NotNil(t, ev.Tsunami.Regions[1].ETA)
	assert.Equal(t, time.Date(2025, 3, 1, 3, 40, 0, 0, time.UTC), *ev.Tsunami.Regions[1].ETA)
}

func TestNormalizeFailures(t *testing.T) {
	set := NewSet()
	tests := []struct {
		name   string
		source string
		tag    string
		raw    string
	}{
		{name: "unknown route", source: "cea_wolfx", tag: "jma_eew", raw: `{}`},
		{name: "malformed json", source: "cea_wolfx", tag: "cenc_eew", raw: `{"Latitude":`},
		{name: "missing epicenter", source: "cea_wolfx", tag: "cenc_eew", raw: `{"OriginTime":"2025-03-01 11:52:10"}`},
		{name: "bad origin time", source: "cea_wolfx", tag: "cenc_eew", raw: `{"OriginTime":"yesterday","Latitude":1,"Longitude":2}`},
		{name: "p2p unknown position", source: "jma_p2p", tag: "556", raw: `{"earthquake":{"originTime":"2025/03/01 12:00:00","hypocenter":{"latitude":-200,"longitude":-200}}}`},
		{name: "empty weather", source: "china_weather_fanstudio", tag: "weatheralarm", raw: `{"Data":{"id":"x"}}`},
		{name: "empty payload", source: "cea_wolfx", tag: "cenc_eew", raw: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := set.Normalize(tt.source, tt.tag, []byte(tt.raw), received)
			var nerr *model.NormalizationError
			require.True(t, errors.As(err, &nerr), "got %v", err)
			assert.Equal(t, tt.source, nerr.SourceID)
		})
	}
}

func TestRoutesCoverCatalog(t *testing.T) {
	covered := map[string]bool{}
	for _, r := range NewSet().Routes() {
		_, ok := model.LookupSource(r.SourceID)
		assert.True(t, ok, "route %v names an unknown source", r)
		covered[r.SourceID] = true
	}
	for _, id := range model.SourceIDs() {
		assert.True(t, covered[id], "source %s has no normalizer", id)
	}
}

func TestParseShindo(t *testing.T) {
	tests := map[string]float64{"3": 3, "5弱": 4.5, "5強": 5.5, "6-": 5.5, "6+": 6.5, "7": 7}
	for in, want := range tests {
		got := parseShindo(in)
		require.NotNil(t, got, in)
		assert.InDelta(t, want, *got, 1e-9, in)
	}
	assert.Nil(t, parseShindo("不明"))
}

func TestNonFiniteNumbersAreUnknown(t *testing.T) {
	for _, raw := range []string{`"Inf"`, `"-Inf"`, `"+Infinity"`, `"NaN"`, `"1e400"`} {
		var f optFloat
		require.NoError(t, f.UnmarshalJSON([]byte(raw)), raw)
		assert.Nil(t, f.ptr(), raw)
	}
	assert.Nil(t, numeric("Inf"))

	raw := []byte(`{"type":"jma_eew","EventID":"20250301120000","Serial":"1","OriginTime":"2025/03/01 12:00:00",
		"Hypocenter":"威宁","Latitude":25.66,"Longitude":104.24,"Magunitude":"Inf","Depth":"-Inf","MaxIntensity":"3",
		"isFinal":false,"isCancel":false,"isTraining":false}`)
	ev, err := NewSet().Normalize("jma_wolfx", "jma_eew", raw, received)
	require.NoError(t, err)
	require.NotNil(t, ev.Earthquake)
	assert.Nil(t, ev.Earthquake.Magnitude)
	assert.Nil(t, ev.Earthquake.DepthKm)
}
