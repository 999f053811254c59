package normalize

import (
	"errors"
	"time"

	"hazardguard/internal/model"
)

// Func decodes one payload family into a canonical event. Common fields
// (source, zone, receipt time) are filled in by Set.
type Func func(raw []byte, src model.Source) (model.Event, error)

type Route struct {
	SourceID string
	Tag      string
}

var routes = map[Route]Func{
	{SourceID: "cea_fanstudio", Tag: "cea"}:                    fanStudioEEW,
	{SourceID: "cwa_fanstudio", Tag: "cwa"}:                    fanStudioEEW,
	{SourceID: "jma_fanstudio", Tag: "jma"}:                    fanStudioEEW,
	{SourceID: "cenc_fanstudio", Tag: "cenc"}:                  fanStudioCENC,
	{SourceID: "usgs_fanstudio", Tag: "usgs"}:                  fanStudioUSGS,
	{SourceID: "china_tsunami_fanstudio", Tag: "tsunami"}:      fanStudioTsunami,
	{SourceID: "china_weather_fanstudio", Tag: "weatheralarm"}: fanStudioWeather,

	{SourceID: "cea_wolfx", Tag: "cenc_eew"}:        wolfxEEW,
	{SourceID: "cwa_wolfx", Tag: "cwa_eew"}:         wolfxEEW,
	{SourceID: "jma_wolfx", Tag: "jma_eew"}:         wolfxEEW,
	{SourceID: "cenc_wolfx", Tag: "cenc_eqlist"}:    wolfxEQList,
	{SourceID: "jma_wolfx_info", Tag: "jma_eqlist"}: wolfxEQList,

	{SourceID: "jma_p2p", Tag: "556"}:         p2pEEW,
	{SourceID: "jma_p2p_info", Tag: "551"}:    p2pQuake,
	{SourceID: "jma_tsunami_p2p", Tag: "552"}: p2pTsunami,

	{SourceID: "global_quake", Tag: "earthquake"}: globalQuake,
}

// Set is the normalizer table. It is read-only after construction.
type Set struct {
	routes map[Route]Func
}

func NewSet() *Set {
	table := make(map[Route]Func, len(routes))
	for r, fn := range routes {
		table[r] = fn
	}
	return &Set{routes: table}
}

func (s *Set) Routes() []Route {
	out := make([]Route, 0, len(s.routes))
	for r := range s.routes {
		out = append(out, r)
	}
	return out
}

// Normalize turns one tagged payload into a canonical event. Every failure is
// a *model.NormalizationError.
func (s *Set) Normalize(sourceID, tag string, raw []byte, receivedAt time.Time) (model.Event, error) {
	fail := func(reason string, err error) (model.Event, error) {
		return model.Event{}, &model.NormalizationError{SourceID: sourceID, Tag: tag, Reason: reason, Err: err}
	}
	fn, ok := s.routes[Route{SourceID: sourceID, Tag: tag}]
	if !ok {
		return fail("no normalizer for route", nil)
	}
	src, ok := model.LookupSource(sourceID)
	if !ok {
		return fail("unknown source", nil)
	}
	if len(raw) == 0 {
		return fail("empty payload", nil)
	}
	ev, err := fn(raw, src)
	if err != nil {
		return fail("decode", err)
	}
	if ev.Domain() != src.Domain {
		return fail("decoded domain does not match source", errors.New(string(ev.Domain())))
	}
	ev.SourceID = src.ID
	ev.MessageType = src.MessageType
	ev.SourceZone = src.Zone
	ev.ReceivedAt = receivedAt.UTC()
	if ev.ReportNumber < 1 {
		ev.ReportNumber = 1
	}
	if !src.SupportsFinal {
		ev.IsFinal = false
	}
	if ev.OriginTime.IsZero() {
		if ev.Domain() == model.DomainEarthquake {
			return fail("missing origin time", nil)
		}
		ev.OriginTime = ev.ReceivedAt
	}
	return ev, nil
}
