package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hazardguard/internal/model"
)

// fanData unwraps the FAN Studio envelope. initial_all entries arrive
// already unwrapped.
func fanData(raw []byte) []byte {
	var env struct {
		Upper json.RawMessage `json:"Data"`
		Lower json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw
	}
	for _, d := range []json.RawMessage{env.Upper, env.Lower} {
		d = bytes.TrimSpace(d)
		if len(d) > 0 && d[0] == '{' {
			return d
		}
	}
	return raw
}

func newQuake(src model.Source, origin string, lat, lon optFloat) (model.Event, *model.Earthquake, error) {
	if !lat.ok || !lon.ok {
		return model.Event{}, nil, errors.New("missing epicenter")
	}
	if lat.v < -90 || lat.v > 90 || lon.v < -180 || lon.v > 180 {
		return model.Event{}, nil, fmt.Errorf("epicenter out of range: %v,%v", lat.v, lon.v)
	}
	t, err := ParseTimestamp(origin, model.ZoneLocation(src.Zone))
	if err != nil {
		return model.Event{}, nil, fmt.Errorf("origin time: %w", err)
	}
	q := &model.Earthquake{Latitude: lat.v, Longitude: lon.v}
	return model.Event{OriginTime: t, Earthquake: q}, q, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

type fanStudioQuake struct {
	ID           flexString `json:"id"`
	EventID      flexString `json:"eventId"`
	ShockTime    flexString `json:"shockTime"`
	Latitude     optFloat   `json:"latitude"`
	Longitude    optFloat   `json:"longitude"`
	Depth        optFloat   `json:"depth"`
	Magnitude    optFloat   `json:"magnitude"`
	EpiIntensity flexString `json:"epiIntensity"`
	MaxIntensity flexString `json:"maxIntensity"`
	PlaceName    string     `json:"placeName"`
	Updates      flexString `json:"updates"`
	IsFinal      flexBool   `json:"isFinal"`
	Final        flexBool   `json:"final"`
	Cancel       flexBool   `json:"cancel"`
	InfoTypeName string     `json:"infoTypeName"`
}

// fanStudioEEW covers the CEA, CWA and JMA warning feeds relayed by FAN
// Studio. JMA reports its estimate as a shindo string.
func fanStudioEEW(raw []byte, src model.Source) (model.Event, error) {
	var p fanStudioQuake
	if err := json.Unmarshal(fanData(raw), &p); err != nil {
		return model.Event{}, err
	}
	ev, q, err := newQuake(src, p.ShockTime.String(), p.Latitude, p.Longitude)
	if err != nil {
		return model.Event{}, err
	}
	ev.EventID = firstNonEmpty(p.EventID.String(), p.ID.String())
	ev.ReportNumber, _ = p.Updates.Int()
	ev.IsFinal = bool(p.IsFinal || p.Final)
	ev.IsCancel = bool(p.Cancel)
	q.Magnitude = p.Magnitude.rounded()
	q.DepthKm = p.Depth.ptr()
	q.PlaceName = p.PlaceName
	q.InfoType = p.InfoTypeName
	intensity := firstNonEmpty(p.EpiIntensity.String(), p.MaxIntensity.String())
	if src.Threshold == model.ThresholdScale {
		q.Scale = parseShindo(intensity)
	} else {
		q.Intensity = numeric(intensity)
	}
	return ev, nil
}

func fanStudioCENC(raw []byte, src model.Source) (model.Event, error) {
	var p fanStudioQuake
	if err := json.Unmarshal(fanData(raw), &p); err != nil {
		return model.Event{}, err
	}
	if p.EventID == "" && p.ID == "" {
		return model.Event{}, errors.New("missing event id")
	}
	ev, q, err := newQuake(src, p.ShockTime.String(), p.Latitude, p.Longitude)
	if err != nil {
		return model.Event{}, err
	}
	ev.EventID = firstNonEmpty(p.EventID.String(), p.ID.String())
	ev.Determination = cencDetermination(p.InfoTypeName)
	q.Magnitude = p.Magnitude.rounded()
	q.DepthKm = p.Depth.rounded()
	q.Intensity = numeric(p.EpiIntensity.String())
	q.PlaceName = p.PlaceName
	q.InfoType = p.InfoTypeName
	return ev, nil
}

func fanStudioUSGS(raw []byte, src model.Source) (model.Event, error) {
	var p fanStudioQuake
	if err := json.Unmarshal(fanData(raw), &p); err != nil {
		return model.Event{}, err
	}
	if p.ID == "" {
		return model.Event{}, errors.New("missing event id")
	}
	ev, q, err := newQuake(src, p.ShockTime.String(), p.Latitude, p.Longitude)
	if err != nil {
		return model.Event{}, err
	}
	ev.EventID = p.ID.String()
	ev.Determination = usgsDetermination(p.InfoTypeName)
	q.Magnitude = p.Magnitude.rounded()
	q.DepthKm = p.Depth.rounded()
	q.PlaceName = p.PlaceName
	q.InfoType = p.InfoTypeName
	return ev, nil
}

type wolfxEEWPayload struct {
	ID           flexString `json:"ID"`
	EventID      flexString `json:"EventID"`
	ReportNum    flexString `json:"ReportNum"`
	Serial       flexString `json:"Serial"`
	OriginTime   flexString `json:"OriginTime"`
	Hypocenter   string     `json:"Hypocenter"`
	Latitude     optFloat   `json:"Latitude"`
	Longitude    optFloat   `json:"Longitude"`
	Magnitude    optFloat   `json:"Magnitude"`
	Magunitude   optFloat   `json:"Magunitude"`
	Depth        optFloat   `json:"Depth"`
	MaxIntensity flexString `json:"MaxIntensity"`
	IsFinal      flexBool   `json:"isFinal"`
	IsCancel     flexBool   `json:"isCancel"`
	IsTraining   flexBool   `json:"isTraining"`
}

// wolfxEEW covers cenc_eew, cwa_eew and jma_eew. JMA numbers its reports
// through Serial, the others through ReportNum.
func wolfxEEW(raw []byte, src model.Source) (model.Event, error) {
	var p wolfxEEWPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	ev, q, err := newQuake(src, p.OriginTime.String(), p.Latitude, p.Longitude)
	if err != nil {
		return model.Event{}, err
	}
	ev.EventID = firstNonEmpty(p.EventID.String(), p.ID.String())
	if n, ok := p.ReportNum.Int(); ok {
		ev.ReportNumber = n
	} else if n, ok := p.Serial.Int(); ok {
		ev.ReportNumber = n
	}
	ev.IsFinal = bool(p.IsFinal)
	ev.IsCancel = bool(p.IsCancel)
	ev.IsTraining = bool(p.IsTraining)
	q.Magnitude = p.Magnitude.ptr()
	if q.Magnitude == nil {
		q.Magnitude = p.Magunitude.ptr()
	}
	q.DepthKm = p.Depth.ptr()
	q.PlaceName = p.Hypocenter
	if src.Threshold == model.ThresholdScale {
		q.Scale = parseShindo(p.MaxIntensity.String())
	} else {
		q.Intensity = numeric(p.MaxIntensity.String())
	}
	return ev, nil
}

type wolfxListEntry struct {
	Type      string     `json:"type"`
	Time      flexString `json:"time"`
	Location  string     `json:"location"`
	Magnitude optFloat   `json:"magnitude"`
	Depth     optFloat   `json:"depth"`
	Latitude  optFloat   `json:"latitude"`
	Longitude optFloat   `json:"longitude"`
	Intensity optFloat   `json:"intensity"`
	Shindo    flexString `json:"shindo"`
	MD5       string     `json:"md5"`
}

// wolfxLatest returns the newest entry (No1) of an eqlist document.
func wolfxLatest(raw []byte) (wolfxListEntry, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return wolfxListEntry{}, err
	}
	first, ok := doc["No1"]
	if !ok {
		return wolfxListEntry{}, errors.New("eqlist has no entries")
	}
	var entry wolfxListEntry
	if err := json.Unmarshal(first, &entry); err != nil {
		return wolfxListEntry{}, err
	}
	return entry, nil
}

func wolfxEQList(raw []byte, src model.Source) (model.Event, error) {
	entry, err := wolfxLatest(raw)
	if err != nil {
		return model.Event{}, err
	}
	ev, q, err := newQuake(src, entry.Time.String(), entry.Latitude, entry.Longitude)
	if err != nil {
		return model.Event{}, err
	}
	ev.EventID = entry.MD5
	q.Magnitude = entry.Magnitude.ptr()
	q.DepthKm = entry.Depth.ptr()
	q.PlaceName = entry.Location
	q.InfoType = entry.Type
	if src.Threshold == model.ThresholdScale {
		q.Scale = parseShindo(entry.Shindo.String())
	} else {
		q.Intensity = entry.Intensity.ptr()
		ev.Determination = cencDetermination(entry.Type)
	}
	return ev, nil
}

type p2pHypocenter struct {
	Name      string   `json:"name"`
	Latitude  optFloat `json:"latitude"`
	Longitude optFloat `json:"longitude"`
	Depth     optFloat `json:"depth"`
	Magnitude optFloat `json:"magnitude"`
}

type p2pEarthquake struct {
	Time       flexString    `json:"time"`
	OriginTime flexString    `json:"originTime"`
	Hypocenter p2pHypocenter `json:"hypocenter"`
	MaxScale   *int          `json:"maxScale"`
}

type p2pIssue struct {
	EventID flexString `json:"eventId"`
	Serial  flexString `json:"serial"`
	Type    string     `json:"type"`
	Time    flexString `json:"time"`
}

type p2pArea struct {
	Name      string `json:"name"`
	ScaleFrom int    `json:"scaleFrom"`
	ScaleTo   int    `json:"scaleTo"`
}

type p2pQuakePayload struct {
	ID         flexString    `json:"id"`
	Code       int           `json:"code"`
	Earthquake p2pEarthquake `json:"earthquake"`
	Issue      p2pIssue      `json:"issue"`
	Areas      []p2pArea     `json:"areas"`
	Cancelled  flexBool      `json:"cancelled"`
	Test       flexBool      `json:"test"`
	IsFinal    flexBool      `json:"is_final"`
}

// P2P marks undetermined hypocentre values with -1 (depth, magnitude) and
// -200 (coordinates).
const (
	p2pUnknownValue    = -1
	p2pUnknownPosition = -200
)

func p2pValue(f optFloat) optFloat {
	if f.ok && f.v <= p2pUnknownValue {
		return optFloat{}
	}
	return f
}

func p2pPosition(f optFloat) optFloat {
	if f.ok && f.v <= p2pUnknownPosition {
		return optFloat{}
	}
	return f
}

func p2pEEW(raw []byte, src model.Source) (model.Event, error) {
	var p p2pQuakePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	hypo := p.Earthquake.Hypocenter
	origin := firstNonEmpty(p.Earthquake.OriginTime.String(), p.Earthquake.Time.String())
	ev, q, err := newQuake(src, origin, p2pPosition(hypo.Latitude), p2pPosition(hypo.Longitude))
	if err != nil {
		return model.Event{}, err
	}
	ev.EventID = firstNonEmpty(p.Issue.EventID.String(), p.ID.String())
	ev.ReportNumber, _ = p.Issue.Serial.Int()
	ev.IsFinal = bool(p.IsFinal)
	ev.IsCancel = bool(p.Cancelled)
	ev.IsTraining = bool(p.Test)
	q.Magnitude = p2pValue(hypo.Magnitude).ptr()
	q.DepthKm = p2pValue(hypo.Depth).ptr()
	q.PlaceName = hypo.Name
	if p.Earthquake.MaxScale != nil {
		q.Scale = p2pScale(*p.Earthquake.MaxScale)
	} else {
		best := 0
		for _, area := range p.Areas {
			scale := area.ScaleFrom
			if scale <= 0 {
				scale = area.ScaleTo
			}
			if scale > best {
				best = scale
			}
		}
		q.Scale = p2pScale(best)
	}
	return ev, nil
}

var jmaIssueLadder = map[string]int{
	"ScalePrompt":         1,
	"Destination":         2,
	"ScaleAndDestination": 3,
	"DetailScale":         4,
	"Foreign":             1,
}

func p2pQuake(raw []byte, src model.Source) (model.Event, error) {
	var p p2pQuakePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	hypo := p.Earthquake.Hypocenter
	ev, q, err := newQuake(src, p.Earthquake.Time.String(), p2pPosition(hypo.Latitude), p2pPosition(hypo.Longitude))
	if err != nil {
		return model.Event{}, err
	}
	ev.EventID = p.ID.String()
	ev.Determination = jmaIssueLadder[p.Issue.Type]
	q.Magnitude = p2pValue(hypo.Magnitude).ptr()
	q.DepthKm = p2pValue(hypo.Depth).ptr()
	q.PlaceName = hypo.Name
	q.InfoType = p.Issue.Type
	if p.Earthquake.MaxScale != nil {
		q.Scale = p2pScale(*p.Earthquake.MaxScale)
	}
	return ev, nil
}

type globalQuakePayload struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID            flexString `json:"id"`
		OriginTimeIso flexString `json:"originTimeIso"`
		OriginTimeMs  flexString `json:"originTimeMs"`
		Latitude      optFloat   `json:"latitude"`
		Longitude     optFloat   `json:"longitude"`
		Depth         optFloat   `json:"depth"`
		Magnitude     optFloat   `json:"magnitude"`
		Intensity     string     `json:"intensity"`
		Region        string     `json:"region"`
		RevisionID    flexString `json:"revisionId"`
	} `json:"data"`
}

func globalQuake(raw []byte, src model.Source) (model.Event, error) {
	var p globalQuakePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Event{}, err
	}
	d := p.Data
	if d.ID == "" {
		return model.Event{}, errors.New("missing event id")
	}
	ev, q, err := newQuake(src, firstNonEmpty(d.OriginTimeIso.String(), d.OriginTimeMs.String()), d.Latitude, d.Longitude)
	if err != nil {
		return model.Event{}, err
	}
	ev.EventID = d.ID.String()
	ev.ReportNumber, _ = d.RevisionID.Int()
	switch strings.ToLower(p.Action) {
	case "cancel", "remove", "delete":
		ev.IsCancel = true
	}
	q.Magnitude = d.Magnitude.rounded()
	q.DepthKm = d.Depth.rounded()
	q.Intensity = parseRoman(d.Intensity)
	q.PlaceName = d.Region
	return ev, nil
}

func cencDetermination(info string) int {
	switch {
	case strings.Contains(info, "正式"):
		return 2
	case strings.Contains(info, "自动"):
		return 1
	}
	return 0
}

func usgsDetermination(info string) int {
	switch strings.ToLower(strings.TrimSpace(info)) {
	case "reviewed":
		return 2
	case "automatic":
		return 1
	}
	return 0
}

func numeric(value string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || !finite(v) {
		return nil
	}
	return &v
}
