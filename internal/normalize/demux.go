package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"

	"hazardguard/internal/model"
)

// Envelope is one routable payload cut out of a connection message.
type Envelope struct {
	SourceID string
	Tag      string
	Payload  []byte
}

var fanStudioSources = map[string]string{
	"cea":          "cea_fanstudio",
	"cwa":          "cwa_fanstudio",
	"jma":          "jma_fanstudio",
	"cenc":         "cenc_fanstudio",
	"usgs":         "usgs_fanstudio",
	"tsunami":      "china_tsunami_fanstudio",
	"weatheralarm": "china_weather_fanstudio",
}

var wolfxSources = map[string]string{
	"cenc_eew":    "cea_wolfx",
	"cwa_eew":     "cwa_wolfx",
	"jma_eew":     "jma_wolfx",
	"cenc_eqlist": "cenc_wolfx",
	"jma_eqlist":  "jma_wolfx_info",
}

var p2pSources = map[int]string{
	556: "jma_p2p",
	551: "jma_p2p_info",
	552: "jma_tsunami_p2p",
}

// Demux splits a connection payload by wire format. Keep-alive frames and
// message kinds with no normalizer yield no envelopes and no error.
func Demux(format string, payload []byte) ([]Envelope, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, &model.NormalizationError{SourceID: format, Reason: "payload is not a JSON object"}
	}
	var out []Envelope
	var err error
	switch format {
	case "fan_studio":
		out, err = demuxFanStudio(payload)
	case "wolfx":
		out, err = demuxWolfx(payload)
	case "p2p":
		out, err = demuxP2P(payload)
	case "global_quake":
		out, err = demuxGlobalQuake(payload)
	case "envelope":
		out, err = demuxEnvelope(payload)
	default:
		return nil, &model.NormalizationError{SourceID: format, Reason: "unknown wire format"}
	}
	if err != nil {
		return nil, &model.NormalizationError{SourceID: format, Reason: "demux", Err: err}
	}
	return out, nil
}

func demuxFanStudio(payload []byte) ([]Envelope, error) {
	var head struct {
		Type   string `json:"type"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "initial_all":
		var all map[string]json.RawMessage
		if err := json.Unmarshal(payload, &all); err != nil {
			return nil, err
		}
		var out []Envelope
		for tag, body := range all {
			id, ok := fanStudioSources[tag]
			body = bytes.TrimSpace(body)
			if !ok || len(body) == 0 || body[0] != '{' {
				continue
			}
			out = append(out, Envelope{SourceID: id, Tag: tag, Payload: body})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
		return out, nil
	case "heartbeat", "ping", "pong":
		return nil, nil
	}
	if id, ok := fanStudioSources[head.Source]; ok {
		return []Envelope{{SourceID: id, Tag: head.Source, Payload: payload}}, nil
	}
	return nil, nil
}

func demuxWolfx(payload []byte) ([]Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, err
	}
	if id, ok := wolfxSources[head.Type]; ok {
		return []Envelope{{SourceID: id, Tag: head.Type, Payload: payload}}, nil
	}
	return nil, nil
}

func demuxP2P(payload []byte) ([]Envelope, error) {
	var head struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, err
	}
	if id, ok := p2pSources[head.Code]; ok {
		return []Envelope{{SourceID: id, Tag: strconv.Itoa(head.Code), Payload: payload}}, nil
	}
	return nil, nil
}

func demuxGlobalQuake(payload []byte) ([]Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, err
	}
	if head.Type != "earthquake" {
		return nil, nil
	}
	return []Envelope{{SourceID: "global_quake", Tag: head.Type, Payload: payload}}, nil
}

// demuxEnvelope reads relayed payloads that were tagged upstream:
// {"source_id": "...", "tag": "...", "payload": {...}}.
func demuxEnvelope(payload []byte) ([]Envelope, error) {
	var env struct {
		SourceID string          `json:"source_id"`
		Tag      string          `json:"tag"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.SourceID == "" || env.Tag == "" || len(env.Payload) == 0 {
		return nil, errors.New("envelope requires source_id, tag and payload")
	}
	return []Envelope{{SourceID: env.SourceID, Tag: env.Tag, Payload: env.Payload}}, nil
}
