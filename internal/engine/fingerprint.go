package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"hazardguard/internal/config"
	"hazardguard/internal/model"
)

const kmPerDegreeLat = 111.32

type fingerprinter struct {
	gridKm     float64
	magBucket  float64
	timeBucket time.Duration
	global     bool
}

func newFingerprinter(cfg config.DedupConfig) fingerprinter {
	return fingerprinter{
		gridKm:     cfg.GridKm,
		magBucket:  cfg.MagnitudeBucket,
		timeBucket: cfg.TimeBucket,
		global:     cfg.Scope == config.ScopeGlobal,
	}
}

func (f fingerprinter) scope(ev model.Event) string {
	if f.global {
		return config.ScopeGlobal
	}
	return ev.SourceID
}

// Fingerprint buckets an earthquake by grid cell, magnitude and origin
// minute within its scope. Other hazards hash their identity fields.
func (f fingerprinter) Fingerprint(ev model.Event) string {
	scope := f.scope(ev)
	if ev.Earthquake == nil {
		return hashIdentity(scope, ev)
	}
	q := ev.Earthquake
	gx, gy := f.cell(q.Latitude, q.Longitude)
	mb := int64(-1)
	if q.Magnitude != nil && f.magBucket > 0 {
		mb = int64(math.Floor(*q.Magnitude / f.magBucket))
	}
	origin := ev.OriginTime
	if origin.IsZero() {
		origin = ev.ReceivedAt
	}
	tb := origin.Unix()
	if f.timeBucket > 0 {
		tb = int64(math.Floor(float64(origin.UnixNano()) / float64(f.timeBucket)))
	}
	return strings.Join([]string{
		"eq",
		strconv.FormatInt(gx, 10),
		strconv.FormatInt(gy, 10),
		strconv.FormatInt(mb, 10),
		strconv.FormatInt(tb, 10),
		scope,
	}, "|")
}

// cell maps a coordinate to a grid cell roughly gridKm on a side. Longitude
// cells widen with latitude so they keep their ground width.
func (f fingerprinter) cell(lat, lon float64) (int64, int64) {
	latStep := f.gridKm / kmPerDegreeLat
	gy := math.Floor(lat / latStep)
	center := (gy + 0.5) * latStep
	cos := math.Max(math.Cos(center*math.Pi/180), 0.01)
	lonStep := latStep / cos
	gx := math.Floor(lon / lonStep)
	return int64(gx), int64(gy)
}

func hashIdentity(scope string, ev model.Event) string {
	parts := []string{string(ev.Domain()), ev.SourceID, ev.EventID}
	if ev.EventID == "" {
		switch {
		case ev.Tsunami != nil:
			parts = append(parts, ev.Tsunami.Title, ev.OriginTime.UTC().Format(time.RFC3339))
		case ev.Weather != nil:
			parts = append(parts, ev.Weather.Headline, ev.OriginTime.UTC().Format(time.RFC3339))
		}
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return string(ev.Domain()) + "|" + hex.EncodeToString(h[:16]) + "|" + scope
}

// revisionKey links reports that share an upstream event id.
func revisionKey(scope string, ev model.Event) string {
	if ev.EventID == "" {
		return ""
	}
	return scope + "|" + string(ev.Domain()) + "|" + ev.EventID
}
