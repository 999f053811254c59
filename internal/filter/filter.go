// Package filter decides whether a canonical event is significant enough to
// push. Each domain has its own OR-of-ANDs group; local monitoring can gate
// the result further in strict mode.
package filter

import (
	"time"

	"hazardguard/internal/config"
	"hazardguard/internal/intensity"
	"hazardguard/internal/model"
)

const (
	ReasonDomainDisabled     = "domain_disabled"
	ReasonTraining           = "training"
	ReasonStale              = "stale"
	ReasonBelowThreshold     = "below_threshold"
	ReasonKeyword            = "keyword"
	ReasonTsunamiLevel       = "tsunami_level"
	ReasonWeatherColor       = "weather_color"
	ReasonWeatherProvince    = "weather_province"
	ReasonLocalThreshold     = "local_threshold"
	ReasonLocalNoCoordinates = "local_no_coordinates"
)

type Verdict struct {
	Pass           bool
	Reason         string
	LocalIntensity *float64
	DistanceKm     *float64
}

// Chain is built once per config and is safe for concurrent use.
type Chain struct {
	cfg          config.FilterConfig
	quakeWords   *allowList
	weatherWords *allowList
	provinces    map[string]struct{}
	minTsunami   model.TsunamiLevel
	minColor     model.ColorLevel
	observer     intensity.Point
}

func New(cfg config.FilterConfig) *Chain {
	c := &Chain{
		cfg:          cfg,
		quakeWords:   buildAllowList(cfg.Earthquake.Keywords),
		weatherWords: buildAllowList(cfg.Weather.Keywords),
		provinces:    buildSet(cfg.Weather.Provinces),
		observer:     intensity.Point{Lat: cfg.Local.Latitude, Lon: cfg.Local.Longitude},
	}
	if lvl, ok := model.ParseTsunamiLevel(cfg.Tsunami.MinLevel); ok {
		c.minTsunami = lvl
	}
	if color, ok := model.ParseColorLevel(cfg.Weather.MinColorLevel); ok {
		c.minColor = color
	}
	return c
}

func (c *Chain) Evaluate(ev model.Event, now time.Time) Verdict {
	var v Verdict
	if c.cfg.Local.Enabled && ev.Earthquake.HasLocation() {
		q := ev.Earthquake
		epicenter := intensity.Point{Lat: q.Latitude, Lon: q.Longitude}
		mag, depth := 0.0, 0.0
		if q.Magnitude != nil {
			mag = *q.Magnitude
		}
		if q.DepthKm != nil {
			depth = *q.DepthKm
		}
		d := intensity.Distance(epicenter, c.observer)
		i := intensity.Estimate(mag, depth, epicenter, c.observer)
		v.DistanceKm = &d
		v.LocalIntensity = &i
	}

	if !c.cfg.DomainEnabled(ev.Domain()) {
		return v.fail(ReasonDomainDisabled)
	}
	if ev.IsTraining && !c.cfg.AllowTraining {
		return v.fail(ReasonTraining)
	}
	if c.cfg.MaxEventAge > 0 && !ev.OriginTime.IsZero() && now.Sub(ev.OriginTime) > c.cfg.MaxEventAge {
		return v.fail(ReasonStale)
	}

	var reason string
	switch ev.Domain() {
	case model.DomainEarthquake:
		reason = c.earthquake(ev)
	case model.DomainTsunami:
		reason = c.tsunami(ev)
	case model.DomainWeather:
		reason = c.weather(ev)
	}
	if reason != "" {
		return v.fail(reason)
	}

	if c.cfg.Local.Enabled && c.cfg.Local.StrictMode && ev.Domain() == model.DomainEarthquake {
		if v.LocalIntensity == nil {
			return v.fail(ReasonLocalNoCoordinates)
		}
		if *v.LocalIntensity < c.cfg.Local.IntensityThreshold {
			return v.fail(ReasonLocalThreshold)
		}
	}
	v.Pass = true
	return v
}

func (v Verdict) fail(reason string) Verdict {
	v.Pass = false
	v.Reason = reason
	return v
}

// earthquake applies the threshold group of the source's catalog kind. A
// group passes if any known value clears its minimum; a group with no known
// values passes. Cancellations skip thresholds.
func (c *Chain) earthquake(ev model.Event) string {
	f := c.cfg.Earthquake
	q := ev.Earthquake
	if f.Enabled && !ev.IsCancel {
		kind := model.ThresholdIntensity
		if src, ok := model.LookupSource(ev.SourceID); ok {
			kind = src.Threshold
		}
		known, pass := false, false
		check := func(value *float64, min float64) {
			if value == nil {
				return
			}
			known = true
			if *value >= min {
				pass = true
			}
		}
		check(q.Magnitude, f.MinMagnitude)
		switch kind {
		case model.ThresholdIntensity:
			check(q.Intensity, f.MinIntensity)
		case model.ThresholdScale:
			check(q.Scale, f.MinScale)
		}
		if known && !pass {
			return ReasonBelowThreshold
		}
	}
	if q.PlaceName != "" && !c.quakeWords.Matches(q.PlaceName) {
		return ReasonKeyword
	}
	return ""
}

func (c *Chain) tsunami(ev model.Event) string {
	if !c.cfg.Tsunami.Enabled || ev.IsCancel {
		return ""
	}
	if ev.Tsunami.Level < c.minTsunami {
		return ReasonTsunamiLevel
	}
	return ""
}

// weather checks keywords, then color, then the province allow-list. An
// unrecognised province passes.
func (c *Chain) weather(ev model.Event) string {
	if !c.cfg.Weather.Enabled {
		return ""
	}
	w := ev.Weather
	if w.Headline != "" && !c.weatherWords.Matches(w.Headline) {
		return ReasonKeyword
	}
	if w.Color < c.minColor {
		return ReasonWeatherColor
	}
	if c.provinces != nil && w.Province != "" {
		if _, ok := c.provinces[w.Province]; !ok {
			return ReasonWeatherProvince
		}
	}
	return ""
}
