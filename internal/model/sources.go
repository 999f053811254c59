package model

import (
	"sort"
	"time"
)

const (
	ZoneUTC   = "UTC"
	ZoneChina = "UTC+8"
	ZoneJapan = "UTC+9"
)

var zoneLocations = map[string]*time.Location{
	ZoneUTC:   time.UTC,
	ZoneChina: time.FixedZone(ZoneChina, 8*3600),
	ZoneJapan: time.FixedZone(ZoneJapan, 9*3600),
}

func ZoneLocation(zone string) *time.Location {
	if loc, ok := zoneLocations[zone]; ok {
		return loc
	}
	return time.UTC
}

// ThresholdKind selects which global earthquake filter group a source is
// judged by.
type ThresholdKind string

const (
	ThresholdIntensity ThresholdKind = "intensity"
	ThresholdScale     ThresholdKind = "scale"
	ThresholdMagnitude ThresholdKind = "magnitude"
)

const (
	CadenceCEACWA      = "cea_cwa"
	CadenceJMA         = "jma"
	CadenceGlobalQuake = "global_quake"
)

type Source struct {
	ID            string
	Family        string
	Domain        Domain
	MessageType   string
	Zone          string
	CadenceGroup  string
	SupportsFinal bool
	Threshold     ThresholdKind
}

var catalog = map[string]Source{
	"cea_fanstudio": {ID: "cea_fanstudio", Family: "cea", Domain: DomainEarthquake, MessageType: "eew", Zone: ZoneChina, CadenceGroup: CadenceCEACWA, Threshold: ThresholdIntensity},
	"cea_wolfx":     {ID: "cea_wolfx", Family: "cea", Domain: DomainEarthquake, MessageType: "eew", Zone: ZoneChina, CadenceGroup: CadenceCEACWA, Threshold: ThresholdIntensity},
	"cwa_fanstudio": {ID: "cwa_fanstudio", Family: "cwa", Domain: DomainEarthquake, MessageType: "eew", Zone: ZoneChina, CadenceGroup: CadenceCEACWA, Threshold: ThresholdIntensity},
	"cwa_wolfx":     {ID: "cwa_wolfx", Family: "cwa", Domain: DomainEarthquake, MessageType: "eew", Zone: ZoneChina, CadenceGroup: CadenceCEACWA, Threshold: ThresholdScale},
	"jma_fanstudio": {ID: "jma_fanstudio", Family: "jma", Domain: DomainEarthquake, MessageType: "eew", Zone: ZoneJapan, CadenceGroup: CadenceJMA, SupportsFinal: true, Threshold: ThresholdScale},
	"jma_p2p":       {ID: "jma_p2p", Family: "jma", Domain: DomainEarthquake, MessageType: "eew", Zone: ZoneJapan, CadenceGroup: CadenceJMA, SupportsFinal: true, Threshold: ThresholdScale},
	"jma_wolfx":     {ID: "jma_wolfx", Family: "jma", Domain: DomainEarthquake, MessageType: "eew", Zone: ZoneJapan, CadenceGroup: CadenceJMA, SupportsFinal: true, Threshold: ThresholdScale},
	"global_quake":  {ID: "global_quake", Family: "global_quake", Domain: DomainEarthquake, MessageType: "eew", Zone: ZoneUTC, CadenceGroup: CadenceGlobalQuake, Threshold: ThresholdIntensity},

	"cenc_fanstudio": {ID: "cenc_fanstudio", Family: "cenc", Domain: DomainEarthquake, MessageType: "report", Zone: ZoneChina, Threshold: ThresholdIntensity},
	"cenc_wolfx":     {ID: "cenc_wolfx", Family: "cenc", Domain: DomainEarthquake, MessageType: "report", Zone: ZoneChina, Threshold: ThresholdIntensity},
	"jma_p2p_info":   {ID: "jma_p2p_info", Family: "jma_info", Domain: DomainEarthquake, MessageType: "report", Zone: ZoneJapan, Threshold: ThresholdScale},
	"jma_wolfx_info": {ID: "jma_wolfx_info", Family: "jma_info", Domain: DomainEarthquake, MessageType: "report", Zone: ZoneJapan, Threshold: ThresholdScale},
	"usgs_fanstudio": {ID: "usgs_fanstudio", Family: "usgs", Domain: DomainEarthquake, MessageType: "report", Zone: ZoneChina, Threshold: ThresholdMagnitude},

	"china_tsunami_fanstudio": {ID: "china_tsunami_fanstudio", Family: "china_tsunami", Domain: DomainTsunami, MessageType: "tsunami", Zone: ZoneChina},
	"jma_tsunami_p2p":         {ID: "jma_tsunami_p2p", Family: "jma_tsunami", Domain: DomainTsunami, MessageType: "tsunami", Zone: ZoneJapan},

	"china_weather_fanstudio": {ID: "china_weather_fanstudio", Family: "china_weather", Domain: DomainWeather, MessageType: "weather", Zone: ZoneChina},
}

func LookupSource(id string) (Source, bool) {
	src, ok := catalog[id]
	return src, ok
}

func SourceIDs() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FamilySource returns the first source (by id) of an earthquake family,
// used to give synthetic events a realistic origin.
func FamilySource(family string) (Source, bool) {
	for _, id := range SourceIDs() {
		src := catalog[id]
		if src.Family == family && src.Domain == DomainEarthquake {
			return src, true
		}
	}
	return Source{}, false
}
