package model

import "time"

type Domain string

const (
	DomainEarthquake Domain = "earthquake"
	DomainTsunami    Domain = "tsunami"
	DomainWeather    Domain = "weather"
)

type Classification string

const (
	ClassNew     Classification = "NEW"
	ClassRepeat  Classification = "REPEAT"
	ClassUpdate  Classification = "UPDATE"
	ClassUpgrade Classification = "UPGRADE"
)

type LineageState string

const (
	StateNew       LineageState = "NEW"
	StateUpdated   LineageState = "UPDATED"
	StateFinalized LineageState = "FINALIZED"
	StateCancelled LineageState = "CANCELLED"
	StateExpired   LineageState = "EXPIRED"
)

// Event is the canonical hazard report. Exactly one of Earthquake, Tsunami
// or Weather is set.
type Event struct {
	SourceID      string    `json:"source_id"`
	MessageType   string    `json:"message_type"`
	EventID       string    `json:"event_id,omitempty"`
	OriginTime    time.Time `json:"origin_time"`
	SourceZone    string    `json:"source_zone"`
	ReportNumber  int       `json:"report_number"`
	IsFinal       bool      `json:"is_final"`
	IsCancel      bool      `json:"is_cancel,omitempty"`
	IsTraining    bool      `json:"is_training,omitempty"`
	Determination int       `json:"determination,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
	Simulated     bool      `json:"simulated,omitempty"`

	Earthquake *Earthquake `json:"earthquake,omitempty"`
	Tsunami    *Tsunami    `json:"tsunami,omitempty"`
	Weather    *Weather    `json:"weather,omitempty"`
}

func (e Event) Domain() Domain {
	switch {
	case e.Earthquake != nil:
		return DomainEarthquake
	case e.Tsunami != nil:
		return DomainTsunami
	case e.Weather != nil:
		return DomainWeather
	}
	return ""
}

// Report returns the report number, treating an absent number as 1.
func (e Event) Report() int {
	if e.ReportNumber < 1 {
		return 1
	}
	return e.ReportNumber
}

// LocalTime renders the origin in the zone the source publishes in.
func (e Event) LocalTime() time.Time {
	return e.OriginTime.In(ZoneLocation(e.SourceZone))
}

type Earthquake struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Magnitude *float64 `json:"magnitude,omitempty"`
	DepthKm   *float64 `json:"depth_km,omitempty"`
	Intensity *float64 `json:"intensity,omitempty"`
	Scale     *float64 `json:"scale,omitempty"`
	PlaceName string   `json:"place_name,omitempty"`
	InfoType  string   `json:"info_type,omitempty"`
}

func (q *Earthquake) HasLocation() bool {
	if q == nil {
		return false
	}
	return q.Latitude != 0 || q.Longitude != 0
}

type TsunamiLevel int

const (
	TsunamiNone TsunamiLevel = iota
	TsunamiAdvisory
	TsunamiWarning
	TsunamiMajorWarning
)

var tsunamiLevelNames = map[TsunamiLevel]string{
	TsunamiNone:         "none",
	TsunamiAdvisory:     "advisory",
	TsunamiWarning:      "warning",
	TsunamiMajorWarning: "major_warning",
}

func (l TsunamiLevel) String() string {
	if name, ok := tsunamiLevelNames[l]; ok {
		return name
	}
	return "unknown"
}

func ParseTsunamiLevel(value string) (TsunamiLevel, bool) {
	for level, name := range tsunamiLevelNames {
		if name == value {
			return level, true
		}
	}
	return TsunamiNone, false
}

type Tsunami struct {
	Level   TsunamiLevel    `json:"level"`
	Title   string          `json:"title,omitempty"`
	Regions []TsunamiRegion `json:"regions,omitempty"`
}

type TsunamiRegion struct {
	Name       string     `json:"name"`
	ETA        *time.Time `json:"eta,omitempty"`
	WaveHeight string     `json:"wave_height,omitempty"`
}

type ColorLevel int

const (
	ColorWhite ColorLevel = iota
	ColorBlue
	ColorYellow
	ColorOrange
	ColorRed
)

var colorNames = map[ColorLevel]string{
	ColorWhite:  "white",
	ColorBlue:   "blue",
	ColorYellow: "yellow",
	ColorOrange: "orange",
	ColorRed:    "red",
}

func (c ColorLevel) String() string {
	if name, ok := colorNames[c]; ok {
		return name
	}
	return "unknown"
}

func ParseColorLevel(value string) (ColorLevel, bool) {
	for level, name := range colorNames {
		if name == value {
			return level, true
		}
	}
	return ColorWhite, false
}

type Weather struct {
	Province      string     `json:"province,omitempty"`
	HazardType    string     `json:"hazard_type,omitempty"`
	Color         ColorLevel `json:"color"`
	EffectiveTime time.Time  `json:"effective_time"`
	Headline      string     `json:"headline"`
	Description   string     `json:"description,omitempty"`
}

// Lineage is the accumulated state of one physical event.
type Lineage struct {
	ID                     string       `json:"id"`
	Fingerprint            string       `json:"fingerprint"`
	SourceScope            string       `json:"source_scope"`
	EventID                string       `json:"event_id,omitempty"`
	FirstSeenAt            time.Time    `json:"first_seen_at"`
	LastSeenAt             time.Time    `json:"last_seen_at"`
	MaxReportNumberSeen    int          `json:"max_report_number_seen"`
	LastPushedReportNumber *int         `json:"last_pushed_report_number,omitempty"`
	LastKnownFinal         bool         `json:"last_known_final"`
	ReportCount            int          `json:"report_count"`
	State                  LineageState `json:"state"`
	Determination          int          `json:"determination"`
}

type PushDecision struct {
	ID             string         `json:"id"`
	LineageID      string         `json:"lineage_id"`
	Classification Classification `json:"classification"`
	Event          Event          `json:"event"`
	ReportNumber   int            `json:"report_number"`
	IsFinal        bool           `json:"is_final"`
	LocalIntensity *float64       `json:"local_intensity,omitempty"`
	DistanceKm     *float64       `json:"distance_km,omitempty"`
	DecidedAt      time.Time      `json:"decided_at"`
	Silenced       bool           `json:"silenced,omitempty"`
}

// RawMessage is one payload as received from a connection. SourceID and Tag
// are empty until the connection payload has been demultiplexed.
type RawMessage struct {
	Connection string    `json:"connection"`
	SourceID   string    `json:"source_id,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

func Float(v float64) *float64 {
	return &v
}

func Int(v int) *int {
	return &v
}
