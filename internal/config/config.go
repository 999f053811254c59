package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"hazardguard/internal/model"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Enabled   bool            `json:"enabled" yaml:"enabled"`
	Sources   map[string]bool `json:"sources" yaml:"sources"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Dedup     DedupConfig     `json:"dedup" yaml:"dedup"`
	Filters   FilterConfig    `json:"filters" yaml:"filters"`
	Frequency FrequencyConfig `json:"frequency" yaml:"frequency"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int                `json:"channel_buffer" yaml:"channel_buffer"`
	Supervisor    SupervisorConfig   `json:"supervisor" yaml:"supervisor"`
	Connections   []ConnectionConfig `json:"connections" yaml:"connections"`
	REST          RESTConfig         `json:"rest" yaml:"rest"`
}

type SupervisorConfig struct {
	ReconnectInterval time.Duration `json:"reconnect_interval" yaml:"reconnect_interval"`
	MaxBackoff        time.Duration `json:"max_backoff" yaml:"max_backoff"`
	Jitter            bool          `json:"jitter" yaml:"jitter"`
	MaxFastAttempts   int           `json:"max_fast_attempts" yaml:"max_fast_attempts"`
	FallbackInterval  time.Duration `json:"fallback_interval" yaml:"fallback_interval"`
	HeartbeatTimeout  time.Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	PingInterval      time.Duration `json:"ping_interval" yaml:"ping_interval"`
	GracePeriod       time.Duration `json:"grace_period" yaml:"grace_period"`
}

const (
	KindWebSocket = "websocket"
	KindHTTPPoll  = "http_poll"
	KindKafka     = "kafka"
	KindTCPStream = "tcp_stream"
)

const (
	FormatFanStudio   = "fan_studio"
	FormatWolfx       = "wolfx"
	FormatP2P         = "p2p"
	FormatGlobalQuake = "global_quake"
	FormatEnvelope    = "envelope"
)

type ConnectionConfig struct {
	Name         string            `json:"name" yaml:"name"`
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	Kind         string            `json:"kind" yaml:"kind"`
	Format       string            `json:"format" yaml:"format"`
	URL          string            `json:"url,omitempty" yaml:"url,omitempty"`
	BackupURL    string            `json:"backup_url,omitempty" yaml:"backup_url,omitempty"`
	PollInterval time.Duration     `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	Brokers      []string          `json:"brokers,omitempty" yaml:"brokers,omitempty"`
	Topic        string            `json:"topic,omitempty" yaml:"topic,omitempty"`
	GroupID      string            `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	Supervisor   *SupervisorConfig `json:"supervisor,omitempty" yaml:"supervisor,omitempty"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type PipelineConfig struct {
	Workers        int           `json:"workers" yaml:"workers"`
	StartupSilence time.Duration `json:"startup_silence" yaml:"startup_silence"`
}

const (
	ScopeSource = "source"
	ScopeGlobal = "global"
)

type DedupConfig struct {
	GridKm          float64       `json:"grid_km" yaml:"grid_km"`
	MagnitudeBucket float64       `json:"magnitude_bucket" yaml:"magnitude_bucket"`
	TimeBucket      time.Duration `json:"time_bucket" yaml:"time_bucket"`
	Scope           string        `json:"scope" yaml:"scope"`
	LineageTTL      time.Duration `json:"lineage_ttl" yaml:"lineage_ttl"`
	GCSchedule      string        `json:"gc_schedule" yaml:"gc_schedule"`
}

type FilterConfig struct {
	MaxEventAge   time.Duration    `json:"max_event_age" yaml:"max_event_age"`
	AllowTraining bool             `json:"allow_training" yaml:"allow_training"`
	Earthquake    EarthquakeFilter `json:"earthquake" yaml:"earthquake"`
	Tsunami       TsunamiFilter    `json:"tsunami" yaml:"tsunami"`
	Weather       WeatherFilter    `json:"weather" yaml:"weather"`
	Local         LocalMonitoring  `json:"local" yaml:"local"`
	Domains       map[string]bool  `json:"domains" yaml:"domains"`
}

type EarthquakeFilter struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	MinMagnitude float64  `json:"min_magnitude" yaml:"min_magnitude"`
	MinIntensity float64  `json:"min_intensity" yaml:"min_intensity"`
	MinScale     float64  `json:"min_scale" yaml:"min_scale"`
	Keywords     []string `json:"keywords" yaml:"keywords"`
}

type TsunamiFilter struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	MinLevel string `json:"min_level" yaml:"min_level"`
}

type WeatherFilter struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	Provinces     []string `json:"provinces" yaml:"provinces"`
	MinColorLevel string   `json:"min_color_level" yaml:"min_color_level"`
	Keywords      []string `json:"keywords" yaml:"keywords"`
}

type LocalMonitoring struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	PlaceName          string  `json:"place_name" yaml:"place_name"`
	Latitude           float64 `json:"latitude" yaml:"latitude"`
	Longitude          float64 `json:"longitude" yaml:"longitude"`
	IntensityThreshold float64 `json:"intensity_threshold" yaml:"intensity_threshold"`
	StrictMode         bool    `json:"strict_mode" yaml:"strict_mode"`
}

type FrequencyConfig struct {
	ReportN               map[string]int `json:"report_n" yaml:"report_n"`
	FinalReportAlwaysPush bool           `json:"final_report_always_push" yaml:"final_report_always_push"`
	IgnoreNonFinalReports bool           `json:"ignore_non_final_reports" yaml:"ignore_non_final_reports"`
}

type DispatchConfig struct {
	QueueSize int           `json:"queue_size" yaml:"queue_size"`
	Log       bool          `json:"log" yaml:"log"`
	Kafka     KafkaSink     `json:"kafka" yaml:"kafka"`
	Webhook   WebhookSink   `json:"webhook" yaml:"webhook"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

type KafkaSink struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type WebhookSink struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	Driver             string `json:"driver" yaml:"driver"`
	DSN                string `json:"dsn" yaml:"dsn"`
	CheckpointSchedule string `json:"checkpoint_schedule" yaml:"checkpoint_schedule"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultSupervisor() SupervisorConfig {
	return SupervisorConfig{
		ReconnectInterval: 10 * time.Second,
		MaxBackoff:        5 * time.Minute,
		Jitter:            true,
		MaxFastAttempts:   5,
		FallbackInterval:  30 * time.Minute,
		HeartbeatTimeout:  90 * time.Second,
		PingInterval:      30 * time.Second,
		GracePeriod:       60 * time.Second,
	}
}

func DefaultConnections() []ConnectionConfig {
	wolfx := func(feed string) ConnectionConfig {
		return ConnectionConfig{Name: "wolfx_" + feed, Kind: KindWebSocket, Format: FormatWolfx, URL: "wss://ws-api.wolfx.jp/" + feed}
	}
	return []ConnectionConfig{
		{Name: "fan_studio", Enabled: true, Kind: KindWebSocket, Format: FormatFanStudio, URL: "wss://ws.fanstudio.tech/all", BackupURL: "wss://ws.fanstudio.hk/all"},
		{Name: "p2p", Enabled: true, Kind: KindWebSocket, Format: FormatP2P, URL: "wss://api.p2pquake.net/v2/ws"},
		wolfx("jma_eew"),
		wolfx("cenc_eew"),
		wolfx("cwa_eew"),
		wolfx("jma_eqlist"),
		wolfx("cenc_eqlist"),
		{Name: "global_quake", Kind: KindWebSocket, Format: FormatGlobalQuake, URL: "wss://gqm.aloys233.top/ws"},
		{Name: "wolfx_cenc_eqlist_poll", Kind: KindHTTPPoll, Format: FormatWolfx, URL: "https://api.wolfx.jp/cenc_eqlist.json", PollInterval: 300 * time.Second},
		{Name: "wolfx_jma_eqlist_poll", Kind: KindHTTPPoll, Format: FormatWolfx, URL: "https://api.wolfx.jp/jma_eqlist.json", PollInterval: 300 * time.Second},
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Enabled:  true,
		Sources:  map[string]bool{},
		Ingest: IngestConfig{
			ChannelBuffer: 1024,
			Supervisor:    DefaultSupervisor(),
			Connections:   DefaultConnections(),
			REST:          RESTConfig{Enabled: false, Addr: ":8080"},
		},
		Pipeline: PipelineConfig{Workers: 4, StartupSilence: 10 * time.Second},
		Dedup: DedupConfig{
			GridKm:          20,
			MagnitudeBucket: 0.5,
			TimeBucket:      time.Minute,
			Scope:           ScopeSource,
			LineageTTL:      24 * time.Hour,
			GCSchedule:      "@every 10m",
		},
		Filters: FilterConfig{
			MaxEventAge: time.Hour,
			Earthquake:  EarthquakeFilter{Enabled: true, MinMagnitude: 3.0, MinIntensity: 4.0, MinScale: 1.0},
			Tsunami:     TsunamiFilter{Enabled: true, MinLevel: model.TsunamiAdvisory.String()},
			Weather:     WeatherFilter{Enabled: true, MinColorLevel: model.ColorYellow.String()},
			Local:       LocalMonitoring{IntensityThreshold: 2.0},
			Domains: map[string]bool{
				string(model.DomainEarthquake): true,
				string(model.DomainTsunami):    true,
				string(model.DomainWeather):    true,
			},
		},
		Frequency: FrequencyConfig{
			ReportN: map[string]int{
				model.CadenceCEACWA:      1,
				model.CadenceJMA:         3,
				model.CadenceGlobalQuake: 5,
			},
			FinalReportAlwaysPush: true,
		},
		Dispatch: DispatchConfig{QueueSize: 256, Log: true, Timeout: 10 * time.Second},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{
			Enabled:            false,
			Driver:             "sqlite",
			DSN:                "file:hazardguard.db?_pragma=busy_timeout(5000)",
			CheckpointSchedule: "@every 1m",
		},
		Metrics: MetricsConfig{Enabled: true},
		Alerts:  AlertsConfig{StoreLimit: 500},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes JSON or YAML over the defaults and validates the result.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode config: %w", decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Sources == nil {
		cfg.Sources = map[string]bool{}
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = def.Pipeline.Workers
	}
	if cfg.Dedup.TimeBucket == 0 {
		cfg.Dedup.TimeBucket = def.Dedup.TimeBucket
	}
	if cfg.Dedup.Scope == "" {
		cfg.Dedup.Scope = ScopeSource
	}
	if cfg.Dedup.GCSchedule == "" {
		cfg.Dedup.GCSchedule = def.Dedup.GCSchedule
	}
	if cfg.Filters.Domains == nil {
		cfg.Filters.Domains = def.Filters.Domains
	}
	if cfg.Frequency.ReportN == nil {
		cfg.Frequency.ReportN = def.Frequency.ReportN
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = def.Dispatch.QueueSize
	}
	if cfg.Dispatch.Timeout <= 0 {
		cfg.Dispatch.Timeout = def.Dispatch.Timeout
	}
	if cfg.Storage.CheckpointSchedule == "" {
		cfg.Storage.CheckpointSchedule = def.Storage.CheckpointSchedule
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	for i := range cfg.Ingest.Connections {
		conn := &cfg.Ingest.Connections[i]
		if conn.Kind == KindHTTPPoll && conn.PollInterval <= 0 {
			conn.PollInterval = 300 * time.Second
		}
	}
}

// SupervisorFor merges a connection override onto the shared supervisor
// settings. Zero override fields inherit.
func (c *Config) SupervisorFor(conn ConnectionConfig) SupervisorConfig {
	out := c.Ingest.Supervisor
	o := conn.Supervisor
	if o == nil {
		return out
	}
	if o.ReconnectInterval > 0 {
		out.ReconnectInterval = o.ReconnectInterval
	}
	if o.MaxBackoff > 0 {
		out.MaxBackoff = o.MaxBackoff
	}
	if o.MaxFastAttempts > 0 {
		out.MaxFastAttempts = o.MaxFastAttempts
	}
	if o.FallbackInterval > 0 {
		out.FallbackInterval = o.FallbackInterval
	}
	if o.HeartbeatTimeout > 0 {
		out.HeartbeatTimeout = o.HeartbeatTimeout
	}
	if o.PingInterval > 0 {
		out.PingInterval = o.PingInterval
	}
	if o.GracePeriod > 0 {
		out.GracePeriod = o.GracePeriod
	}
	return out
}

// SourceEnabled reports whether events from a source id may enter the
// pipeline. Unlisted sources are enabled.
func (c *Config) SourceEnabled(id string) bool {
	if !c.Enabled {
		return false
	}
	if on, ok := c.Sources[id]; ok {
		return on
	}
	return true
}

// DomainEnabled reports whether a hazard domain may be pushed. Unlisted
// domains are enabled.
func (f FilterConfig) DomainEnabled(d model.Domain) bool {
	if on, ok := f.Domains[string(d)]; ok {
		return on
	}
	return true
}

func (c *Config) Connection(name string) (ConnectionConfig, bool) {
	for _, conn := range c.Ingest.Connections {
		if conn.Name == name {
			return conn, true
		}
	}
	return ConnectionConfig{}, false
}

func invalid(field, format string, args ...any) error {
	return &model.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return invalid("api.addr", "required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return invalid("ingest.rest.addr", "required when ingest.rest.enabled is true")
	}
	for id := range cfg.Sources {
		if _, ok := model.LookupSource(id); !ok {
			return invalid("sources."+id, "unknown source id")
		}
	}
	if err := validateSupervisor("ingest.supervisor", cfg.Ingest.Supervisor); err != nil {
		return err
	}
	seen := map[string]bool{}
	for i, conn := range cfg.Ingest.Connections {
		field := fmt.Sprintf("ingest.connections[%d]", i)
		if conn.Name == "" {
			return invalid(field+".name", "required")
		}
		if seen[conn.Name] {
			return invalid(field+".name", "duplicate connection %q", conn.Name)
		}
		seen[conn.Name] = true
		switch conn.Format {
		case FormatFanStudio, FormatWolfx, FormatP2P, FormatGlobalQuake, FormatEnvelope:
		default:
			return invalid(field+".format", "unsupported format %q", conn.Format)
		}
		switch conn.Kind {
		case KindWebSocket, KindHTTPPoll, KindTCPStream:
			if conn.URL == "" {
				return invalid(field+".url", "required for %s connections", conn.Kind)
			}
		case KindKafka:
			if len(conn.Brokers) == 0 || conn.Topic == "" || conn.GroupID == "" {
				return invalid(field, "kafka connections require brokers, topic, group_id")
			}
		default:
			return invalid(field+".kind", "unsupported kind %q", conn.Kind)
		}
		if conn.Supervisor != nil {
			if err := validateSupervisor(field+".supervisor", cfg.SupervisorFor(conn)); err != nil {
				return err
			}
		}
	}
	if cfg.Dedup.GridKm <= 0 {
		return invalid("dedup.grid_km", "must be > 0")
	}
	if cfg.Dedup.MagnitudeBucket <= 0 {
		return invalid("dedup.magnitude_bucket", "must be > 0")
	}
	if cfg.Dedup.TimeBucket <= 0 {
		return invalid("dedup.time_bucket", "must be > 0")
	}
	if cfg.Dedup.Scope != ScopeSource && cfg.Dedup.Scope != ScopeGlobal {
		return invalid("dedup.scope", "must be %q or %q", ScopeSource, ScopeGlobal)
	}
	if cfg.Dedup.LineageTTL <= 0 {
		return invalid("dedup.lineage_ttl", "must be > 0")
	}
	if _, err := cron.ParseStandard(cfg.Dedup.GCSchedule); err != nil {
		return invalid("dedup.gc_schedule", "%v", err)
	}
	if err := validateFilters(cfg.Filters); err != nil {
		return err
	}
	for group, n := range cfg.Frequency.ReportN {
		switch group {
		case model.CadenceCEACWA, model.CadenceJMA, model.CadenceGlobalQuake:
		default:
			return invalid("frequency.report_n."+group, "unknown source family")
		}
		if n < 1 {
			return invalid("frequency.report_n."+group, "must be >= 1, got %d", n)
		}
	}
	if cfg.Dispatch.Kafka.Enabled && (len(cfg.Dispatch.Kafka.Brokers) == 0 || cfg.Dispatch.Kafka.Topic == "") {
		return invalid("dispatch.kafka", "requires brokers and topic")
	}
	if cfg.Dispatch.Webhook.Enabled && cfg.Dispatch.Webhook.URL == "" {
		return invalid("dispatch.webhook.url", "required when dispatch.webhook.enabled is true")
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return invalid("storage.driver", "unsupported driver %q", cfg.Storage.Driver)
		}
		if _, err := cron.ParseStandard(cfg.Storage.CheckpointSchedule); err != nil {
			return invalid("storage.checkpoint_schedule", "%v", err)
		}
	}
	return nil
}

func validateSupervisor(field string, s SupervisorConfig) error {
	if s.ReconnectInterval <= 0 {
		return invalid(field+".reconnect_interval", "must be > 0")
	}
	if s.MaxBackoff < s.ReconnectInterval {
		return invalid(field+".max_backoff", "must be >= reconnect_interval")
	}
	if s.MaxFastAttempts < 1 {
		return invalid(field+".max_fast_attempts", "must be >= 1")
	}
	if s.FallbackInterval <= 0 {
		return invalid(field+".fallback_interval", "must be > 0")
	}
	if s.HeartbeatTimeout <= 0 {
		return invalid(field+".heartbeat_timeout", "must be > 0")
	}
	if s.PingInterval <= 0 || s.PingInterval >= s.HeartbeatTimeout {
		return invalid(field+".ping_interval", "must be > 0 and below heartbeat_timeout")
	}
	return nil
}

func validateFilters(f FilterConfig) error {
	eq := f.Earthquake
	if eq.MinMagnitude < 0 || eq.MinMagnitude > 10 {
		return invalid("filters.earthquake.min_magnitude", "must be within [0, 10], got %v", eq.MinMagnitude)
	}
	if eq.MinIntensity < 0 || eq.MinIntensity > 12 {
		return invalid("filters.earthquake.min_intensity", "must be within [0, 12], got %v", eq.MinIntensity)
	}
	if eq.MinScale < 0 || eq.MinScale > 7 {
		return invalid("filters.earthquake.min_scale", "must be within [0, 7], got %v", eq.MinScale)
	}
	if _, ok := model.ParseTsunamiLevel(f.Tsunami.MinLevel); !ok && f.Tsunami.MinLevel != "" {
		return invalid("filters.tsunami.min_level", "unknown level %q", f.Tsunami.MinLevel)
	}
	if _, ok := model.ParseColorLevel(f.Weather.MinColorLevel); !ok && f.Weather.MinColorLevel != "" {
		return invalid("filters.weather.min_color_level", "unknown color %q", f.Weather.MinColorLevel)
	}
	for _, p := range f.Weather.Provinces {
		if !model.IsProvince(p) {
			return invalid("filters.weather.provinces", "unknown province %q", p)
		}
	}
	for d := range f.Domains {
		switch model.Domain(d) {
		case model.DomainEarthquake, model.DomainTsunami, model.DomainWeather:
		default:
			return invalid("filters.domains."+d, "unknown domain")
		}
	}
	local := f.Local
	if local.Enabled {
		if local.Latitude < -90 || local.Latitude > 90 {
			return invalid("filters.local.latitude", "must be within [-90, 90]")
		}
		if local.Longitude < -180 || local.Longitude > 180 {
			return invalid("filters.local.longitude", "must be within [-180, 180]")
		}
		if local.IntensityThreshold < 0 || local.IntensityThreshold > 12 {
			return invalid("filters.local.intensity_threshold", "must be within [0, 12]")
		}
	}
	if f.MaxEventAge < 0 {
		return invalid("filters.max_event_age", "must be >= 0")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves a fixed config without a backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// Watch polls the file mtime and swaps in a new config when it changes. A
// config that fails validation is reported and the previous one stays live.
func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if info, statErr := os.Stat(m.path); statErr == nil {
					m.modTime = info.ModTime()
				}
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

// ResolvePath picks the flag value, then HAZARDGUARD_CONFIG, then
// config.yaml, and makes it absolute.
func ResolvePath(path string) string {
	if path == "" {
		path = os.Getenv("HAZARDGUARD_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
