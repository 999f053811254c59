package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hazardguard/internal/alerts"
	"hazardguard/internal/config"
	"hazardguard/internal/engine"
	"hazardguard/internal/metrics"
	"hazardguard/internal/model"
)

type EngineControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
	Simulate(lat, lon, magnitude, depth float64, family string) (*model.PushDecision, error)
	Stats() engine.Stats
	Lineages() []model.Lineage
	Lineage(id string) (model.Lineage, bool)
}

// Queue reports the dispatch backlog.
type Queue interface {
	Len() int
}

type Server struct {
	cfg         *config.Manager
	connections *metrics.Store
	metrics     *metrics.Metrics
	alerts      *alerts.Store
	engine      EngineControl
	queue       Queue
	logger      *slog.Logger
	version     string
}

type statusResponse struct {
	Status      string                     `json:"status"`
	Time        string                     `json:"time"`
	Version     string                     `json:"version"`
	ConfigPath  string                     `json:"config_path"`
	Enabled     bool                       `json:"enabled"`
	Engine      engine.Stats               `json:"engine"`
	QueueDepth  int                        `json:"queue_depth"`
	Connections []metrics.ConnectionStatus `json:"connections"`
	Ingest      ingestStatus               `json:"ingest"`
	API         apiStatus                  `json:"api"`
}

type ingestStatus struct {
	REST        bool     `json:"rest"`
	Connections []string `json:"connections"`
	Sources     []string `json:"sources"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type simulateRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Magnitude float64  `json:"magnitude"`
	Depth     float64  `json:"depth"`
	Family    string   `json:"family"`
}

func NewServer(cfg *config.Manager, connections *metrics.Store, m *metrics.Metrics, alertsStore *alerts.Store, eng EngineControl, queue Queue, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:         cfg,
		connections: connections,
		metrics:     m,
		alerts:      alertsStore,
		engine:      eng,
		queue:       queue,
		logger:      logger,
		version:     version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/connections", s.handleConnections)
	mux.HandleFunc("/connections/", s.handleConnections)
	mux.HandleFunc("/decisions", s.handleDecisions)
	mux.HandleFunc("/lineages", s.handleLineages)
	mux.HandleFunc("/lineages/", s.handleLineages)
	mux.HandleFunc("/simulate", s.handleSimulate)
	mux.HandleFunc("/config/filters", s.handleFilters)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/reset", s.handleReset)
	if s.metrics != nil && s.cfg.Get().Metrics.Enabled {
		if s.metrics.Registry != nil {
			mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
		} else {
			mux.Handle("/metrics", promhttp.Handler())
		}
	}
	return mux
}

func Start(ctx context.Context, server *Server) *http.Server {
	if server == nil || server.cfg == nil {
		return nil
	}
	logger := server.logger
	current := server.cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	var conns []string
	for _, c := range cfg.Ingest.Connections {
		if c.Enabled {
			conns = append(conns, c.Name)
		}
	}
	var sources []string
	for _, id := range model.SourceIDs() {
		if cfg.SourceEnabled(id) {
			sources = append(sources, id)
		}
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Enabled:    cfg.Enabled,
		Ingest: ingestStatus{
			REST:        cfg.Ingest.REST.Enabled,
			Connections: conns,
			Sources:     sources,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
	}
	if s.engine != nil {
		resp.Engine = s.engine.Stats()
	}
	if s.queue != nil {
		resp.QueueDepth = s.queue.Len()
	}
	if s.connections != nil {
		resp.Connections = s.connections.GetAll()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.connections == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/connections")
	name = strings.TrimPrefix(name, "/")
	if name != "" {
		st, ok := s.connections.Get(name)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}
	all := s.connections.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": all,
		"count":       len(all),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.PushDecision
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": list,
		"count":     len(list),
		"total":     s.alerts.Total(),
	})
}

func (s *Server) handleLineages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/lineages")
	id = strings.TrimPrefix(id, "/")
	if id != "" {
		l, ok := s.engine.Lineage(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"lineage":   l,
			"decisions": s.alerts.ForLineage(id),
		})
		return
	}
	list := s.engine.Lineages()
	writeJSON(w, http.StatusOK, map[string]any{
		"lineages": list,
		"count":    len(list),
	})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req simulateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "latitude and longitude are required"})
		return
	}
	if req.Family == "" {
		req.Family = "cea"
	}
	decision, err := s.engine.Simulate(*req.Latitude, *req.Longitude, req.Magnitude, req.Depth, req.Family)
	if err != nil {
		status := http.StatusBadRequest
		var inv *model.InvariantViolation
		if errors.As(err, &inv) {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	if s.logger != nil {
		s.logger.Info("simulation injected", "family", req.Family, "pushed", decision != nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pushed":   decision != nil,
		"decision": decision,
	})
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.cfg.Get()
		writeJSON(w, http.StatusOK, map[string]any{
			"filters":   cfg.Filters,
			"frequency": cfg.Frequency,
		})
		return
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var f config.FilterConfig
		if err := json.Unmarshal(body, &f); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.Earthquake.Keywords = sanitizeList(f.Earthquake.Keywords)
		f.Weather.Keywords = sanitizeList(f.Weather.Keywords)
		f.Weather.Provinces = sanitizeList(f.Weather.Provinces)
		current := s.cfg.Get()
		next := *current
		next.Filters = f
		if err := s.cfg.Update(&next); err != nil {
			var cerr *model.ConfigError
			if errors.As(err, &cerr) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.connections != nil {
			s.connections.Clear()
		}
		s.alerts.Clear()
	case "decisions":
		s.alerts.Clear()
	case "connections":
		if s.connections != nil {
			s.connections.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	s.alerts.Clear()
	if s.logger != nil {
		s.logger.Warn("lineage state reset")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func sanitizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
