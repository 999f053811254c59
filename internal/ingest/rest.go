package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"hazardguard/internal/config"
	"hazardguard/internal/model"
)

// RESTHandler accepts raw upstream payloads over HTTP and feeds them into
// the ingest channel as if a connection had received them.
//
//	POST /ingest?connection=fan_studio          body is a connection payload
//	POST /ingest?source=jma_wolfx&tag=jma_eew   body is already demultiplexed
//
// A JSON array body is split into one payload per element.
type RESTHandler struct {
	cfg    *config.Manager
	out    chan<- model.RawMessage
	logger *slog.Logger
	clock  clockwork.Clock
}

func NewRESTHandler(cfg *config.Manager, out chan<- model.RawMessage, logger *slog.Logger) *RESTHandler {
	return &RESTHandler{cfg: cfg, out: out, logger: logger, clock: clockwork.NewRealClock()}
}

func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.RawMessage, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/ingest", NewRESTHandler(cfg, out, logger))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: current.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (h *RESTHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	msg := model.RawMessage{
		Connection: q.Get("connection"),
		SourceID:   q.Get("source"),
		Tag:        q.Get("tag"),
	}
	switch {
	case msg.SourceID != "":
		if _, ok := model.LookupSource(msg.SourceID); !ok || msg.Tag == "" {
			writeError(w, http.StatusBadRequest, "source must be a known source id and tag is required")
			return
		}
		if msg.Connection == "" {
			msg.Connection = "rest"
		}
	case msg.Connection != "":
		if _, ok := h.cfg.Get().Connection(msg.Connection); !ok {
			writeError(w, http.StatusBadRequest, "unknown connection")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "connection or source is required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "body too large or unreadable")
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	var payloads [][]byte
	if body[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json array")
			return
		}
		for _, item := range list {
			payloads = append(payloads, item)
		}
	} else {
		payloads = [][]byte{body}
	}

	accepted, dropped := 0, 0
	now := h.clock.Now().UTC()
	for _, p := range payloads {
		m := msg
		m.Payload = p
		m.ReceivedAt = now
		if SendNonBlocking(r.Context(), h.out, m, h.logger) {
			accepted++
		} else {
			dropped++
		}
	}
	status := http.StatusAccepted
	if accepted == 0 {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"dropped":  dropped,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
