package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazardguard/internal/config"
	"hazardguard/internal/logging"
	"hazardguard/internal/model"
)

func TestRESTHandlerQueuesPayloads(t *testing.T) {
	out := make(chan model.RawMessage, 4)
	h := NewRESTHandler(config.NewStaticManager(config.DefaultConfig()), out, logging.Discard())

	req := httptest.NewRequest(http.MethodPost, "/ingest?connection=fan_studio", strings.NewReader(`[{"type":"update"},{"type":"heartbeat"}]`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":2,"dropped":0}`, rec.Body.String())
	first := <-out
	assert.Equal(t, "fan_studio", first.Connection)
	assert.Empty(t, first.SourceID)
	assert.JSONEq(t, `{"type":"update"}`, string(first.Payload))
	assert.False(t, first.ReceivedAt.IsZero())
}

func TestRESTHandlerTaggedPayload(t *testing.T) {
	out := make(chan model.RawMessage, 1)
	h := NewRESTHandler(config.NewStaticManager(config.DefaultConfig()), out, logging.Discard())

	req := httptest.NewRequest(http.MethodPost, "/ingest?source=jma_wolfx&tag=jma_eew", strings.NewReader(`{"type":"jma_eew"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	msg := <-out
	assert.Equal(t, "rest", msg.Connection)
	assert.Equal(t, "jma_wolfx", msg.SourceID)
	assert.Equal(t, "jma_eew", msg.Tag)
}

func TestRESTHandlerRejects(t *testing.T) {
	h := NewRESTHandler(config.NewStaticManager(config.DefaultConfig()), make(chan model.RawMessage, 1), logging.Discard())
	tests := []struct {
		name   string
		method string
		target string
		body   string
		code   int
	}{
		{name: "method", method: http.MethodGet, target: "/ingest?connection=p2p", code: http.StatusMethodNotAllowed},
		{name: "no route", method: http.MethodPost, target: "/ingest", body: `{}`, code: http.StatusBadRequest},
		{name: "unknown connection", method: http.MethodPost, target: "/ingest?connection=nope", body: `{}`, code: http.StatusBadRequest},
		{name: "unknown source", method: http.MethodPost, target: "/ingest?source=nope&tag=x", body: `{}`, code: http.StatusBadRequest},
		{name: "empty body", method: http.MethodPost, target: "/ingest?connection=p2p", body: "  ", code: http.StatusBadRequest},
		{name: "bad array", method: http.MethodPost, target: "/ingest?connection=p2p", body: `[{`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body)))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}
