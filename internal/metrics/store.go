package metrics

import (
	"sort"
	"sync"
	"time"
)

type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDegraded     ConnState = "degraded"
	StateBackoff      ConnState = "backoff"
	StateFallback     ConnState = "fallback"
	StateDisconnected ConnState = "disconnected"
	StateStopped      ConnState = "stopped"
)

// ConnectionStatus is the health snapshot of one supervised connection.
type ConnectionStatus struct {
	Name             string    `json:"name"`
	Endpoint         string    `json:"endpoint,omitempty"`
	State            ConnState `json:"state"`
	Attempt          int       `json:"attempt"`
	Reconnects       int       `json:"reconnects"`
	Messages         uint64    `json:"messages"`
	LastConnected    time.Time `json:"last_connected,omitempty"`
	LastMessage      time.Time `json:"last_message,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	NextAttemptAfter string    `json:"next_attempt_after,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store keeps per-connection health for the status endpoint and mirrors the
// connected state into the Prometheus gauge when metrics are attached.
type Store struct {
	mu      sync.RWMutex
	byConn  map[string]*ConnectionStatus
	metrics *Metrics
	now     func() time.Time
}

func NewStore(m *Metrics) *Store {
	return &Store{
		byConn:  make(map[string]*ConnectionStatus),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) entry(name string) *ConnectionStatus {
	st, ok := s.byConn[name]
	if !ok {
		st = &ConnectionStatus{Name: name, State: StateDisconnected}
		s.byConn[name] = st
	}
	st.UpdatedAt = s.now()
	return st
}

// SetState records a state transition. attempt is the consecutive failure
// count the supervisor is working from.
func (s *Store) SetState(name string, state ConnState, endpoint string, attempt int, wait time.Duration) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(name)
	st.State = state
	st.Attempt = attempt
	if endpoint != "" {
		st.Endpoint = endpoint
	}
	st.NextAttemptAfter = ""
	if wait > 0 {
		st.NextAttemptAfter = wait.String()
	}
	switch state {
	case StateConnected:
		st.LastConnected = st.UpdatedAt
		st.LastError = ""
	case StateBackoff, StateFallback:
		st.Reconnects++
	}
	if s.metrics != nil {
		up := 0.0
		if state == StateConnected {
			up = 1
		}
		s.metrics.ConnectionState.WithLabelValues(name).Set(up)
	}
}

func (s *Store) RecordError(name string, err error) {
	if name == "" || err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(name).LastError = err.Error()
}

func (s *Store) RecordMessage(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(name)
	st.Messages++
	st.LastMessage = st.UpdatedAt
}

func (s *Store) Get(name string) (ConnectionStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byConn[name]
	if !ok {
		return ConnectionStatus{}, false
	}
	return *st, true
}

// GetAll returns every connection sorted by name.
func (s *Store) GetAll() []ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConnectionStatus, 0, len(s.byConn))
	for _, st := range s.byConn {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConn = make(map[string]*ConnectionStatus)
}
