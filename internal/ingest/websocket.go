package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
)

// WebSocketDialer opens feeds over gorilla/websocket. A session is declared
// dead when nothing (data or pong) arrives within the heartbeat timeout.
type WebSocketDialer struct {
	heartbeat time.Duration
	ping      time.Duration
	dialer    *websocket.Dialer
}

func NewWebSocketDialer(heartbeat, ping time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		heartbeat: heartbeat,
		ping:      ping,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   64 << 10,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Session, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("dial: %w (status=%d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(8 << 20)
	return &wsSession{conn: conn, heartbeat: d.heartbeat, ping: d.ping}, nil
}

type wsSession struct {
	conn      *websocket.Conn
	heartbeat time.Duration
	ping      time.Duration
	closeOnce sync.Once
}

func (s *wsSession) extend() {
	if s.heartbeat > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.heartbeat))
	}
}

func (s *wsSession) Run(ctx context.Context, emit func([]byte)) error {
	s.conn.SetPongHandler(func(string) error {
		s.extend()
		return nil
	})
	s.extend()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()
	if s.ping > 0 {
		go s.pingLoop(done)
	}

	for {
		kind, msg, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.extend()
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		emit(msg)
	}
}

func (s *wsSession) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
