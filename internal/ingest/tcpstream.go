package ingest

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"time"
)

// TCPDialer reads newline delimited payloads from a relay.
type TCPDialer struct {
	heartbeat time.Duration
	dialer    net.Dialer
}

func NewTCPDialer(heartbeat time.Duration) *TCPDialer {
	return &TCPDialer{heartbeat: heartbeat, dialer: net.Dialer{Timeout: handshakeTimeout}}
}

func (d *TCPDialer) Dial(ctx context.Context, endpoint string) (Session, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	return &tcpSession{conn: conn, heartbeat: d.heartbeat}, nil
}

type tcpSession struct {
	conn      net.Conn
	heartbeat time.Duration
	closeOnce sync.Once
}

func (s *tcpSession) Run(ctx context.Context, emit func([]byte)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for {
		if s.heartbeat > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.heartbeat))
		}
		if !scanner.Scan() {
			break
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		emit(line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return net.ErrClosed
}

func (s *tcpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
