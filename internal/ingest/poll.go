package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"hazardguard/internal/config"
)

const maxPollBody = 8 << 20

// PollDialer fetches a JSON document on an interval. Unchanged documents
// are not re-emitted.
type PollDialer struct {
	client   *http.Client
	interval time.Duration
	format   string
	clock    clockwork.Clock
}

func NewPollDialer(client *http.Client, interval time.Duration, format string) *PollDialer {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &PollDialer{client: client, interval: interval, format: format, clock: clockwork.NewRealClock()}
}

func (d *PollDialer) SetClock(c clockwork.Clock) {
	d.clock = c
}

// Dial performs the first fetch so an unreachable endpoint fails the dial
// and the supervisor can try the backup.
func (d *PollDialer) Dial(ctx context.Context, endpoint string) (Session, error) {
	s := &pollSession{dialer: d, endpoint: endpoint, feed: feedName(endpoint)}
	body, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.first = body
	return s, nil
}

type pollSession struct {
	dialer   *PollDialer
	endpoint string
	feed     string
	first    []byte
	last     []byte
}

func (s *pollSession) Run(ctx context.Context, emit func([]byte)) error {
	body := s.first
	s.first = nil
	for {
		if body != nil && !bytes.Equal(body, s.last) {
			s.last = body
			emit(s.tag(body))
		}
		if !BackoffSleep(ctx, s.dialer.clock, s.dialer.interval) {
			return ctx.Err()
		}
		var err error
		if body, err = s.fetch(ctx); err != nil {
			return err
		}
	}
}

func (s *pollSession) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.dialer.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll %s: status %d", s.endpoint, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
}

// tag adds the feed type to Wolfx documents. The HTTP mirrors omit the
// "type" field that the websocket feeds carry.
func (s *pollSession) tag(body []byte) []byte {
	if s.dialer.format != config.FormatWolfx || s.feed == "" {
		return body
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	if _, ok := doc["type"]; ok {
		return body
	}
	doc["type"], _ = json.Marshal(s.feed)
	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}

func (s *pollSession) Close() error {
	return nil
}

// feedName reads "cenc_eqlist" out of https://api.wolfx.jp/cenc_eqlist.json.
func feedName(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, ".json")
}
