package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"hazardguard/internal/model"
	"hazardguard/internal/storage"
)

// LogSink writes each decision as a structured log record.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, d model.PushDecision) error {
	if s.logger == nil {
		return nil
	}
	attrs := []any{
		"decision_id", d.ID,
		"lineage_id", d.LineageID,
		"classification", d.Classification,
		"source_id", d.Event.SourceID,
		"domain", d.Event.Domain(),
		"report_number", d.ReportNumber,
		"is_final", d.IsFinal,
		"origin_time", d.Event.LocalTime().Format(time.RFC3339),
	}
	if q := d.Event.Earthquake; q != nil {
		attrs = append(attrs, "latitude", q.Latitude, "longitude", q.Longitude)
		if q.Magnitude != nil {
			attrs = append(attrs, "magnitude", *q.Magnitude)
		}
		if q.PlaceName != "" {
			attrs = append(attrs, "place", q.PlaceName)
		}
	}
	if d.LocalIntensity != nil {
		attrs = append(attrs, "local_intensity", *d.LocalIntensity)
	}
	if d.Event.Simulated {
		attrs = append(attrs, "simulated", true)
	}
	s.logger.Info("hazard alert", attrs...)
	return nil
}

// KafkaSink publishes decisions as JSON keyed by lineage, so every report
// of one event lands on the same partition.
type KafkaSink struct {
	writer *kafkago.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, d model.PushDecision) error {
	msg, err := decisionMessage(d)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, msg)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func decisionMessage(d model.PushDecision) (kafkago.Message, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize decision: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(d.LineageID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "classification", Value: []byte(d.Classification)},
			{Key: "source_id", Value: []byte(d.Event.SourceID)},
			{Key: "decided_at", Value: []byte(d.DecidedAt.Format(time.RFC3339))},
		},
	}, nil
}

// WebhookSink POSTs each decision as JSON.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, d model.PushDecision) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("serialize decision: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: status %d", s.url, resp.StatusCode)
	}
	return nil
}

// StoreSink records delivered decisions in the checkpoint database. It runs
// on the dispatch goroutine so a slow database never holds up the pipeline.
type StoreSink struct {
	store storage.Store
}

func NewStoreSink(store storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "storage" }

func (s *StoreSink) Send(ctx context.Context, d model.PushDecision) error {
	return s.store.SaveDecision(ctx, d)
}
