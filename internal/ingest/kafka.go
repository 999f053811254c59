package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/segmentio/kafka-go"
)

// KafkaDialer consumes relayed payloads from a topic. The endpoint passed
// to Dial is a comma separated broker list, so a backup cluster can be
// named as the backup URL.
type KafkaDialer struct {
	brokers []string
	topic   string
	groupID string
}

func NewKafkaDialer(brokers []string, topic, groupID string) *KafkaDialer {
	return &KafkaDialer{brokers: brokers, topic: topic, groupID: groupID}
}

func (d *KafkaDialer) Dial(ctx context.Context, endpoint string) (Session, error) {
	brokers := d.brokers
	if endpoint != "" {
		brokers = strings.Split(endpoint, ",")
	}
	if len(brokers) == 0 || d.topic == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, err
	}
	_ = conn.Close()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    d.topic,
		GroupID:  d.groupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return &kafkaSession{reader: reader}, nil
}

type kafkaSession struct {
	reader *kafka.Reader
}

func (s *kafkaSession) Run(ctx context.Context, emit func([]byte)) error {
	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			return err
		}
		emit(m.Value)
	}
}

func (s *kafkaSession) Close() error {
	return s.reader.Close()
}
