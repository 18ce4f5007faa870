package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"timeclock/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while the broker breaker is open; the alert is dropped.
var ErrCircuitOpen = errors.New("alert publisher circuit open")

// Producer is the slice of *kgo.Client the publisher uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher writes alerts as JSON records keyed by apprentice, so one
// apprentice's alerts stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type KafkaOption func(*KafkaPublisher)

func WithLogger(logger *slog.Logger) KafkaOption {
	return func(p *KafkaPublisher) {
		p.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) KafkaOption {
	return func(p *KafkaPublisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

func NewKafkaPublisher(producer Producer, topic string, opts ...KafkaOption) (*KafkaPublisher, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("alerts-kafka"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, alert Alert) error {
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(alert.ApprenticeID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "alert_type", Value: []byte(alert.Type)},
		},
	}

	if err := p.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if _, change := p.breaker.RecordFailure(); change.Opened && p.logger != nil {
			p.logger.WarnContext(ctx, "alert publisher circuit opened", "topic", p.topic, "error", err)
		}
		return fmt.Errorf("produce alert: %w", err)
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed && p.logger != nil {
		p.logger.InfoContext(ctx, "alert publisher circuit closed", "topic", p.topic)
	}
	return nil
}
