package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 10ms
}

// messageWriter is the part of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AuditProducer publishes audit events keyed by correlation id, so every
// event of one trace lands on the same partition.
type AuditProducer struct {
	w messageWriter
}

func NewAuditProducer(c ProducerConfig) *AuditProducer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 10 * time.Millisecond
	}
	return &AuditProducer{w: &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: bt,
	}}
}

func EncodeAuditEvent(ev model.AuditEvent) (Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("marshal audit event: %w", err)
	}
	return Message{Key: []byte(ev.CorrelationID), Value: b, Time: ev.Timestamp}, nil
}

func DecodeAuditEvent(m Message) (model.AuditEvent, error) {
	var ev model.AuditEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return model.AuditEvent{}, err
	}
	if ev.ID == "" {
		return model.AuditEvent{}, fmt.Errorf("audit event missing id")
	}
	return ev, nil
}

func (p *AuditProducer) PublishAudit(ctx context.Context, ev model.AuditEvent) error {
	m, err := EncodeAuditEvent(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, m)
}

func (p *AuditProducer) Close() error { return p.w.Close() }
