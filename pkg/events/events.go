// Package events publishes JSON messages to a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/pkg/models"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer MessageWriter
	topic  string
	log    lg.Logger
}

func NewPublisher(brokers []string, topic string, log lg.Logger) *Publisher {
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}, topic, log)
}

func NewWithWriter(w MessageWriter, topic string, log lg.Logger) *Publisher {
	if log == nil {
		log = lg.Discard
	}
	return &Publisher{writer: w, topic: topic, log: log}
}

// Publish writes v as JSON under key.
func (p *Publisher) Publish(ctx context.Context, key []byte, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Time: time.Now()})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			p.log.Error("kafka topic does not exist", lg.String("topic", p.topic))
		}
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// PublishOutcome keys the outcome by its run id.
func (p *Publisher) PublishOutcome(ctx context.Context, o models.Outcome) error {
	return p.Publish(ctx, o.RunID[:], o)
}

// Submit puts a run request on the request topic and returns its run id.
func (p *Publisher) Submit(ctx context.Context, r models.RunRequest) (uuid.UUID, error) {
	if r.RunID == uuid.Nil {
		r.RunID = uuid.New()
	}
	if err := p.Publish(ctx, r.RunID[:], r); err != nil {
		return uuid.Nil, err
	}
	return r.RunID, nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
