// Package consumer reads JSON messages of one type from a Kafka topic.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/andrej220/devbackup/internal/lg"
)

// ErrDecode marks a message that was committed but could not be decoded.
var ErrDecode = errors.New("undecodable message")

const fetchRetryDelay = time.Second

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer commits every message before it is handled, so a message is
// delivered at most once.
type Consumer[T any] struct {
	reader MessageReader
}

func NewConsumer[T any](cfg Config) *Consumer[T] {
	return NewWithReader[T](kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	}))
}

func NewWithReader[T any](r MessageReader) *Consumer[T] {
	return &Consumer[T]{reader: r}
}

func (c *Consumer[T]) Read(ctx context.Context) (T, error) {
	var zero T
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, err
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return zero, err
	}
	var payload T
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return zero, fmt.Errorf("%w at %s/%d@%d: %v", ErrDecode, msg.Topic, msg.Partition, msg.Offset, err)
	}
	return payload, nil
}

// Run hands every message to handle until ctx is done. Decode and handler
// errors are logged and the loop goes on; fetch errors are retried after a
// pause.
func (c *Consumer[T]) Run(ctx context.Context, handle func(context.Context, T) error) error {
	log := lg.FromContext(ctx)
	for {
		payload, err := c.Read(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrDecode):
			log.Warn("skipping message", lg.Err(err))
			continue
		case err != nil:
			log.Error("kafka fetch failed", lg.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchRetryDelay):
			}
			continue
		}
		log.Debug("message received", lg.Any("payload", payload))
		if err := handle(ctx, payload); err != nil {
			log.Error("message handler failed", lg.Err(err))
		}
	}
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}
