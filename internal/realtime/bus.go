// internal/realtime/bus.go
// Optional cross-process fan-out. Every hub publishes its room operations
// to one topic and applies the operations of the other hubs, so a room
// spans all processes.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Bus operations
const (
	OpEmit            = "emit"
	OpJoin            = "join"
	OpLeave           = "leave"
	OpDisconnectUser  = "disconnect_user"
	OpDisconnectToken = "disconnect_token"
)

// Envelope is one room operation on the bus
type Envelope struct {
	Origin     string          `json:"origin"`
	Op         string          `json:"op"`
	Room       string          `json:"room,omitempty"`
	UserID     int64           `json:"user_id,omitempty"`
	JTI        string          `json:"jti,omitempty"`
	ExceptConn string          `json:"except_conn,omitempty"`
	Frame      json.RawMessage `json:"frame,omitempty"`
}

// Bus carries envelopes between processes
type Bus interface {
	Publish(ctx context.Context, env *Envelope) error
	Consume(ctx context.Context, handle func(*Envelope)) error
	Close() error
}

type KafkaBus struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaBus creates a bus on topic. Each process reads with its own
// consumer group so every process sees every envelope.
func NewKafkaBus(brokers []string, topic, nodeID string) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 5 * time.Millisecond,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     "chat-hub-" + nodeID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		}),
	}
}

func (b *KafkaBus) Publish(ctx context.Context, env *Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Room),
		Value: value,
		Time:  time.Now(),
	})
}

// Consume blocks until ctx is cancelled
func (b *KafkaBus) Consume(ctx context.Context, handle func(*Envelope)) error {
	for {
		m, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			busFailuresTotal.WithLabelValues("read").Inc()
			log.Printf("⚠️  Bus read failed, retrying in 1s: %v", err)
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		var env Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Printf("⚠️  Dropping malformed bus envelope: %v", err)
			continue
		}
		handle(&env)
	}
}

func (b *KafkaBus) Close() error {
	return errors.Join(b.writer.Close(), b.reader.Close())
}
