package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
)

const (
	TypeMessageSent      = "message.sent"
	TypeConversationRead = "conversation.read"
)

// Event is the envelope written to the messaging topic. Downstream
// notification services key off Type and RecipientID.
type Event struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversationId"`
	ActorID        uuid.UUID `json:"actorId"`
	RecipientID    uuid.UUID `json:"recipientId"`
	MessageID      uuid.UUID `json:"messageId,omitempty"`
	Updated        int64     `json:"updated,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Publisher emits domain events. Implementations must not block the request
// path for long; failures are reported but never undo the write.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// KafkaPublisher writes events as JSON, keyed by conversation so one
// conversation's events stay ordered on a partition.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher builds an async writer for the comma-separated brokers.
func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("no kafka topic configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &KafkaPublisher{w: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ConversationID.String()),
		Value: b,
		Time:  e.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Close() error { return nil }
