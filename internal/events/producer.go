package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Downstream event names written to Kafka for the notification and mail
// consumers.
const (
	MessageSent         = "message.sent"
	MessageSeen         = "message.seen"
	MessageEdited       = "message.edited"
	MessageDeleted      = "message.deleted"
	ConversationCreated = "conversation.created"
	ConversationUpdated = "conversation.updated"
	ConversationDeleted = "conversation.deleted"
	PresenceChanged     = "presence.changed"
)

// Event is the record value on the topic.
type Event struct {
	Name       string      `json:"name"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

type Sink interface {
	Publish(ctx context.Context, name, key string, data interface{}) error
	Close() error
}

type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: w}
}

// Publish writes one event keyed by key so events of one conversation stay
// on one partition.
func (p *Producer) Publish(ctx context.Context, name, key string, data interface{}) error {
	now := time.Now().UTC()
	b, err := json.Marshal(Event{Name: name, Key: key, OccurredAt: now, Data: data})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:     []byte(key),
		Value:   b,
		Time:    now,
		Headers: []kafkago.Header{{Key: "event", Value: []byte(name)}},
	})
}

func (p *Producer) Close() error { return p.writer.Close() }

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, interface{}) error { return nil }
func (Noop) Close() error                                               { return nil }
