package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

// topicPublisher is the shared publish path: JSON body, string attributes, optional ordering key,
// and a blocking Get so callers learn about failures.
type topicPublisher struct {
	name    string
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

func newTopicPublisher(name string, topic *pubsub.Topic) (topicPublisher, error) {
	if topic == nil {
		return topicPublisher{}, fmt.Errorf("%s: topic is required", name)
	}
	return topicPublisher{name: name, topic: topic, marshal: json.Marshal}, nil
}

func (p topicPublisher) publish(ctx context.Context, payload any, attrs map[string]string, orderingKey string) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("%s: not initialised", p.name)
	}
	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%s: marshal: %w", p.name, err)
	}
	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if orderingKey != "" && p.topic.EnableMessageOrdering {
		msg.OrderingKey = orderingKey
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if orderingKey != "" && p.topic.EnableMessageOrdering {
			// A failed publish pauses the ordering key until resumed.
			p.topic.ResumePublish(orderingKey)
		}
		return "", fmt.Errorf("%s: publish: %w", p.name, err)
	}
	return id, nil
}

// OrderEventMessage is the wire form of an order status event.
type OrderEventMessage struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	Source         string         `json:"source,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PubSubOrderEventPublisher publishes order status events keyed by order id, so consumers with
// ordering enabled see one order's events in sequence.
type PubSubOrderEventPublisher struct {
	topicPublisher
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher wraps topic.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	base, err := newTopicPublisher("pubsub order events", topic)
	if err != nil {
		return nil, err
	}
	return &PubSubOrderEventPublisher{topicPublisher: base}, nil
}

func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil {
		return errors.New("pubsub order events: publisher is nil")
	}
	attrs := map[string]string{}
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.CurrentStatus)
	setAttr(attrs, "source", event.Source)

	_, err := p.publish(ctx, OrderEventMessage{
		ID:             event.ID,
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		Source:         event.Source,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}, attrs, event.OrderID)
	return err
}

// PubSubRetryQueue enqueues gateway retry jobs. The push subscription delivers them back to the
// internal jobs endpoint and redelivers with backoff when that endpoint fails.
type PubSubRetryQueue struct {
	topicPublisher
}

var _ services.GatewayRetryQueue = (*PubSubRetryQueue)(nil)

// NewPubSubRetryQueue wraps topic.
func NewPubSubRetryQueue(topic *pubsub.Topic) (*PubSubRetryQueue, error) {
	base, err := newTopicPublisher("pubsub retry queue", topic)
	if err != nil {
		return nil, err
	}
	return &PubSubRetryQueue{topicPublisher: base}, nil
}

func (q *PubSubRetryQueue) Enqueue(ctx context.Context, job services.GatewayRetryJob) error {
	if q == nil {
		return errors.New("pubsub retry queue: queue is nil")
	}
	attrs := map[string]string{}
	setAttr(attrs, "jobId", job.ID)
	setAttr(attrs, "action", string(job.Action))
	setAttr(attrs, "orderId", job.OrderID)
	attrs["attempt"] = strconv.Itoa(job.Attempt)

	_, err := q.publish(ctx, job, attrs, job.OrderID)
	return err
}

// PubSubDeadLetterSink parks webhook events that could not be applied.
type PubSubDeadLetterSink struct {
	topicPublisher
}

var _ services.DeadLetterSink = (*PubSubDeadLetterSink)(nil)

// NewPubSubDeadLetterSink wraps topic.
func NewPubSubDeadLetterSink(topic *pubsub.Topic) (*PubSubDeadLetterSink, error) {
	base, err := newTopicPublisher("pubsub dead letters", topic)
	if err != nil {
		return nil, err
	}
	return &PubSubDeadLetterSink{topicPublisher: base}, nil
}

func (s *PubSubDeadLetterSink) PublishDeadLetter(ctx context.Context, letter services.DeadLetter) error {
	if s == nil {
		return errors.New("pubsub dead letters: sink is nil")
	}
	attrs := map[string]string{}
	setAttr(attrs, "provider", letter.Provider)
	setAttr(attrs, "eventId", letter.EventID)
	setAttr(attrs, "orderId", letter.OrderID)
	setAttr(attrs, "reason", letter.Reason)

	_, err := s.publish(ctx, letter, attrs, "")
	return err
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
