// Package kafka streams audit events to a Kafka topic as JSON records keyed
// by verification code, so one credential's trail stays on one partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"blockcreds/internal/platform/kafka/producer"
	audit "blockcreds/pkg/platform/audit"
)

// DefaultTopic receives audit records when no topic is configured.
const DefaultTopic = "blockcreds.audit"

// Producer is the subset of producer.Producer the sink needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Store implements audit.Store on top of a Kafka producer.
type Store struct {
	producer Producer
	topic    string
}

var _ audit.Store = (*Store)(nil)

func New(p Producer, topic string) *Store {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Store{producer: p, topic: topic}
}

// record is the wire shape of an audit event.
type record struct {
	Timestamp time.Time         `json:"timestamp"`
	Category  string            `json:"category"`
	Action    string            `json:"action"`
	ActorID   string            `json:"actor_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Code      string            `json:"code,omitempty"`
	Decision  string            `json:"decision,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	rec := record{
		Timestamp: event.Timestamp.UTC(),
		Category:  string(event.Action.Category()),
		Action:    string(event.Action),
		Subject:   event.Subject,
		Code:      event.Code,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		ClientIP:  event.ClientIP,
		Agent:     event.Agent,
		Details:   event.Details,
	}
	if !event.ActorID.IsNil() {
		rec.ActorID = event.ActorID.String()
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	headers := map[string]string{
		"action":   rec.Action,
		"category": rec.Category,
	}
	if rec.RequestID != "" {
		headers["request_id"] = rec.RequestID
	}

	return s.producer.Produce(ctx, &producer.Message{
		Topic:   s.topic,
		Key:     []byte(event.Code),
		Value:   value,
		Headers: headers,
	})
}
