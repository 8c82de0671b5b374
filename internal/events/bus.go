package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent wraps every rejection from Emit that happens before the
// event reaches the store.
var ErrInvalidEvent = errors.New("events: invalid event")

// Event is a domain event as stored in the outbox table.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID uuid.UUID       `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Store persists events to the outbox.
type Store interface {
	InsertEvent(ctx context.Context, ev Event) (Event, error)
}

// Notifier is told about each event after it has been stored.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Bus writes events to the outbox, then hands them to each Notifier in
// order. The outbox row is the source of truth: a failing notifier does not
// undo it, and its error is returned joined with the others.
type Bus struct {
	Store     Store
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit stores an event for aggregateID under topic. payload may be nil, a
// JSON document as string, []byte or json.RawMessage, or any value
// json.Marshal accepts.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errors.New("events: store not configured")
	}
	ev, err := b.build(topic, aggregateID, payload)
	if err != nil {
		return Event{}, err
	}
	stored, err := b.Store.InsertEvent(ctx, ev)
	if err != nil {
		return Event{}, fmt.Errorf("events: persist %s: %w", ev.Topic, err)
	}

	var errs []error
	for _, n := range b.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, stored); err != nil {
			errs = append(errs, fmt.Errorf("events: notify %s: %w", stored.Topic, err))
		}
	}
	return stored, errors.Join(errs...)
}

func (b *Bus) build(topic string, aggregateID uuid.UUID, payload any) (Event, error) {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return Event{}, fmt.Errorf("%w: topic is required", ErrInvalidEvent)
	case aggregateID == uuid.Nil:
		return Event{}, fmt.Errorf("%w: aggregate id is required", ErrInvalidEvent)
	}
	data, err := payloadJSON(payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     data,
		OccurredAt:  now().UTC(),
	}, nil
}

func payloadJSON(payload any) (json.RawMessage, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(strings.TrimSpace(v))
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid json")
	}
	return append(json.RawMessage(nil), raw...), nil
}
