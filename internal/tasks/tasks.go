// Package tasks defines the background jobs run by cmd/worker on asynq:
// delayed checkout expiry and fan-out of domain events to webhooks.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/roastery-checkout/internal/events"
)

// Task type names.
const (
	TypeCheckoutExpire = "checkout:expire"
	TypeEventDeliver   = "events:deliver"
)

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "default"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type expirePayload struct {
	CheckoutID uuid.UUID `json:"checkoutId"`
}

// Scheduler enqueues checkout expiry tasks. It implements
// checkout.ExpiryScheduler.
type Scheduler struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
}

// ScheduleCheckoutExpiry enqueues a task that abandons the checkout after
// the delay. Scheduling twice for the same checkout is a no-op.
func (s Scheduler) ScheduleCheckoutExpiry(ctx context.Context, checkoutID uuid.UUID, after time.Duration) error {
	if s.Client == nil {
		return errors.New("tasks: client not configured")
	}
	payload, err := json.Marshal(expirePayload{CheckoutID: checkoutID})
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.ProcessIn(after),
		asynq.TaskID(TypeCheckoutExpire + ":" + checkoutID.String()),
		asynq.Queue(queueOr(s.Queue)),
	}
	if s.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxRetry))
	}
	_, err = s.Client.EnqueueContext(ctx, asynq.NewTask(TypeCheckoutExpire, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeCheckoutExpire, err)
	}
	return nil
}

// Forwarder hands persisted domain events to the worker for webhook
// delivery. It implements events.Notifier.
type Forwarder struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	// Topics restricts which events are forwarded; empty forwards all.
	Topics []string
}

// Notify enqueues ev. The task id is derived from the event id so a
// re-emitted event is not delivered twice.
func (f Forwarder) Notify(ctx context.Context, ev events.Event) error {
	if f.Client == nil {
		return errors.New("tasks: client not configured")
	}
	if !f.wants(ev.Topic) {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.TaskID(TypeEventDeliver + ":" + ev.ID.String()),
		asynq.Queue(queueOr(f.Queue)),
	}
	if f.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(f.MaxRetry))
	}
	_, err = f.Client.EnqueueContext(ctx, asynq.NewTask(TypeEventDeliver, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeEventDeliver, err)
	}
	return nil
}

func (f Forwarder) wants(topic string) bool {
	if len(f.Topics) == 0 {
		return true
	}
	for _, t := range f.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

func queueOr(name string) string {
	if name == "" {
		return DefaultQueue
	}
	return name
}
