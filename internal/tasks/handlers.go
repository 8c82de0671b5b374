package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/obs"
)

// CheckoutExpirer abandons a checkout that is still started.
type CheckoutExpirer interface {
	Expire(ctx context.Context, id uuid.UUID) error
}

// EventDeliverer pushes an event to external subscribers.
type EventDeliverer interface {
	Deliver(ctx context.Context, ev events.Event) error
}

// Locker is satisfied by lock.Locker.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Handlers process the worker's task types.
type Handlers struct {
	Checkouts CheckoutExpirer
	Webhook   EventDeliverer
	// Locker, when set, keeps two workers from delivering the same event
	// concurrently after a lease timeout.
	Locker  Locker
	LockTTL time.Duration
	Logger  *zerolog.Logger
}

// Register mounts the handlers on mux.
func (h Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeCheckoutExpire, h.HandleCheckoutExpire)
	mux.HandleFunc(TypeEventDeliver, h.HandleEventDeliver)
}

// HandleCheckoutExpire abandons the checkout named in the payload.
func (h Handlers) HandleCheckoutExpire(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { record(t.Type(), err) }()
	if h.Checkouts == nil {
		return errors.New("tasks: checkout service not configured")
	}
	var p expirePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.CheckoutID == uuid.Nil {
		return fmt.Errorf("decode %s payload: %w", t.Type(), asynq.SkipRetry)
	}
	h.logger(ctx).Debug().Str("checkout_id", p.CheckoutID.String()).Msg("expire checkout")
	return h.Checkouts.Expire(ctx, p.CheckoutID)
}

// HandleEventDeliver sends the event in the payload to the webhook endpoints.
func (h Handlers) HandleEventDeliver(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { record(t.Type(), err) }()
	if h.Webhook == nil {
		return nil
	}
	var ev events.Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil || ev.ID == uuid.Nil {
		return fmt.Errorf("decode %s payload: %w", t.Type(), asynq.SkipRetry)
	}
	deliver := func(ctx context.Context) error { return h.Webhook.Deliver(ctx, ev) }
	if h.Locker == nil {
		return deliver(ctx)
	}
	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return h.Locker.WithLock(ctx, "lock:event:"+ev.ID.String(), ttl, deliver)
}

func (h Handlers) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if h.Logger != nil {
		return h.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func record(taskType string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, asynq.SkipRetry):
		result = "dropped"
	case err != nil:
		result = "error"
	}
	obs.Inc(obs.TaskProcessedTotal, taskType, result)
}

// ErrorHandler logs tasks that failed, for asynq.Config.ErrorHandler.
func ErrorHandler(logger zerolog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Warn().Err(err).
			Str("task_type", t.Type()).
			Int("retry", retried).
			Int("max_retry", maxRetry).
			Msg("task failed")
	})
}
