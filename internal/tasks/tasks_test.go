package tasks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roastery-checkout/internal/app"
	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/seed"
	"github.com/noah-isme/roastery-checkout/internal/store/memory"
	"github.com/noah-isme/roastery-checkout/internal/tasks"
)

type enqueued struct {
	task *asynq.Task
	opts map[asynq.OptionType]any
}

type recordingClient struct {
	mu    sync.Mutex
	tasks []enqueued
	seen  map[string]bool
}

func (c *recordingClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := enqueued{task: task, opts: map[asynq.OptionType]any{}}
	for _, o := range opts {
		rec.opts[o.Type()] = o.Value()
	}
	if id, ok := rec.opts[asynq.TaskIDOpt].(string); ok {
		if c.seen == nil {
			c.seen = map[string]bool{}
		}
		if c.seen[id] {
			return nil, asynq.ErrTaskIDConflict
		}
		c.seen[id] = true
	}
	c.tasks = append(c.tasks, rec)
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func TestScheduleCheckoutExpiry(t *testing.T) {
	client := &recordingClient{}
	s := tasks.Scheduler{Client: client, Queue: "checkout", MaxRetry: 4}
	id := uuid.New()

	require.NoError(t, s.ScheduleCheckoutExpiry(context.Background(), id, 30*time.Minute))
	require.NoError(t, s.ScheduleCheckoutExpiry(context.Background(), id, 30*time.Minute), "duplicate schedule is ignored")

	require.Len(t, client.tasks, 1)
	got := client.tasks[0]
	require.Equal(t, tasks.TypeCheckoutExpire, got.task.Type())
	require.JSONEq(t, `{"checkoutId":"`+id.String()+`"}`, string(got.task.Payload()))
	require.Equal(t, 30*time.Minute, got.opts[asynq.ProcessInOpt])
	require.Equal(t, "checkout", got.opts[asynq.QueueOpt])
	require.Equal(t, 4, got.opts[asynq.MaxRetryOpt])
}

func TestForwarderFiltersTopics(t *testing.T) {
	client := &recordingClient{}
	f := tasks.Forwarder{Client: client, Topics: []string{events.TopicOrderPaid}}

	ev := events.Event{ID: uuid.New(), Topic: events.TopicOrderPaid, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, f.Notify(context.Background(), ev))
	require.NoError(t, f.Notify(context.Background(), ev))
	require.NoError(t, f.Notify(context.Background(), events.Event{ID: uuid.New(), Topic: events.TopicCheckoutStarted}))

	require.Len(t, client.tasks, 1)
	require.Equal(t, tasks.TypeEventDeliver, client.tasks[0].task.Type())
	require.Equal(t, tasks.DefaultQueue, client.tasks[0].opts[asynq.QueueOpt])

	var decoded events.Event
	require.NoError(t, json.Unmarshal(client.tasks[0].task.Payload(), &decoded))
	require.Equal(t, ev.ID, decoded.ID)
}

func TestHandleCheckoutExpireAbandonsStartedCheckout(t *testing.T) {
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	st := memory.New()
	st.Load(seed.Demo(now))
	client := &recordingClient{}
	svc := app.New(app.Dependencies{
		Store:  st,
		Expiry: tasks.Scheduler{Client: client},
		Now:    func() time.Time { return now },
	}, app.Options{CheckoutTTL: time.Hour})

	ctx := context.Background()
	anon := uuid.New()
	c, err := svc.Carts.EnsureCart(ctx, nil, &anon)
	require.NoError(t, err)
	_, err = svc.Carts.AddItem(ctx, c.ID, seed.VariantSupremo250, 1)
	require.NoError(t, err)
	co, err := svc.Checkouts.Start(ctx, c.ID, checkout.StartInput{
		Contact: checkout.Contact{Phone: "+989121234567"},
		ShippingAddress: checkout.Address{
			Recipient: "Guest", Province: "Tehran", City: "Tehran",
			Line1: "Valiasr St, No. 123", PostalCode: "1234567890",
		},
		DeliveryOption: "post",
	}, nil)
	require.NoError(t, err)
	require.Len(t, client.tasks, 1)

	h := tasks.Handlers{Checkouts: svc.Checkouts}
	require.NoError(t, h.HandleCheckoutExpire(ctx, client.tasks[0].task))
	got, err := svc.Checkouts.Get(ctx, co.ID)
	require.NoError(t, err)
	require.Equal(t, checkout.StatusAbandoned, got.Status)

	require.NoError(t, h.HandleCheckoutExpire(ctx, client.tasks[0].task), "expiring twice is harmless")
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	h := tasks.Handlers{Checkouts: fakeExpirer{}, Webhook: &fakeWebhook{}}
	err := h.HandleCheckoutExpire(context.Background(), asynq.NewTask(tasks.TypeCheckoutExpire, []byte(`nope`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = h.HandleEventDeliver(context.Background(), asynq.NewTask(tasks.TypeEventDeliver, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleEventDeliverUsesLock(t *testing.T) {
	hook := &fakeWebhook{err: errors.New("endpoint down")}
	locker := &fakeLocker{}
	h := tasks.Handlers{Webhook: hook, Locker: locker}
	ev := events.Event{ID: uuid.New(), Topic: events.TopicOrderCreated, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	err = h.HandleEventDeliver(context.Background(), asynq.NewTask(tasks.TypeEventDeliver, payload))
	require.ErrorContains(t, err, "endpoint down")
	require.Equal(t, []string{"lock:event:" + ev.ID.String()}, locker.keys)
	require.Equal(t, []uuid.UUID{ev.ID}, hook.delivered)
}

type fakeExpirer struct{}

func (fakeExpirer) Expire(context.Context, uuid.UUID) error { return nil }

type fakeWebhook struct {
	delivered []uuid.UUID
	err       error
}

func (f *fakeWebhook) Deliver(_ context.Context, ev events.Event) error {
	f.delivered = append(f.delivered, ev.ID)
	return f.err
}

type fakeLocker struct {
	keys []string
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

func TestLoggerWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	l := tasks.Logger(zerolog.New(&buf))
	l.Warn("queue ", "paused")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "warn", line["level"])
	require.Equal(t, "asynq", line["component"])
	require.Equal(t, "queue paused", line["message"])
}
