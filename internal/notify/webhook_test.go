package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/notify"
	"github.com/noah-isme/roastery-checkout/internal/resilience"
)

func sampleEvent() events.Event {
	return events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicOrderPaid,
		AggregateID: uuid.New(),
		Payload:     json.RawMessage(`{"number":1001}`),
		OccurredAt:  time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC),
	}
}

func httpClient(srv *httptest.Server) *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(1, 1, time.Second),
		MaxAttempts: 1,
		Timeout:     time.Second,
	}
}

func TestSignatureAndHeaders(t *testing.T) {
	type recorded struct {
		req  *http.Request
		body []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{req: r, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{
		Endpoints: []notify.Endpoint{{URL: srv.URL, Secret: "secret"}},
		HTTP:      httpClient(srv),
	}
	ev := sampleEvent()
	require.NoError(t, hook.Deliver(context.Background(), ev))

	record := <-received
	req := record.req
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, ev.ID.String(), req.Header.Get("X-Event-ID"))
	require.Equal(t, events.TopicOrderPaid, req.Header.Get("X-Event-Topic"))
	ts, err := strconv.ParseInt(req.Header.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature("secret", ts, ev.ID.String(), record.body), req.Header.Get("X-Signature"))
	require.True(t, notify.VerifySignature("secret", ts, ev.ID.String(), record.body, req.Header.Get("X-Signature")))
	require.False(t, notify.VerifySignature("other", ts, ev.ID.String(), record.body, req.Header.Get("X-Signature")))

	var body struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(record.body, &body))
	require.Equal(t, ev.AggregateID.String(), body.AggregateID)
	require.JSONEq(t, `{"number":1001}`, string(body.Data))
}

func TestTopicFilter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{
		Endpoints: []notify.Endpoint{{URL: srv.URL, Topics: []string{events.TopicCheckoutAbandoned}}},
		HTTP:      httpClient(srv),
	}
	require.NoError(t, hook.Deliver(context.Background(), sampleEvent()))
	require.Zero(t, hits.Load())

	ev := sampleEvent()
	ev.Topic = events.TopicCheckoutAbandoned
	require.NoError(t, hook.Deliver(context.Background(), ev))
	require.EqualValues(t, 1, hits.Load())
}

func TestReplayGuardSkipsDeliveredEndpoints(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var okHits, failHits atomic.Int32
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(okSrv.Close)
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failHits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(failSrv.Close)

	hook := &notify.Webhook{
		Endpoints: []notify.Endpoint{{URL: okSrv.URL}, {URL: failSrv.URL}},
		HTTP:      &resilience.HTTPClient{Client: http.DefaultClient, MaxAttempts: 1},
		Ledger:    notify.RedisLedger{Client: rdb},
		ReplayTTL: time.Hour,
	}
	ev := sampleEvent()

	err = hook.Deliver(context.Background(), ev)
	require.ErrorIs(t, err, notify.ErrDeliveryFailed)
	require.EqualValues(t, 1, okHits.Load())
	require.EqualValues(t, 1, failHits.Load())

	require.NoError(t, hook.Deliver(context.Background(), ev))
	require.EqualValues(t, 1, okHits.Load(), "delivered endpoint is not called again")
	require.EqualValues(t, 2, failHits.Load())
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{Endpoints: []notify.Endpoint{{URL: srv.URL}}, HTTP: httpClient(srv)}
	err := hook.Deliver(context.Background(), sampleEvent())
	var statusErr *resilience.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestRejectsPlainHTTPForRemoteHosts(t *testing.T) {
	hook := &notify.Webhook{
		Endpoints: []notify.Endpoint{{URL: "http://hooks.example.com/events"}},
		HTTP:      &resilience.HTTPClient{Client: http.DefaultClient},
	}
	err := hook.Deliver(context.Background(), sampleEvent())
	require.ErrorContains(t, err, "only allowed for localhost")

	hook.Endpoints = []notify.Endpoint{{URL: "ftp://hooks.example.com/events"}}
	require.ErrorContains(t, hook.Deliver(context.Background(), sampleEvent()), "unsupported webhook scheme")
}

func TestParseEndpoints(t *testing.T) {
	eps := notify.ParseEndpoints(" https://a.example/hook|s3cret|order.paid, order.created ; https://b.example/hook ;")
	require.Len(t, eps, 2)
	require.Equal(t, "https://a.example/hook", eps[0].URL)
	require.Equal(t, "s3cret", eps[0].Secret)
	require.Equal(t, []string{"order.paid", "order.created"}, eps[0].Topics)
	require.Equal(t, "https://b.example/hook", eps[1].URL)
	require.Empty(t, eps[1].Secret)
	require.Empty(t, eps[1].Topics)
}
