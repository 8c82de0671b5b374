package order_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roastery-checkout/internal/common"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/order"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
)

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to order.Status
		ok       bool
	}{
		{order.StatusPending, order.StatusAwaitingPayment, true},
		{order.StatusPending, order.StatusShipped, false},
		{order.StatusAwaitingPayment, order.StatusPaid, true},
		{order.StatusPaid, order.StatusProcessing, true},
		{order.StatusPaid, order.StatusDelivered, false},
		{order.StatusProcessing, order.StatusShipped, true},
		{order.StatusShipped, order.StatusDelivered, true},
		{order.StatusShipped, order.StatusCancelled, false},
		{order.StatusDelivered, order.StatusRefunded, true},
		{order.StatusCancelled, order.StatusPaid, false},
		{order.StatusRefunded, order.StatusPaid, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			require.Equal(t, tc.ok, tc.from.CanTransition(tc.to))
		})
	}
	require.False(t, order.Status("lost").Valid())
}

func TestTransitionStampsTimestamps(t *testing.T) {
	at := time.Date(2026, 3, 21, 8, 0, 0, 0, time.UTC)
	o := order.Order{Status: order.StatusPaid, Payable: pricing.New(1_046_300, "TOM"), RefundAmount: pricing.Zero("TOM")}

	require.NoError(t, o.Transition(order.StatusProcessing, at))
	require.Equal(t, &at, o.ProcessingAt)
	require.NoError(t, o.Transition(order.StatusRefunded, at.Add(time.Hour)))
	require.NotNil(t, o.RefundedAt)
	require.EqualValues(t, 1_046_300, o.RefundAmount.Amount)

	require.ErrorIs(t, o.Transition(order.StatusShipped, at), order.ErrInvalidTransition)
}

func TestUpdateStatusEmitsEvent(t *testing.T) {
	f := newFixture(t, nil)
	co := f.startCheckout(t, nil)
	ctx := context.Background()
	res, err := f.svc.Materializer.Materialize(ctx, co.ID, pricing.Zero("TOM"))
	require.NoError(t, err)

	updated, err := f.svc.Orders.UpdateStatus(ctx, res.Order.ID, order.StatusProcessing)
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, updated.Status)
	require.NotNil(t, updated.ProcessingAt)
	require.Len(t, f.store.Events(events.TopicOrderStatusChanged), 1)

	_, err = f.svc.Orders.UpdateStatus(ctx, res.Order.ID, order.StatusPaid)
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	_, err = f.svc.Orders.UpdateStatus(ctx, res.Order.ID, "teleported")
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	_, err = f.svc.Orders.UpdateStatus(ctx, uuid.New(), order.StatusShipped)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestListForUser(t *testing.T) {
	f := newFixture(t, nil)
	user := uuid.New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		co := f.startCheckout(t, &user)
		_, err := f.svc.Materializer.Materialize(ctx, co.ID, pricing.Zero("TOM"))
		require.NoError(t, err)
	}
	other := f.startCheckout(t, nil)
	_, err := f.svc.Materializer.Materialize(ctx, other.ID, pricing.Zero("TOM"))
	require.NoError(t, err)

	page, total, err := f.svc.Orders.ListForUser(ctx, user, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)
	require.Greater(t, page[0].Number, page[1].Number)
}

func TestHandlerGetByNumberOwnership(t *testing.T) {
	f := newFixture(t, nil)
	owner := uuid.New()
	co := f.startCheckout(t, &owner)
	res, err := f.svc.Materializer.Materialize(context.Background(), co.ID, pricing.Zero("TOM"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(common.TrustedUserHeader)
	h := &order.Handler{Svc: f.svc.Orders}
	r.Get("/orders/{number}", h.GetByNumber)

	get := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/orders/"+strconv.FormatInt(res.Order.Number, 10), nil)
		if user != "" {
			req.Header.Set(common.UserIDHeader, user)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := get(owner.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data order.Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, res.Order.ID, body.Data.ID)

	require.Equal(t, http.StatusNotFound, get(uuid.NewString()).Code)
	require.Equal(t, http.StatusNotFound, get("").Code)
}

func TestAdminPatchStatus(t *testing.T) {
	f := newFixture(t, nil)
	co := f.startCheckout(t, nil)
	res, err := f.svc.Materializer.Materialize(context.Background(), co.ID, pricing.Zero("TOM"))
	require.NoError(t, err)

	r := chi.NewRouter()
	h := &order.AdminHandler{Svc: f.svc.Orders}
	r.Patch("/admin/orders/{id}/status", h.PatchStatus)
	patch := func(body string) int {
		req := httptest.NewRequest(http.MethodPatch, "/admin/orders/"+res.Order.ID.String()+"/status", strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, patch(`{"status":"processing"}`))
	require.Equal(t, http.StatusConflict, patch(`{"status":"paid"}`))
	require.Equal(t, http.StatusBadRequest, patch(`{}`))
}
