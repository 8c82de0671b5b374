package cart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roastery-checkout/internal/cart"
	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/common"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
	"github.com/noah-isme/roastery-checkout/internal/seed"
	"github.com/noah-isme/roastery-checkout/internal/store/memory"
)

func newService(t *testing.T) (*cart.Service, *memory.Store) {
	t.Helper()
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	st := memory.New()
	st.Load(seed.Demo(now))
	clock := func() time.Time { return now }
	return &cart.Service{
		Store:      st,
		Variants:   st,
		Prices:     &catalog.Resolver{Prices: st},
		Promotions: &promotion.Service{Store: st, Now: clock},
		Now:        clock,
	}, st
}

func newCart(t *testing.T, svc *cart.Service) cart.Cart {
	t.Helper()
	anon := uuid.New()
	c, err := svc.EnsureCart(context.Background(), nil, &anon)
	require.NoError(t, err)
	return c
}

func addConcurrently(svc *cart.Service, cartID, variantID uuid.UUID, adds int) []error {
	var wg sync.WaitGroup
	errs := make([]error, adds)
	for i := range adds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.AddItem(context.Background(), cartID, variantID, 1)
		}()
	}
	wg.Wait()
	return errs
}

func TestAddItemConcurrentAddsKeepEveryUnit(t *testing.T) {
	svc, _ := newService(t)
	c := newCart(t, svc)

	for _, err := range addConcurrently(svc, c.ID, seed.VariantSupremo250, 12) {
		require.NoError(t, err)
	}
	got, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	require.Equal(t, 12, got.Lines[0].Qty)
}

func TestAddItemConcurrentAddsStopAtMaxQty(t *testing.T) {
	svc, _ := newService(t)
	c := newCart(t, svc)

	rejected := 0
	for _, err := range addConcurrently(svc, c.ID, seed.VariantYirgacheffe250, 12) {
		if err != nil {
			require.ErrorIs(t, err, catalog.ErrInvalidQuantity)
			rejected++
		}
	}
	require.Equal(t, 2, rejected)
	got, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.Lines[0].Qty)
}

func TestEnsureCartReusesExisting(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	user := uuid.New()

	first, err := svc.EnsureCart(ctx, &user, nil)
	require.NoError(t, err)
	second, err := svc.EnsureCart(ctx, &user, nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "TOM", first.Currency)

	_, err = svc.EnsureCart(ctx, nil, nil)
	require.ErrorIs(t, err, cart.ErrInvalidInput)
}

func TestAddItemMergesQuantities(t *testing.T) {
	svc, _ := newService(t)
	c := newCart(t, svc)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, c.ID, seed.VariantYirgacheffe250, 2)
	require.NoError(t, err)
	got, err := svc.AddItem(ctx, c.ID, seed.VariantYirgacheffe250, 3)
	require.NoError(t, err)

	require.Len(t, got.Lines, 1)
	require.Equal(t, 5, got.Lines[0].Qty)
	require.EqualValues(t, 320_000, got.Lines[0].UnitPriceSnapshot.Amount)
}

func TestQuantityBounds(t *testing.T) {
	svc, _ := newService(t)
	c := newCart(t, svc)
	ctx := context.Background()

	// the demo 250g variant allows at most 10 per order
	_, err := svc.AddItem(ctx, c.ID, seed.VariantYirgacheffe250, 10)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, c.ID, seed.VariantYirgacheffe250, 1)
	require.ErrorIs(t, err, catalog.ErrInvalidQuantity)
	_, err = svc.UpdateQty(ctx, c.ID, seed.VariantYirgacheffe250, 11)
	require.ErrorIs(t, err, catalog.ErrInvalidQuantity)

	_, err = svc.AddItem(ctx, c.ID, seed.VariantYirgacheffe500, 0)
	require.ErrorIs(t, err, catalog.ErrInvalidQuantity)
}

func TestUpdateQtyZeroRemovesLine(t *testing.T) {
	svc, _ := newService(t)
	c := newCart(t, svc)
	ctx := context.Background()
	_, err := svc.AddItem(ctx, c.ID, seed.VariantYirgacheffe500, 1)
	require.NoError(t, err)

	got, err := svc.UpdateQty(ctx, c.ID, seed.VariantYirgacheffe500, 0)
	require.NoError(t, err)
	require.Empty(t, got.Lines)

	_, err = svc.UpdateQty(ctx, c.ID, seed.VariantYirgacheffe500, 2)
	require.ErrorIs(t, err, cart.ErrNotFound)
}

func TestAddInactiveVariant(t *testing.T) {
	svc, st := newService(t)
	c := newCart(t, svc)
	v, err := st.Variant(context.Background(), seed.VariantSupremo250)
	require.NoError(t, err)
	v.Active = false
	st.PutVariant(v)

	_, err = svc.AddItem(context.Background(), c.ID, seed.VariantSupremo250, 1)
	require.ErrorIs(t, err, catalog.ErrVariantUnavailable)
}

func TestApplyCoupon(t *testing.T) {
	svc, st := newService(t)
	c := newCart(t, svc)
	ctx := context.Background()

	got, err := svc.ApplyCoupon(ctx, c.ID, "  welcome10 ")
	require.NoError(t, err)
	require.Equal(t, "WELCOME10", got.CouponCode)

	_, err = svc.ApplyCoupon(ctx, c.ID, "NOPE")
	require.ErrorIs(t, err, promotion.ErrCouponNotFound)

	st.PutCoupon(promotion.Coupon{ID: uuid.New(), Code: "OLD", Kind: promotion.KindPercent, Value: 5, Active: false})
	_, err = svc.ApplyCoupon(ctx, c.ID, "old")
	require.ErrorIs(t, err, promotion.ErrCouponInactiveOrExpired)

	got, err = svc.RemoveCoupon(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, got.CouponCode)
}

func TestHandlerAddItemErrors(t *testing.T) {
	svc, _ := newService(t)
	c := newCart(t, svc)
	h := &cart.Handler{Svc: svc}
	r := chi.NewRouter()
	r.Post("/carts/{id}/items", h.AddItem)

	body := `{"variantId":"` + seed.VariantYirgacheffe250.String() + `","qty":11}`
	req := httptest.NewRequest(http.MethodPost, "/carts/"+c.ID.String()+"/items", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "INVALID_QUANTITY", resp.Error.Code)

	req = httptest.NewRequest(http.MethodPost, "/carts/"+uuid.NewString()+"/items", strings.NewReader(`{"variantId":"`+seed.VariantYirgacheffe250.String()+`","qty":1}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
