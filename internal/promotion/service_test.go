package promotion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	coupons     map[string]Coupon
	globals     []GlobalDiscount
	redemptions int
	lookups     []string
}

func (s *stubStore) CouponByCode(_ context.Context, code string) (Coupon, error) {
	s.lookups = append(s.lookups, code)
	c, ok := s.coupons[code]
	if !ok {
		return Coupon{}, ErrCouponNotFound
	}
	return c, nil
}

func (s *stubStore) GlobalDiscounts(context.Context) ([]GlobalDiscount, error) {
	return s.globals, nil
}

func (s *stubStore) CountRedemptionsByUser(context.Context, uuid.UUID, uuid.UUID) (int, error) {
	return s.redemptions, nil
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	store := &stubStore{coupons: map[string]Coupon{"WELCOME10": *percentCoupon(10)}}
	svc := &Service{Store: store}
	c, err := svc.Lookup(context.Background(), "  welcome10 ")
	require.NoError(t, err)
	require.Equal(t, "WELCOME10", c.Code)
	require.Equal(t, []string{"WELCOME10"}, store.lookups)

	_, err = svc.Lookup(context.Background(), "   ")
	require.ErrorIs(t, err, ErrCouponNotFound)
}

func TestActiveGlobalPicksNewestLive(t *testing.T) {
	past := testNow.Add(-time.Hour)
	store := &stubStore{globals: []GlobalDiscount{
		{ID: uuid.New(), PercentOff: 5, Active: true, CreatedAt: testNow.Add(-48 * time.Hour)},
		{ID: uuid.New(), PercentOff: 10, Active: true, CreatedAt: testNow.Add(-24 * time.Hour)},
		{ID: uuid.New(), PercentOff: 50, Active: true, EndsAt: &past, CreatedAt: testNow.Add(-2 * time.Hour)},
		{ID: uuid.New(), PercentOff: 70, Active: false, CreatedAt: testNow.Add(-time.Hour)},
	}}
	g, err := (&Service{Store: store}).ActiveGlobal(context.Background(), testNow)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.Equal(t, 10, g.PercentOff)

	g, err = (&Service{Store: &stubStore{}}).ActiveGlobal(context.Background(), testNow)
	require.NoError(t, err)
	require.Nil(t, g)
}

func TestCheckUsage(t *testing.T) {
	total := 3
	perUser := 1
	c := *percentCoupon(10)
	c.MaxUsesTotal = &total
	c.MaxUsesPerUser = &perUser
	user := uuid.New()

	svc := &Service{Store: &stubStore{}}
	require.NoError(t, svc.CheckUsage(context.Background(), c, &user))

	svc = &Service{Store: &stubStore{redemptions: 1}}
	require.ErrorIs(t, svc.CheckUsage(context.Background(), c, &user), ErrCouponPerUserLimitReached)
	require.NoError(t, svc.CheckUsage(context.Background(), c, nil))

	c.UsedCount = 3
	require.ErrorIs(t, svc.CheckUsage(context.Background(), c, nil), ErrCouponUsageLimitReached)
}

func TestEvaluateRejectionsAreWarnings(t *testing.T) {
	total := 1
	capped := *percentCoupon(10)
	capped.Code = "CAPPED"
	capped.MaxUsesTotal = &total
	capped.UsedCount = 1
	store := &stubStore{
		coupons: map[string]Coupon{"WELCOME10": *percentCoupon(10), "CAPPED": capped},
		globals: []GlobalDiscount{{ID: uuid.New(), PercentOff: 10, Active: true}},
	}
	svc := &Service{Store: store}
	ctx := context.Background()

	ev, err := svc.Evaluate(ctx, EvaluateInput{Code: "welcome10", Subtotal: toman(1_000_000), Now: testNow})
	require.NoError(t, err)
	require.NotNil(t, ev.Coupon)
	require.NotNil(t, ev.Global)
	require.Equal(t, int64(810_000), ev.PayableBeforeShipping.Amount)

	ev, err = svc.Evaluate(ctx, EvaluateInput{Code: "CAPPED", Subtotal: toman(1_000_000), Now: testNow})
	require.NoError(t, err)
	require.ErrorIs(t, ev.CouponRejection, ErrCouponUsageLimitReached)
	require.Nil(t, ev.Coupon)
	require.Equal(t, int64(900_000), ev.PayableBeforeShipping.Amount)

	ev, err = svc.Evaluate(ctx, EvaluateInput{Code: "NOPE", Subtotal: toman(1_000_000), Now: testNow})
	require.NoError(t, err)
	require.True(t, errors.Is(ev.CouponRejection, ErrCouponNotFound))
	require.Equal(t, int64(900_000), ev.PayableBeforeShipping.Amount)
}

func TestEvaluateScopedCoupon(t *testing.T) {
	beans := uuid.New()
	scoped := *percentCoupon(10)
	scoped.AllowedProductIDs = []uuid.UUID{beans}
	svc := &Service{Store: &stubStore{coupons: map[string]Coupon{"WELCOME10": scoped}}}

	ev, err := svc.Evaluate(context.Background(), EvaluateInput{
		Code:     "WELCOME10",
		Subtotal: toman(1_000_000),
		Items: []Item{
			{ProductID: beans, Total: toman(400_000)},
			{ProductID: uuid.New(), Total: toman(600_000)},
		},
		Now: testNow,
	})
	require.NoError(t, err)
	require.Equal(t, int64(40_000), ev.CouponDiscount.Amount)
	require.Equal(t, int64(960_000), ev.PayableBeforeShipping.Amount)
}
