package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roastery-checkout/internal/app"
	"github.com/noah-isme/roastery-checkout/internal/checkout"
	"github.com/noah-isme/roastery-checkout/internal/db"
	"github.com/noah-isme/roastery-checkout/internal/events"
	"github.com/noah-isme/roastery-checkout/internal/order"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
	"github.com/noah-isme/roastery-checkout/internal/seed"
)

var _ app.Store = (*Store)(nil)

func TestUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraintOrderNumber})
	constraint, ok := uniqueViolation(err)
	require.True(t, ok)
	require.Equal(t, constraintOrderNumber, constraint)

	_, ok = uniqueViolation(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})
	require.False(t, ok)
	_, ok = uniqueViolation(errors.New("boom"))
	require.False(t, ok)
}

func TestNullHelpers(t *testing.T) {
	require.Nil(t, nullTime(time.Time{}))
	now := time.Now()
	require.Equal(t, now, *nullTime(now))
	require.Nil(t, nullJSON(nil))
	require.Equal(t, []byte(`{}`), nullJSON([]byte(`{}`)))
}

func openTestStore(t *testing.T) (*Store, *pgxpool.Pool, *app.Services) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Down(pool))
	require.NoError(t, db.Migrate(pool, zerolog.Nop()))

	now := time.Now().UTC().Truncate(time.Microsecond)
	st := New(pool)
	require.NoError(t, st.Load(ctx, seed.Demo(now)))
	require.NoError(t, st.Load(ctx, seed.Demo(now)), "seeding is idempotent")

	svc := app.New(app.Dependencies{Store: st, Now: func() time.Time { return now }}, app.Options{DefaultShippingFee: 50_000})
	return st, pool, svc
}

func startDemoCheckout(t *testing.T, svc *app.Services) checkout.Checkout {
	t.Helper()
	ctx := context.Background()
	anon := uuid.New()
	c, err := svc.Carts.EnsureCart(ctx, nil, &anon)
	require.NoError(t, err)
	_, err = svc.Carts.AddItem(ctx, c.ID, seed.VariantYirgacheffe250, 2)
	require.NoError(t, err)
	_, err = svc.Carts.AddItem(ctx, c.ID, seed.VariantYirgacheffe500, 1)
	require.NoError(t, err)
	_, err = svc.Carts.ApplyCoupon(ctx, c.ID, "WELCOME10")
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
	require.EqualValues(t, 1_046_300, co.Quote.Payable.Amount)
	return co
}

func count(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

// TestMaterializeAgainstPostgres runs the checkout flow on a real database.
// It needs TEST_DATABASE_URL pointing at a disposable database.
func TestMaterializeAgainstPostgres(t *testing.T) {
	st, _, svc := openTestStore(t)
	ctx := context.Background()
	co := startDemoCheckout(t, svc)

	// the quote digest survives the JSONB round trip
	stored, err := st.Checkout(ctx, co.ID)
	require.NoError(t, err)
	require.Equal(t, co.Quote.Digest(), stored.Quote.Digest())

	paymentID := uuid.New()
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 4)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Materializer.MaterializeCharge(ctx, co.ID, order.Charge{
				PaymentID:   paymentID,
				Amount:      co.Quote.Payable,
				QuoteDigest: co.Quote.Digest(),
				GatewayFee:  pricing.Zero("TOM"),
			})
			if err == nil {
				ids[i] = res.Order.ID
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}

	o, err := st.OrderByCheckout(ctx, co.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1001, o.Number)
	require.Len(t, o.Lines, 2)
	require.Equal(t, "YR-250-WHOLE", o.Lines[0].SKU)
	require.Equal(t, &paymentID, o.PaymentID)

	coupon, err := st.CouponByCode(ctx, "welcome10")
	require.NoError(t, err)
	require.Equal(t, 1, coupon.UsedCount)
}

type failingStock struct{ err error }

func (s failingStock) Reserve(context.Context, order.Tx, order.Order) error { return s.err }

type failMarkOrdered struct {
	order.UnitOfWork
	err error
}

func (u failMarkOrdered) WithinTx(ctx context.Context, fn func(context.Context, order.Tx) error) error {
	return u.UnitOfWork.WithinTx(ctx, func(ctx context.Context, tx order.Tx) error {
		return fn(ctx, markFails{Tx: tx, err: u.err})
	})
}

type markFails struct {
	order.Tx
	err error
}

func (t markFails) MarkCheckoutOrdered(context.Context, uuid.UUID, time.Time) error { return t.err }

func TestMaterializeRollbackAgainstPostgres(t *testing.T) {
	boom := errors.New("boom")
	cases := map[string]func(m *order.Materializer){
		"stock reservation": func(m *order.Materializer) { m.Stock = failingStock{err: boom} },
		"checkout update":   func(m *order.Materializer) { m.UoW = failMarkOrdered{UnitOfWork: m.UoW, err: boom} },
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			st, pool, svc := openTestStore(t)
			ctx := context.Background()
			co := startDemoCheckout(t, svc)

			broken := *svc.Materializer
			breakIt(&broken)
			_, err := broken.Materialize(ctx, co.ID, pricing.Zero("TOM"))
			require.ErrorIs(t, err, boom)

			_, err = st.OrderByCheckout(ctx, co.ID)
			require.ErrorIs(t, err, order.ErrNotFound)
			require.Zero(t, count(t, pool, `SELECT count(*) FROM order_lines`))
			require.Zero(t, count(t, pool, `SELECT count(*) FROM coupon_redemptions`))
			require.Zero(t, count(t, pool, `SELECT used_count FROM coupons WHERE id = $1`, seed.CouponWelcome10))
			require.Zero(t, count(t, pool, `SELECT count(*) FROM domain_events WHERE topic = $1`, events.TopicOrderCreated))
			got, err := st.Checkout(ctx, co.ID)
			require.NoError(t, err)
			require.Equal(t, checkout.StatusStarted, got.Status)

			res, err := svc.Materializer.Materialize(ctx, co.ID, pricing.Zero("TOM"))
			require.NoError(t, err)
			require.True(t, res.Created)
			require.Equal(t, 1, count(t, pool, `SELECT count(*) FROM coupon_redemptions`))
		})
	}
}

func TestConcurrentAddItemAgainstPostgres(t *testing.T) {
	_, _, svc := openTestStore(t)
	ctx := context.Background()
	anon := uuid.New()
	c, err := svc.Carts.EnsureCart(ctx, nil, &anon)
	require.NoError(t, err)

	const adds = 8
	var wg sync.WaitGroup
	errs := make([]error, adds)
	for i := range adds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Carts.AddItem(ctx, c.ID, seed.VariantSupremo250, 1)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	got, err := svc.Carts.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	require.Equal(t, adds, got.Lines[0].Qty)
}
