package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
	"github.com/noah-isme/roastery-checkout/internal/seed"
)

const variantColumns = `id, product_id, product_name, category_id, sku, weight_grams, grind, active, min_qty_per_order, max_qty_per_order`

func scanVariant(row rowScanner) (catalog.Variant, error) {
	var (
		v     catalog.Variant
		grind string
	)
	if err := row.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.CategoryID, &v.SKU, &v.WeightGrams, &grind, &v.Active, &v.MinQtyPerOrder, &v.MaxQtyPerOrder); err != nil {
		return catalog.Variant{}, err
	}
	v.Grind = catalog.Grind(grind)
	return v, nil
}

// Variant implements catalog.VariantStore.
func (s *Store) Variant(ctx context.Context, id uuid.UUID) (catalog.Variant, error) {
	v, err := scanVariant(s.db.QueryRow(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = $1`, id))
	if notFound(err) {
		return catalog.Variant{}, catalog.ErrVariantNotFound
	}
	return v, err
}

// Variants implements catalog.VariantStore. Unknown ids are omitted.
func (s *Store) Variants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Variant, error) {
	out := make(map[uuid.UUID]catalog.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

// PriceWindows implements catalog.PriceStore.
func (s *Store) PriceWindows(ctx context.Context, variantID uuid.UUID) ([]catalog.PriceWindow, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, seq, variant_id, amount, currency, compare_at, starts_at, ends_at, created_at
FROM price_windows
WHERE variant_id = $1
ORDER BY created_at DESC, seq DESC`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.PriceWindow
	for rows.Next() {
		var (
			w         catalog.PriceWindow
			amount    int64
			currency  string
			compareAt *int64
		)
		if err := rows.Scan(&w.ID, &w.Seq, &w.VariantID, &amount, &currency, &compareAt, &w.StartsAt, &w.EndsAt, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Price = pricing.New(amount, currency)
		if compareAt != nil {
			c := pricing.New(*compareAt, currency)
			w.CompareAt = &c
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CouponByCode implements promotion.Store.
func (s *Store) CouponByCode(ctx context.Context, code string) (promotion.Coupon, error) {
	var (
		c    promotion.Coupon
		kind string
	)
	err := s.db.QueryRow(ctx, `
SELECT id, code, kind, value, min_order_total, max_uses_total, max_uses_per_user, used_count,
       starts_at, ends_at, active, allowed_category_ids, allowed_product_ids
FROM coupons WHERE code = $1`, promotion.NormaliseCode(code)).Scan(
		&c.ID, &c.Code, &kind, &c.Value, &c.MinOrderTotal, &c.MaxUsesTotal, &c.MaxUsesPerUser, &c.UsedCount,
		&c.StartsAt, &c.EndsAt, &c.Active, &c.AllowedCategoryIDs, &c.AllowedProductIDs,
	)
	if notFound(err) {
		return promotion.Coupon{}, promotion.ErrCouponNotFound
	}
	if err != nil {
		return promotion.Coupon{}, err
	}
	c.Kind = promotion.Kind(kind)
	return c, nil
}

// GlobalDiscounts implements promotion.Store.
func (s *Store) GlobalDiscounts(ctx context.Context) ([]promotion.GlobalDiscount, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, percent_off, active, starts_at, ends_at, note, created_at
FROM global_discounts
WHERE active
ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []promotion.GlobalDiscount
	for rows.Next() {
		var g promotion.GlobalDiscount
		if err := rows.Scan(&g.ID, &g.PercentOff, &g.Active, &g.StartsAt, &g.EndsAt, &g.Note, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// CountRedemptionsByUser implements promotion.Store.
func (s *Store) CountRedemptionsByUser(ctx context.Context, couponID, userID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`, couponID, userID).Scan(&n)
	return n, err
}

// Load upserts a seed catalog. Rows are keyed by id so loading twice is a no-op.
func (s *Store) Load(ctx context.Context, c seed.Catalog) error {
	return s.inTx(ctx, func(db DBTX) error {
		for _, v := range c.Variants {
			if _, err := db.Exec(ctx, `
INSERT INTO variants (id, product_id, product_name, category_id, sku, weight_grams, grind, active, min_qty_per_order, max_qty_per_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    product_name = EXCLUDED.product_name,
    category_id = EXCLUDED.category_id,
    sku = EXCLUDED.sku,
    weight_grams = EXCLUDED.weight_grams,
    grind = EXCLUDED.grind,
    active = EXCLUDED.active,
    min_qty_per_order = EXCLUDED.min_qty_per_order,
    max_qty_per_order = EXCLUDED.max_qty_per_order`,
				v.ID, v.ProductID, v.ProductName, v.CategoryID, v.SKU, v.WeightGrams, string(v.Grind), v.Active, v.MinQty(), v.MaxQtyPerOrder,
			); err != nil {
				return fmt.Errorf("upsert variant %s: %w", v.SKU, err)
			}
		}
		for _, w := range c.PriceWindows {
			var compareAt *int64
			if w.CompareAt != nil {
				compareAt = &w.CompareAt.Amount
			}
			createdAt := w.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			if _, err := db.Exec(ctx, `
INSERT INTO price_windows (id, variant_id, amount, currency, compare_at, starts_at, ends_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`,
				w.ID, w.VariantID, w.Price.Amount, w.Price.Currency, compareAt, w.StartsAt, w.EndsAt, createdAt,
			); err != nil {
				return fmt.Errorf("insert price window: %w", err)
			}
		}
		for _, cp := range c.Coupons {
			if _, err := db.Exec(ctx, `
INSERT INTO coupons (id, code, kind, value, min_order_total, max_uses_total, max_uses_per_user, starts_at, ends_at, active, allowed_category_ids, allowed_product_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    kind = EXCLUDED.kind,
    value = EXCLUDED.value,
    min_order_total = EXCLUDED.min_order_total,
    max_uses_total = EXCLUDED.max_uses_total,
    max_uses_per_user = EXCLUDED.max_uses_per_user,
    starts_at = EXCLUDED.starts_at,
    ends_at = EXCLUDED.ends_at,
    active = EXCLUDED.active`,
				cp.ID, promotion.NormaliseCode(cp.Code), string(cp.Kind), cp.Value, cp.MinOrderTotal, cp.MaxUsesTotal, cp.MaxUsesPerUser,
				cp.StartsAt, cp.EndsAt, cp.Active, nonNilIDs(cp.AllowedCategoryIDs), nonNilIDs(cp.AllowedProductIDs),
			); err != nil {
				return fmt.Errorf("upsert coupon %s: %w", cp.Code, err)
			}
		}
		for _, g := range c.GlobalDiscounts {
			if _, err := db.Exec(ctx, `
INSERT INTO global_discounts (id, percent_off, active, starts_at, ends_at, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    percent_off = EXCLUDED.percent_off,
    active = EXCLUDED.active,
    starts_at = EXCLUDED.starts_at,
    ends_at = EXCLUDED.ends_at,
    note = EXCLUDED.note`,
				g.ID, g.PercentOff, g.Active, g.StartsAt, g.EndsAt, g.Note, g.CreatedAt,
			); err != nil {
				return fmt.Errorf("upsert global discount: %w", err)
			}
		}
		return nil
	})
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

// inTx runs fn in a transaction on the pool.
func (s *Store) inTx(ctx context.Context, fn func(DBTX) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
