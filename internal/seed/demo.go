// Package seed holds the demo catalog and promotions loaded by the seeder
// command and by tests.
package seed

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/roastery-checkout/internal/catalog"
	"github.com/noah-isme/roastery-checkout/internal/pricing"
	"github.com/noah-isme/roastery-checkout/internal/promotion"
)

// Fixed identifiers so repeated seeding is idempotent.
var (
	CategorySpecialty = uuid.MustParse("7f3c2a10-0000-4000-8000-000000000001")

	ProductYirgacheffe = uuid.MustParse("7f3c2a10-0000-4000-8000-000000000101")
	ProductSupremo     = uuid.MustParse("7f3c2a10-0000-4000-8000-000000000102")

	VariantYirgacheffe250 = uuid.MustParse("7f3c2a10-0000-4000-8000-000000000201")
	VariantYirgacheffe500 = uuid.MustParse("7f3c2a10-0000-4000-8000-000000000202")
	VariantYirgacheffe1kg = uuid.MustParse("7f3c2a10-0000-4000-8000-000000000203")
	VariantSupremo250     = uuid.MustParse("7f3c2a10-0000-4000-8000-000000000204")

	CouponWelcome10 = uuid.MustParse("7f3c2a10-0000-4000-8000-000000000301")
	GlobalSale      = uuid.MustParse("7f3c2a10-0000-4000-8000-000000000401")
)

// Catalog is a set of rows to load into a store.
type Catalog struct {
	Variants        []catalog.Variant
	PriceWindows    []catalog.PriceWindow
	Coupons         []promotion.Coupon
	GlobalDiscounts []promotion.GlobalDiscount
}

// Demo returns the demo roastery catalog: two Ethiopian Yirgacheffe variants
// at 320,000 and 590,000 TOM, the WELCOME10 coupon and a 10% global sale.
func Demo(now time.Time) Catalog {
	specialty := CategorySpecialty
	maxQty := 10
	since := now.Add(-24 * time.Hour)
	toman := func(v int64) pricing.Money { return pricing.New(v, pricing.DefaultCurrency) }
	compare := func(v int64) *pricing.Money { m := toman(v); return &m }

	variants := []catalog.Variant{
		{ID: VariantYirgacheffe250, ProductID: ProductYirgacheffe, ProductName: "Ethiopia Yirgacheffe", CategoryID: &specialty, SKU: "YR-250-WHOLE", WeightGrams: 250, Grind: catalog.GrindWhole, Active: true, MinQtyPerOrder: 1, MaxQtyPerOrder: &maxQty},
		{ID: VariantYirgacheffe500, ProductID: ProductYirgacheffe, ProductName: "Ethiopia Yirgacheffe", CategoryID: &specialty, SKU: "YR-500-MED", WeightGrams: 500, Grind: catalog.GrindMedium, Active: true, MinQtyPerOrder: 1, MaxQtyPerOrder: &maxQty},
		{ID: VariantYirgacheffe1kg, ProductID: ProductYirgacheffe, ProductName: "Ethiopia Yirgacheffe", CategoryID: &specialty, SKU: "YR-1000-FINE", WeightGrams: 1000, Grind: catalog.GrindFine, Active: true, MinQtyPerOrder: 1},
		{ID: VariantSupremo250, ProductID: ProductSupremo, ProductName: "Colombia Supremo", CategoryID: &specialty, SKU: "CO-250-MED", WeightGrams: 250, Grind: catalog.GrindMedium, Active: true, MinQtyPerOrder: 1},
	}
	windows := []catalog.PriceWindow{
		{ID: uuid.MustParse("7f3c2a10-0000-4000-8000-000000000501"), Seq: 1, VariantID: VariantYirgacheffe250, Price: toman(320_000), CompareAt: compare(360_000), StartsAt: &since, CreatedAt: since},
		{ID: uuid.MustParse("7f3c2a10-0000-4000-8000-000000000502"), Seq: 2, VariantID: VariantYirgacheffe500, Price: toman(590_000), CompareAt: compare(640_000), StartsAt: &since, CreatedAt: since},
		{ID: uuid.MustParse("7f3c2a10-0000-4000-8000-000000000503"), Seq: 3, VariantID: VariantYirgacheffe1kg, Price: toman(1_140_000), CompareAt: compare(1_220_000), StartsAt: &since, CreatedAt: since},
		{ID: uuid.MustParse("7f3c2a10-0000-4000-8000-000000000504"), Seq: 4, VariantID: VariantSupremo250, Price: toman(300_000), CompareAt: compare(330_000), StartsAt: &since, CreatedAt: since},
	}
	return Catalog{
		Variants:     variants,
		PriceWindows: windows,
		Coupons: []promotion.Coupon{
			{ID: CouponWelcome10, Code: "WELCOME10", Kind: promotion.KindPercent, Value: 10, Active: true},
		},
		GlobalDiscounts: []promotion.GlobalDiscount{
			{ID: GlobalSale, PercentOff: 10, Active: true, Note: "Demo Nowruz sale", CreatedAt: since},
		},
	}
}
