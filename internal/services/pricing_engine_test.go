package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderdesk/internal/domain"
)

func newTestPricingEngine(t *testing.T, logger func(context.Context, string, map[string]any)) PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{Logger: logger})
	if err != nil {
		t.Fatalf("new pricing engine: %v", err)
	}
	return engine
}

func singleLine(price string) []LineItem {
	return []LineItem{{ProductID: "p-1", ProductName: "Desk", UnitPrice: domain.MustParseMoney(price), Quantity: 1}}
}

func percentPromotion(code string, pct int64) *Promotion {
	return &Promotion{ID: "promo-" + code, Code: code, DiscountPercent: decimal.NewFromInt(pct)}
}

func TestPricingEngineScenarios(t *testing.T) {
	engine := newTestPricingEngine(t, nil)

	cases := []struct {
		name      string
		items     []LineItem
		tier      ClientTier
		promotion *Promotion
		discount  string
		taxable   string
		tax       string
		total     string
	}{
		{
			name:     "standard tier has no discount",
			items:    singleLine("500.00"),
			tier:     domain.ClientTierStandard,
			discount: "0.00", taxable: "500.00", tax: "100.00", total: "600.00",
		},
		{
			name:     "silver at threshold",
			items:    singleLine("500.00"),
			tier:     domain.ClientTierSilver,
			discount: "25.00", taxable: "475.00", tax: "95.00", total: "570.00",
		},
		{
			name:      "gold with promotion adds both discounts",
			items:     singleLine("800.00"),
			tier:      domain.ClientTierGold,
			promotion: percentPromotion("SAVE10", 10),
			discount:  "160.00", taxable: "640.00", tax: "128.00", total: "768.00",
		},
		{
			name:     "silver below threshold",
			items:    singleLine("499.99"),
			tier:     domain.ClientTierSilver,
			discount: "0.00", taxable: "499.99", tax: "100.00", total: "599.99",
		},
		{
			name:     "gold rule does not apply to silver client",
			items:    singleLine("900.00"),
			tier:     domain.ClientTierSilver,
			discount: "45.00", taxable: "855.00", tax: "171.00", total: "1026.00",
		},
		{
			name:     "platinum at threshold",
			items:    singleLine("1200.00"),
			tier:     domain.ClientTierPlatinum,
			discount: "180.00", taxable: "1020.00", tax: "204.00", total: "1224.00",
		},
		{
			name:     "tier discount rounds half up",
			items:    singleLine("500.10"),
			tier:     domain.ClientTierSilver,
			discount: "25.01", taxable: "475.09", tax: "95.02", total: "570.11",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quote, err := engine.Price(context.Background(), tc.items, tc.tier, tc.promotion)
			if err != nil {
				t.Fatalf("price: %v", err)
			}
			if got := quote.Discount.String(); got != tc.discount {
				t.Errorf("discount = %s, want %s", got, tc.discount)
			}
			if got := quote.TaxableBase.String(); got != tc.taxable {
				t.Errorf("taxable = %s, want %s", got, tc.taxable)
			}
			if got := quote.Tax.String(); got != tc.tax {
				t.Errorf("tax = %s, want %s", got, tc.tax)
			}
			if got := quote.Total.String(); got != tc.total {
				t.Errorf("total = %s, want %s", got, tc.total)
			}
			if quote.Total != quote.TaxableBase+quote.Tax {
				t.Errorf("total %s != taxable %s + tax %s", quote.Total, quote.TaxableBase, quote.Tax)
			}
		})
	}
}

func TestPricingEngineClampsDiscountToSubtotal(t *testing.T) {
	var events []string
	engine := newTestPricingEngine(t, func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	})

	quote, err := engine.Price(context.Background(), singleLine("1200.00"), domain.ClientTierPlatinum, percentPromotion("BIG", 95))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.TierDiscount.String() != "180.00" || quote.PromotionDiscount.String() != "1140.00" {
		t.Fatalf("unexpected component discounts: tier=%s promo=%s", quote.TierDiscount, quote.PromotionDiscount)
	}
	if !quote.DiscountClamped || quote.Discount != quote.Subtotal {
		t.Fatalf("expected discount clamped to subtotal, got %s clamped=%v", quote.Discount, quote.DiscountClamped)
	}
	if quote.TaxableBase != 0 || quote.Tax != 0 || quote.Total != 0 {
		t.Fatalf("expected zero totals, got taxable=%s tax=%s total=%s", quote.TaxableBase, quote.Tax, quote.Total)
	}
	if len(events) != 1 || events[0] != "pricing_discount_clamped" {
		t.Fatalf("expected clamp to be logged, got %v", events)
	}
}

func TestPricingEngineIsOrderIndependent(t *testing.T) {
	engine := newTestPricingEngine(t, nil)
	items := []LineItem{
		{ProductID: "p-1", UnitPrice: domain.MustParseMoney("333.33"), Quantity: 1},
		{ProductID: "p-2", UnitPrice: domain.MustParseMoney("12.34"), Quantity: 3},
		{ProductID: "p-3", UnitPrice: domain.MustParseMoney("250.00"), Quantity: 2},
	}
	reversed := []LineItem{items[2], items[1], items[0]}

	first, err := engine.Price(context.Background(), items, domain.ClientTierGold, percentPromotion("SAVE10", 10))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	second, err := engine.Price(context.Background(), reversed, domain.ClientTierGold, percentPromotion("SAVE10", 10))
	if err != nil {
		t.Fatalf("price reversed: %v", err)
	}
	if first.Total != second.Total || first.Discount != second.Discount {
		t.Fatalf("line order changed the quote: %+v vs %+v", first, second)
	}
	if first.Subtotal.String() != "870.35" {
		t.Fatalf("unexpected subtotal %s", first.Subtotal)
	}
}

func TestPricingEngineRejectsInvalidInput(t *testing.T) {
	engine := newTestPricingEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.Price(ctx, nil, domain.ClientTierStandard, nil); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}
	zero := []LineItem{{ProductID: "p-1", UnitPrice: 100, Quantity: 0}}
	if _, err := engine.Price(ctx, zero, domain.ClientTierStandard, nil); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity error, got %v", err)
	}
	if _, err := engine.Price(ctx, singleLine("10.00"), domain.ClientTierStandard, percentPromotion("BAD", 150)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for out of range promotion, got %v", err)
	}
}

func TestNewPricingEngineValidatesRules(t *testing.T) {
	_, err := NewPricingEngine(PricingEngineDeps{TierRules: []TierDiscountRule{
		{Tier: domain.ClientTierGold, Threshold: 100, Percent: decimal.NewFromInt(5)},
		{Tier: domain.ClientTierGold, Threshold: 200, Percent: decimal.NewFromInt(10)},
	}})
	if err == nil {
		t.Fatalf("expected duplicate tier rule to be rejected")
	}
	if _, err := NewPricingEngine(PricingEngineDeps{TaxRatePercent: decimal.NewFromInt(-1)}); err == nil {
		t.Fatalf("expected negative tax rate to be rejected")
	}
}

func TestNormaliseOrderItemsMergesDuplicates(t *testing.T) {
	items, err := normaliseOrderItems([]OrderItemInput{
		{ProductID: "p-2", Quantity: 1},
		{ProductID: " p-1 ", Quantity: 2},
		{ProductID: "p-2", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("normalise: %v", err)
	}
	if len(items) != 2 || items[0].ProductID != "p-2" || items[0].Quantity != 4 || items[1].ProductID != "p-1" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if _, err := normaliseOrderItems([]OrderItemInput{{ProductID: "p-1", Quantity: -1}}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
}
