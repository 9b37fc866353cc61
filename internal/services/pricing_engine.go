package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderdesk/internal/domain"
)

var (
	defaultTaxRatePercent = decimal.NewFromInt(20)
	hundredPercent        = decimal.NewFromInt(100)
)

// TierDiscountRule grants Percent of the subtotal to clients of Tier once the pre-discount
// subtotal reaches Threshold (inclusive).
type TierDiscountRule struct {
	Tier      ClientTier
	Threshold Money
	Percent   decimal.Decimal
}

// DefaultTierDiscountRules returns the loyalty schedule: SILVER 5% from 500.00,
// GOLD 10% from 800.00, PLATINUM 15% from 1200.00. STANDARD has no rule.
func DefaultTierDiscountRules() []TierDiscountRule {
	return []TierDiscountRule{
		{Tier: domain.ClientTierSilver, Threshold: 50000, Percent: decimal.NewFromInt(5)},
		{Tier: domain.ClientTierGold, Threshold: 80000, Percent: decimal.NewFromInt(10)},
		{Tier: domain.ClientTierPlatinum, Threshold: 120000, Percent: decimal.NewFromInt(15)},
	}
}

// PricingEngineDeps configures the pricing engine. Zero values select the defaults.
type PricingEngineDeps struct {
	TaxRatePercent decimal.Decimal
	TierRules      []TierDiscountRule
	Logger         func(context.Context, string, map[string]any)
}

type pricingEngine struct {
	taxRate   decimal.Decimal
	tierRules map[ClientTier]TierDiscountRule
	logger    func(context.Context, string, map[string]any)
}

// NewPricingEngine validates the rate table and returns a stateless engine safe for
// concurrent use.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	taxRate := deps.TaxRatePercent
	if taxRate.IsZero() {
		taxRate = defaultTaxRatePercent
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(hundredPercent) {
		return nil, fmt.Errorf("pricing engine: tax rate %s%% out of range", taxRate.String())
	}

	rules := deps.TierRules
	if len(rules) == 0 {
		rules = DefaultTierDiscountRules()
	}
	byTier := make(map[ClientTier]TierDiscountRule, len(rules))
	for _, rule := range rules {
		if _, dup := byTier[rule.Tier]; dup {
			return nil, fmt.Errorf("pricing engine: duplicate rule for tier %s", rule.Tier)
		}
		if rule.Percent.IsNegative() || rule.Percent.GreaterThan(hundredPercent) {
			return nil, fmt.Errorf("pricing engine: tier %s percent %s out of range", rule.Tier, rule.Percent.String())
		}
		if rule.Threshold < 0 {
			return nil, fmt.Errorf("pricing engine: tier %s threshold cannot be negative", rule.Tier)
		}
		byTier[rule.Tier] = rule
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pricingEngine{taxRate: taxRate, tierRules: byTier, logger: logger}, nil
}

// Price computes the quote in a fixed order: subtotal, tier discount, promotion discount,
// clamp, tax, total. Both discounts are taken from the original subtotal and added.
func (e *pricingEngine) Price(ctx context.Context, items []LineItem, tier ClientTier, promotion *Promotion) (PriceQuote, error) {
	if len(items) == 0 {
		return PriceQuote{}, ErrEmptyCart
	}

	subtotal, err := subtotalOf(items)
	if err != nil {
		return PriceQuote{}, err
	}

	quote := PriceQuote{
		Subtotal:                 subtotal,
		TierDiscountPercent:      decimal.Zero,
		PromotionDiscountPercent: decimal.Zero,
		TaxRatePercent:           e.taxRate,
	}

	if rule, ok := e.tierRules[tier]; ok && subtotal >= rule.Threshold {
		quote.TierDiscountPercent = rule.Percent
		quote.TierDiscount = subtotal.Percent(rule.Percent)
	}

	if promotion != nil {
		pct := promotion.DiscountPercent
		if pct.IsNegative() || pct.GreaterThan(hundredPercent) {
			return PriceQuote{}, fmt.Errorf("%w: promotion %s discount %s%% out of range", ErrValidation, promotion.Code, pct.String())
		}
		quote.PromotionDiscountPercent = pct
		quote.PromotionDiscount = subtotal.Percent(pct)
	}

	// Compared against the remaining headroom rather than summed first so the check
	// cannot overflow.
	discount := quote.TierDiscount
	if quote.PromotionDiscount > subtotal-quote.TierDiscount {
		e.logger(ctx, "pricing_discount_clamped", map[string]any{
			"subtotal":          subtotal.String(),
			"tierDiscount":      quote.TierDiscount.String(),
			"promotionDiscount": quote.PromotionDiscount.String(),
		})
		discount = subtotal
		quote.DiscountClamped = true
	} else {
		discount += quote.PromotionDiscount
	}
	quote.Discount = discount
	quote.TaxableBase = subtotal - discount

	quote.Tax = quote.TaxableBase.Percent(e.taxRate)
	if quote.Tax > math.MaxInt64-quote.TaxableBase {
		return PriceQuote{}, fmt.Errorf("%w: order total overflow", ErrValidation)
	}
	quote.Total = quote.TaxableBase + quote.Tax

	return quote, nil
}

func subtotalOf(items []LineItem) (Money, error) {
	var subtotal Money
	for _, item := range items {
		if item.Quantity < 1 {
			return 0, fmt.Errorf("%w: product %s quantity %d must be at least 1", ErrInvalidQuantity, item.ProductID, item.Quantity)
		}
		if item.UnitPrice < 0 {
			return 0, fmt.Errorf("%w: product %s unit price cannot be negative", ErrValidation, item.ProductID)
		}
		quantity := Money(item.Quantity)
		if item.UnitPrice > 0 && item.UnitPrice > math.MaxInt64/quantity {
			return 0, fmt.Errorf("%w: product %s line total overflow", ErrValidation, item.ProductID)
		}
		line := item.UnitPrice * quantity
		if subtotal > math.MaxInt64-line {
			return 0, fmt.Errorf("%w: subtotal overflow", ErrValidation)
		}
		subtotal += line
	}
	return subtotal, nil
}

// normaliseOrderItems merges duplicate product lines, keeping the position of the first
// occurrence so the order snapshot follows the submitted sequence.
func normaliseOrderItems(items []OrderItemInput) ([]OrderItemInput, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	index := make(map[string]int, len(items))
	result := make([]OrderItemInput, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrValidation)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: product %s quantity %d must be at least 1", ErrInvalidQuantity, productID, item.Quantity)
		}
		pos, seen := index[productID]
		if !seen {
			index[productID] = len(result)
			result = append(result, OrderItemInput{ProductID: productID, Quantity: item.Quantity})
			continue
		}
		if result[pos].Quantity > math.MaxInt32-item.Quantity {
			return nil, fmt.Errorf("%w: product %s quantity overflow", ErrInvalidQuantity, productID)
		}
		result[pos].Quantity += item.Quantity
	}
	return result, nil
}
