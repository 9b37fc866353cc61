package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/repositories"
	"github.com/hanko-field/orderdesk/internal/repositories/memory"
)

var orderTestNow = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type failingInsertOrders struct {
	repositories.OrderRepository
	err error
}

func (f failingInsertOrders) Insert(context.Context, domain.Order) error {
	return f.err
}

type unavailableError struct{}

func (unavailableError) Error() string       { return "backend unavailable" }
func (unavailableError) IsNotFound() bool    { return false }
func (unavailableError) IsConflict() bool    { return false }
func (unavailableError) IsUnavailable() bool { return true }

// flakyUpdateOrders fails the next `failures` updates before delegating.
type flakyUpdateOrders struct {
	repositories.OrderRepository
	failures *atomic.Int32
}

func (f flakyUpdateOrders) Update(ctx context.Context, order domain.Order) error {
	if f.failures.Add(-1) >= 0 {
		return unavailableError{}
	}
	return f.OrderRepository.Update(ctx, order)
}

func withFlakyUpdates(n int32) orderFixtureOption {
	return func(deps *OrderServiceDeps) {
		failures := &atomic.Int32{}
		failures.Store(n)
		deps.Orders = flakyUpdateOrders{OrderRepository: deps.Orders, failures: failures}
	}
}

type orderFixture struct {
	store  *memory.Store
	svc    OrderService
	events *captureOrderEvents
	logs   *captureLogger
}

type orderFixtureOption func(*OrderServiceDeps)

func newOrderFixture(t *testing.T, opts ...orderFixtureOption) orderFixture {
	t.Helper()
	store := memory.NewStore()

	products := []struct {
		id     string
		price  string
		onHand int
	}{
		{"desk", "400.00", 10},
		{"chair", "100.00", 4},
		{"lamp", "25.00", 1},
	}
	for _, p := range products {
		if err := store.PutProduct(domain.Product{ID: p.id, Name: p.id, UnitPrice: domain.MustParseMoney(p.price)}, p.onHand); err != nil {
			t.Fatalf("put product: %v", err)
		}
	}
	clients := []domain.Client{
		{ID: "c-std", Name: "Standard Client", Tier: domain.ClientTierStandard},
		{ID: "c-silver", Name: "Silver Client", Tier: domain.ClientTierSilver},
		{ID: "c-gold", Name: "Gold Client", Tier: domain.ClientTierGold},
	}
	for _, c := range clients {
		if err := store.PutClient(c); err != nil {
			t.Fatalf("put client: %v", err)
		}
	}
	promos := []domain.Promotion{
		{ID: "promo-save10", Code: "SAVE10", DiscountPercent: decimal.NewFromInt(10), ExpiresAt: orderTestNow.Add(24 * time.Hour)},
		{ID: "promo-old", Code: "OLD", DiscountPercent: decimal.NewFromInt(10), ExpiresAt: orderTestNow.Add(-24 * time.Hour)},
	}
	for _, p := range promos {
		if err := store.PutPromotion(p); err != nil {
			t.Fatalf("put promotion: %v", err)
		}
	}

	clock := func() time.Time { return orderTestNow }
	logs := &captureLogger{}
	var mu sync.Mutex
	logger := func(ctx context.Context, event string, fields map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		logs.log(ctx, event, fields)
	}

	promotions, err := NewPromotionService(PromotionServiceDeps{Promotions: store.Promotions(), Clock: clock})
	if err != nil {
		t.Fatalf("new promotion service: %v", err)
	}
	inventory, err := NewInventoryService(InventoryServiceDeps{Inventory: store.Inventory(), Clock: clock, Logger: logger})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	pricing, err := NewPricingEngine(PricingEngineDeps{Logger: logger})
	if err != nil {
		t.Fatalf("new pricing engine: %v", err)
	}

	var seq atomic.Int64
	events := &captureOrderEvents{}
	deps := OrderServiceDeps{
		Orders:     store.Orders(),
		Catalog:    store.Catalog(),
		Clients:    store.Clients(),
		Promotions: promotions,
		Inventory:  inventory,
		Pricing:    pricing,
		Events:     events,
		Clock:      clock,
		IDGenerator: func() string {
			return fmt.Sprintf("%04d", seq.Add(1))
		},
		Logger: logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return orderFixture{store: store, svc: svc, events: events, logs: logs}
}

func (f orderFixture) stock(t *testing.T, productID string) domain.InventoryStock {
	t.Helper()
	stock, err := f.store.Inventory().GetStock(context.Background(), productID)
	if err != nil {
		t.Fatalf("get stock %s: %v", productID, err)
	}
	return stock
}

func TestOrderServiceQuoteAppliesTierAndPromotion(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.svc.Quote(context.Background(), QuoteCommand{
		ClientID:      "c-gold",
		Items:         []OrderItemInput{{ProductID: "desk", Quantity: 2}},
		PromotionCode: "SAVE10",
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !result.Promotion.Applied() {
		t.Fatalf("expected promotion to apply: %+v", result.Promotion)
	}
	if result.Quote.Discount.String() != "160.00" || result.Quote.Total.String() != "768.00" {
		t.Fatalf("unexpected quote: discount=%s total=%s", result.Quote.Discount, result.Quote.Total)
	}
	if f.stock(t, "desk").Reserved != 0 {
		t.Fatalf("quote must not reserve stock")
	}
}

func TestOrderServiceQuoteReportsExpiredPromotion(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.svc.Quote(context.Background(), QuoteCommand{
		ClientID:      "c-gold",
		Items:         []OrderItemInput{{ProductID: "desk", Quantity: 2}},
		PromotionCode: "OLD",
	})
	if err != nil {
		t.Fatalf("quote with expired promotion must still succeed: %v", err)
	}
	if result.Promotion.Status != PromotionStatusRejected || !errors.Is(result.Promotion.Err, ErrPromotionInvalidOrExpired) {
		t.Fatalf("expected expired promotion to be reported, got %+v", result.Promotion)
	}
	if result.Quote.PromotionDiscount != 0 {
		t.Fatalf("expected no promotion discount, got %s", result.Quote.PromotionDiscount)
	}
	if result.Quote.TierDiscount.String() != "80.00" || result.Quote.Total.String() != "864.00" {
		t.Fatalf("expected tier discount only, got tier=%s total=%s", result.Quote.TierDiscount, result.Quote.Total)
	}
}

func TestOrderServiceQuoteValidation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  QuoteCommand
		want error
	}{
		{name: "empty cart", cmd: QuoteCommand{ClientID: "c-std"}, want: ErrEmptyCart},
		{name: "zero quantity", cmd: QuoteCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "desk", Quantity: 0}}}, want: ErrInvalidQuantity},
		{name: "above available", cmd: QuoteCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "lamp", Quantity: 2}}}, want: ErrInvalidQuantity},
		{name: "unknown client", cmd: QuoteCommand{ClientID: "nobody", Items: []OrderItemInput{{ProductID: "desk", Quantity: 1}}}, want: ErrClientNotFound},
		{name: "unknown product", cmd: QuoteCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "sofa", Quantity: 1}}}, want: ErrProductNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Quote(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderServiceCreateReservesStock(t *testing.T) {
	f := newOrderFixture(t)
	order, err := f.svc.Create(context.Background(), CreateOrderCommand{
		ClientID:      "c-silver",
		Items:         []OrderItemInput{{ProductID: "desk", Quantity: 1}, {ProductID: "chair", Quantity: 1}},
		PromotionCode: "SAVE10",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if order.ID != "ord_0001" || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.Quote.Total.String() != "510.00" || order.AmountDue != order.Quote.Total {
		t.Fatalf("unexpected totals: total=%s due=%s", order.Quote.Total, order.AmountDue)
	}
	if order.PromotionCode == nil || *order.PromotionCode != "SAVE10" {
		t.Fatalf("expected promotion snapshot, got %v", order.PromotionCode)
	}
	if len(order.Items) != 2 || order.Items[0].ProductID != "desk" || order.Items[0].Total.String() != "400.00" {
		t.Fatalf("unexpected line snapshot: %+v", order.Items)
	}
	if desk := f.stock(t, "desk"); desk.Reserved != 1 || desk.OnHand != 10 {
		t.Fatalf("unexpected desk stock: %+v", desk)
	}

	stored, err := f.svc.GetOrder(context.Background(), order.ID)
	if err != nil || stored.Status != domain.OrderStatusPending {
		t.Fatalf("get order: %+v %v", stored, err)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != orderEventCreated {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestOrderServiceCreateInsufficientStockReservesNothing(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.svc.Create(context.Background(), CreateOrderCommand{
		ClientID: "c-std",
		Items: []OrderItemInput{
			{ProductID: "desk", Quantity: 2},
			{ProductID: "lamp", Quantity: 3},
		},
	})
	if !errors.Is(err, ErrInsufficientStock) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected insufficient stock conflict, got %v", err)
	}
	var shortfall *InsufficientStockError
	if !errors.As(err, &shortfall) || shortfall.ProductID != "lamp" || shortfall.Requested != 3 || shortfall.Available != 1 {
		t.Fatalf("unexpected shortfall: %+v", shortfall)
	}

	for _, id := range []string{"desk", "lamp"} {
		if stock := f.stock(t, id); stock.Reserved != 0 {
			t.Fatalf("expected no reservation on %s, got %+v", id, stock)
		}
	}
	page, err := f.svc.ListOrders(context.Background(), OrderListFilter{})
	if err != nil || len(page.Items) != 0 {
		t.Fatalf("expected no stored orders, got %d %v", len(page.Items), err)
	}
	if f.logs.count("order.create.insufficient_stock") != 1 {
		t.Fatalf("expected shortfall to be logged")
	}
}

func TestOrderServiceCreateRejectsExpiredPromotion(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.svc.Create(context.Background(), CreateOrderCommand{
		ClientID:      "c-std",
		Items:         []OrderItemInput{{ProductID: "desk", Quantity: 1}},
		PromotionCode: "OLD",
	})
	if !errors.Is(err, ErrPromotionInvalidOrExpired) {
		t.Fatalf("expected promotion error, got %v", err)
	}
	if f.stock(t, "desk").Reserved != 0 {
		t.Fatalf("expected no reservation after promotion failure")
	}

	_, err = f.svc.Create(context.Background(), CreateOrderCommand{
		ClientID:    "c-std",
		Items:       []OrderItemInput{{ProductID: "desk", Quantity: 1}},
		PromotionID: "promo-old",
	})
	if !errors.Is(err, ErrPromotionInvalidOrExpired) {
		t.Fatalf("expected promotion error by id, got %v", err)
	}
}

func TestOrderServiceCreateReleasesStockWhenInsertFails(t *testing.T) {
	insertErr := errors.New("disk full")
	f := newOrderFixture(t, func(deps *OrderServiceDeps) {
		deps.Orders = failingInsertOrders{OrderRepository: deps.Orders, err: insertErr}
	})

	_, err := f.svc.Create(context.Background(), CreateOrderCommand{
		ClientID: "c-std",
		Items:    []OrderItemInput{{ProductID: "chair", Quantity: 2}},
	})
	if !errors.Is(err, insertErr) {
		t.Fatalf("expected insert error, got %v", err)
	}
	if chair := f.stock(t, "chair"); chair.Reserved != 0 || chair.Available() != 4 {
		t.Fatalf("expected reservation to be rolled back, got %+v", chair)
	}
	reservation, err := f.store.Inventory().GetReservation(context.Background(), "ord_0001")
	if err != nil || reservation.Status != domain.ReservationStatusReleased {
		t.Fatalf("expected released reservation, got %+v %v", reservation, err)
	}
}

func TestOrderServiceConfirmCommitsStock(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, CreateOrderCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "chair", Quantity: 3}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	confirmed, err := f.svc.Confirm(ctx, OrderActionCommand{OrderID: order.ID, ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed || confirmed.ConfirmedAt == nil || confirmed.AmountDue != order.AmountDue {
		t.Fatalf("unexpected confirmed order: %+v", confirmed)
	}
	if chair := f.stock(t, "chair"); chair.OnHand != 1 || chair.Reserved != 0 {
		t.Fatalf("expected stock deducted, got %+v", chair)
	}

	for _, action := range []OrderAction{OrderActionConfirm, OrderActionCancel, OrderActionReject} {
		_, err := f.svc.Transition(ctx, OrderTransitionCommand{OrderID: order.ID, Action: action})
		if !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s after confirm: expected illegal transition, got %v", action, err)
		}
	}
	if chair := f.stock(t, "chair"); chair.OnHand != 1 || chair.Reserved != 0 {
		t.Fatalf("terminal actions must not move stock, got %+v", chair)
	}
}

func TestOrderServiceCancelRestoresStock(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	before := f.stock(t, "desk")

	order, err := f.svc.Create(ctx, CreateOrderCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "desk", Quantity: 4}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	canceled, err := f.svc.Cancel(ctx, OrderActionCommand{OrderID: order.ID, Reason: "<b>changed</b>   my mind"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.OrderStatusCanceled || canceled.AmountDue != 0 || canceled.CanceledAt == nil {
		t.Fatalf("unexpected canceled order: %+v", canceled)
	}
	if canceled.StatusReason != "changed my mind" {
		t.Fatalf("expected sanitised reason, got %q", canceled.StatusReason)
	}
	after := f.stock(t, "desk")
	if after.OnHand != before.OnHand || after.Reserved != before.Reserved {
		t.Fatalf("stock not conserved: before=%+v after=%+v", before, after)
	}

	if _, err := f.svc.Cancel(ctx, OrderActionCommand{OrderID: order.ID}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, OrderActionCommand{OrderID: order.ID}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected confirm after cancel to fail, got %v", err)
	}
	if got := f.events.types(); len(got) != 2 || got[1] != orderEventStatusChanged {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestOrderServiceRejectReleasesStock(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, CreateOrderCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "lamp", Quantity: 1}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lamp := f.stock(t, "lamp"); lamp.Available() != 0 {
		t.Fatalf("expected lamp fully reserved, got %+v", lamp)
	}

	rejected, err := f.svc.Reject(ctx, OrderActionCommand{OrderID: order.ID, Reason: "fraud check"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.OrderStatusRejected || rejected.RejectedAt == nil || rejected.AmountDue != 0 {
		t.Fatalf("unexpected rejected order: %+v", rejected)
	}
	if lamp := f.stock(t, "lamp"); lamp.Available() != 1 {
		t.Fatalf("expected lamp available again, got %+v", lamp)
	}

	for _, action := range []OrderAction{OrderActionConfirm, OrderActionCancel, OrderActionReject} {
		_, err := f.svc.Transition(ctx, OrderTransitionCommand{OrderID: order.ID, Action: action})
		if !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s after reject: expected illegal transition, got %v", action, err)
		}
	}
	if lamp := f.stock(t, "lamp"); lamp.OnHand != 1 || lamp.Reserved != 0 {
		t.Fatalf("terminal actions must not move stock, got %+v", lamp)
	}
	final, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil || final.Status != domain.OrderStatusRejected {
		t.Fatalf("expected order to stay rejected, got %+v %v", final, err)
	}
}

func TestOrderServiceRejectAfterCancelFails(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, CreateOrderCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "chair", Quantity: 1}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, OrderActionCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := f.svc.Reject(ctx, OrderActionCommand{OrderID: order.ID, Reason: "late fraud flag"}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected reject after cancel to fail, got %v", err)
	}
	final, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil || final.Status != domain.OrderStatusCanceled || final.RejectedAt != nil {
		t.Fatalf("expected order to stay canceled, got %+v %v", final, err)
	}
	if chair := f.stock(t, "chair"); chair.OnHand != 4 || chair.Reserved != 0 {
		t.Fatalf("unexpected stock %+v", chair)
	}
}

func TestOrderServiceConfirmResumesAfterFailedSave(t *testing.T) {
	f := newOrderFixture(t, withFlakyUpdates(1))
	ctx := context.Background()
	order, err := f.svc.Create(ctx, CreateOrderCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "chair", Quantity: 2}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.Confirm(ctx, OrderActionCommand{OrderID: order.ID}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable on first confirm, got %v", err)
	}
	if chair := f.stock(t, "chair"); chair.OnHand != 2 || chair.Reserved != 0 {
		t.Fatalf("expected stock committed before the failed save, got %+v", chair)
	}
	pending, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil || pending.Status != domain.OrderStatusPending {
		t.Fatalf("expected order still pending, got %+v %v", pending, err)
	}

	// The stock is committed, so only confirm can finish this order.
	if _, err := f.svc.Cancel(ctx, OrderActionCommand{OrderID: order.ID}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected cancel of committed stock to fail, got %v", err)
	}

	confirmed, err := f.svc.Confirm(ctx, OrderActionCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("retry confirm: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("unexpected confirmed order: %+v", confirmed)
	}
	if chair := f.stock(t, "chair"); chair.OnHand != 2 || chair.Reserved != 0 {
		t.Fatalf("retry must not commit stock twice, got %+v", chair)
	}
	if n := f.logs.count("order.transition.resumed"); n != 1 {
		t.Fatalf("expected one resumed transition log, got %d", n)
	}
	if got := f.events.types(); len(got) != 2 || got[1] != orderEventStatusChanged {
		t.Fatalf("expected a single status event, got %v", got)
	}
}

func TestOrderServiceRejectResumesAfterFailedSave(t *testing.T) {
	f := newOrderFixture(t, withFlakyUpdates(1))
	ctx := context.Background()
	order, err := f.svc.Create(ctx, CreateOrderCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "lamp", Quantity: 1}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.Reject(ctx, OrderActionCommand{OrderID: order.ID}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable on first reject, got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, OrderActionCommand{OrderID: order.ID}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected confirm of released stock to fail, got %v", err)
	}

	rejected, err := f.svc.Reject(ctx, OrderActionCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("retry reject: %v", err)
	}
	if rejected.Status != domain.OrderStatusRejected || rejected.AmountDue != 0 {
		t.Fatalf("unexpected rejected order: %+v", rejected)
	}
	if lamp := f.stock(t, "lamp"); lamp.OnHand != 1 || lamp.Reserved != 0 {
		t.Fatalf("retry must not release stock twice, got %+v", lamp)
	}
}

func TestOrderServiceConcurrentTransitionsApplyOnce(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, CreateOrderCommand{ClientID: "c-std", Items: []OrderItemInput{{ProductID: "chair", Quantity: 2}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	actions := []OrderAction{OrderActionConfirm, OrderActionCancel, OrderActionReject}
	var wg sync.WaitGroup
	var succeeded, illegal atomic.Int32
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(action OrderAction) {
			defer wg.Done()
			_, err := f.svc.Transition(ctx, OrderTransitionCommand{OrderID: order.ID, Action: action})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrIllegalTransition):
				illegal.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(actions[i%len(actions)])
	}
	wg.Wait()

	if succeeded.Load() != 1 || illegal.Load() != 29 {
		t.Fatalf("expected exactly one transition, got %d ok / %d illegal", succeeded.Load(), illegal.Load())
	}

	final, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	chair := f.stock(t, "chair")
	switch final.Status {
	case domain.OrderStatusConfirmed:
		if chair.OnHand != 2 || chair.Reserved != 0 {
			t.Fatalf("confirmed order left inconsistent stock: %+v", chair)
		}
	case domain.OrderStatusCanceled, domain.OrderStatusRejected:
		if chair.OnHand != 4 || chair.Reserved != 0 {
			t.Fatalf("released order left inconsistent stock: %+v", chair)
		}
	default:
		t.Fatalf("order still %s", final.Status)
	}
}

func TestOrderServiceTransitionErrors(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, OrderTransitionCommand{OrderID: "ord_x", Action: "ship"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown action, got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, OrderActionCommand{OrderID: "ord_missing"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, OrderActionCommand{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing id, got %v", err)
	}
}

func TestOrderServiceListOrders(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	for _, client := range []string{"c-std", "c-gold", "c-std"} {
		if _, err := f.svc.Create(ctx, CreateOrderCommand{ClientID: client, Items: []OrderItemInput{{ProductID: "desk", Quantity: 1}}}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := f.svc.Cancel(ctx, OrderActionCommand{OrderID: "ord_0001"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	page, err := f.svc.ListOrders(ctx, OrderListFilter{Status: []OrderStatus{domain.OrderStatusPending}, ClientID: "c-std"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_0003" {
		t.Fatalf("unexpected page: %+v", page.Items)
	}

	page, err = f.svc.ListOrders(ctx, OrderListFilter{ClientName: "gold"})
	if err != nil || len(page.Items) != 1 || page.Items[0].ClientID != "c-gold" {
		t.Fatalf("unexpected name filter result: %+v %v", page.Items, err)
	}

	if _, err := f.svc.ListOrders(ctx, OrderListFilter{Status: []OrderStatus{"SHIPPED"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	if _, err := f.svc.ListOrders(ctx, OrderListFilter{Pagination: domain.Pagination{PageToken: "!!"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad token, got %v", err)
	}
}

func TestNewOrderServiceRequiresDependencies(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected missing dependencies to be rejected")
	}
}
