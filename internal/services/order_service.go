package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/platform/pagination"
	"github.com/hanko-field/orderdesk/internal/platform/textutil"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"

	defaultOrderPageSize = pagination.DefaultPageSize
	maxOrderPageSize     = pagination.DefaultMaxPageSize
)

// Every transition leaves PENDING; terminal states have no entry.
var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusConfirmed, domain.OrderStatusCanceled, domain.OrderStatusRejected},
}

var actionTargets = map[OrderAction]OrderStatus{
	OrderActionConfirm: domain.OrderStatusConfirmed,
	OrderActionCancel:  domain.OrderStatusCanceled,
	OrderActionReject:  domain.OrderStatusRejected,
}

var reservationTargets = map[OrderAction]domain.ReservationStatus{
	OrderActionConfirm: domain.ReservationStatusCommitted,
	OrderActionCancel:  domain.ReservationStatusReleased,
	OrderActionReject:  domain.ReservationStatusReleased,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogRepository
	Clients     repositories.ClientRepository
	Promotions  PromotionService
	Inventory   InventoryService
	Pricing     PricingEngine
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Tracer      trace.Tracer
	Meter       metric.Meter
}

type orderService struct {
	orders     repositories.OrderRepository
	catalog    repositories.CatalogRepository
	clients    repositories.ClientRepository
	promotions PromotionService
	inventory  InventoryService
	pricing    PricingEngine
	events     OrderEventPublisher
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	tracer     trace.Tracer
	metrics    orderInstruments
	locks      *keyedLocker
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog repository is required")
	case deps.Clients == nil:
		return nil, errors.New("order service: client repository is required")
	case deps.Promotions == nil:
		return nil, errors.New("order service: promotion service is required")
	case deps.Inventory == nil:
		return nil, errors.New("order service: inventory service is required")
	case deps.Pricing == nil:
		return nil, errors.New("order service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		clients:    deps.Clients,
		promotions: deps.Promotions,
		inventory:  deps.Inventory,
		pricing:    deps.Pricing,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		tracer:  defaultTracer(deps.Tracer),
		metrics: newOrderInstruments(deps.Meter, logger),
		locks:   newKeyedLocker(),
	}, nil
}

func (s *orderService) Quote(ctx context.Context, cmd QuoteCommand) (QuoteResult, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Quote")
	defer span.End()

	inputs, err := normaliseOrderItems(cmd.Items)
	if err != nil {
		return QuoteResult{}, recordSpanError(span, err)
	}
	client, err := s.loadClient(ctx, cmd.ClientID)
	if err != nil {
		return QuoteResult{}, recordSpanError(span, err)
	}
	lines, err := s.priceLines(ctx, inputs)
	if err != nil {
		return QuoteResult{}, recordSpanError(span, err)
	}
	if err := s.checkQuoteAvailability(ctx, lines); err != nil {
		return QuoteResult{}, recordSpanError(span, err)
	}

	validation, err := s.promotions.ValidateCode(ctx, cmd.PromotionCode)
	if err != nil {
		return QuoteResult{}, recordSpanError(span, err)
	}
	var promotion *Promotion
	if validation.Applied() {
		promotion = validation.Promotion
	}

	quote, err := s.pricing.Price(ctx, lines, client.Tier, promotion)
	if err != nil {
		return QuoteResult{}, recordSpanError(span, err)
	}

	span.SetAttributes(
		attribute.String("client.id", client.ID),
		attribute.String("promotion.status", string(validation.Status)),
		attribute.Int64("quote.total_minor", int64(quote.Total)),
	)
	return QuoteResult{Client: client, Items: lines, Quote: quote, Promotion: validation}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Create")
	defer span.End()

	inputs, err := normaliseOrderItems(cmd.Items)
	if err != nil {
		return Order{}, recordSpanError(span, err)
	}
	client, err := s.loadClient(ctx, cmd.ClientID)
	if err != nil {
		return Order{}, recordSpanError(span, err)
	}
	lines, err := s.priceLines(ctx, inputs)
	if err != nil {
		return Order{}, recordSpanError(span, err)
	}
	promotion, err := s.resolvePromotion(ctx, cmd)
	if err != nil {
		return Order{}, recordSpanError(span, err)
	}
	quote, err := s.pricing.Price(ctx, lines, client.Tier, promotion)
	if err != nil {
		return Order{}, recordSpanError(span, err)
	}

	now := s.now()
	order := Order{
		ID:         s.nextOrderID(),
		ClientID:   client.ID,
		ClientName: client.Name,
		ClientTier: client.Tier,
		Items:      buildOrderLineItems(lines),
		Quote:      quote,
		Status:     domain.OrderStatusPending,
		AmountDue:  quote.Total,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if promotion != nil {
		order.PromotionID = optionalString(promotion.ID)
		order.PromotionCode = optionalString(promotion.Code)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	reserveLines := make([]InventoryLine, 0, len(inputs))
	for _, input := range inputs {
		reserveLines = append(reserveLines, InventoryLine{ProductID: input.ProductID, Quantity: input.Quantity})
	}
	if _, err := s.inventory.ReserveStocks(ctx, InventoryReserveCommand{
		OrderID: order.ID,
		Lines:   reserveLines,
		Reason:  "order.create",
	}); err != nil {
		var shortfall *InsufficientStockError
		if errors.As(err, &shortfall) {
			s.metrics.recordStockConflict(ctx)
			s.logger(ctx, "order.create.insufficient_stock", map[string]any{
				"clientId":  client.ID,
				"productId": shortfall.ProductID,
				"requested": shortfall.Requested,
				"available": shortfall.Available,
			})
		}
		return Order{}, recordSpanError(span, err)
	}

	if err := s.mapRepositoryError(s.orders.Insert(ctx, order)); err != nil {
		if _, releaseErr := s.inventory.ReleaseReservation(ctx, InventoryReleaseCommand{
			OrderID: order.ID,
			Reason:  "order.create.rollback",
			ActorID: strings.TrimSpace(cmd.ActorID),
		}); releaseErr != nil {
			s.logger(ctx, "order.create.rollback_failed", map[string]any{
				"order": order.ID,
				"error": releaseErr.Error(),
			})
		}
		return Order{}, recordSpanError(span, err)
	}

	s.metrics.recordCreated(ctx)
	s.publishEvent(ctx, OrderEvent{
		Type:       orderEventCreated,
		OrderID:    order.ID,
		ClientID:   order.ClientID,
		Status:     order.Status,
		Total:      order.Quote.Total,
		OccurredAt: now,
	})

	return order, nil
}

func (s *orderService) Confirm(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd, OrderActionConfirm)
}

func (s *orderService) Cancel(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd, OrderActionCancel)
}

func (s *orderService) Reject(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd, OrderActionReject)
}

func (s *orderService) Transition(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	action := OrderAction(strings.ToLower(strings.TrimSpace(string(cmd.Action))))
	if _, ok := actionTargets[action]; !ok {
		return Order{}, fmt.Errorf("%w: unknown order action %q", ErrValidation, cmd.Action)
	}
	return s.transition(ctx, OrderActionCommand{OrderID: cmd.OrderID, Reason: cmd.Reason, ActorID: cmd.ActorID}, action)
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.ClientID = strings.TrimSpace(filter.ClientID)
	filter.ClientName = strings.TrimSpace(filter.ClientName)
	for _, status := range filter.Status {
		if _, ok := domain.ParseOrderStatus(string(status)); !ok {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown order status %q", ErrValidation, status)
		}
	}
	switch size := filter.Pagination.PageSize; {
	case size <= 0:
		filter.Pagination.PageSize = defaultOrderPageSize
	case size > maxOrderPageSize:
		filter.Pagination.PageSize = maxOrderPageSize
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// transition runs one lifecycle action under the per-order lock. The stock effect is
// applied before the status is persisted; the reservation's own state machine rejects a
// conflicting commit or release, which keeps instances that do not share this lock consistent.
func (s *orderService) transition(ctx context.Context, cmd OrderActionCommand, action OrderAction) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	ctx, span := s.tracer.Start(ctx, "OrderService."+string(action), trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if orderID == "" {
		return Order{}, recordSpanError(span, fmt.Errorf("%w: order id is required", ErrValidation))
	}
	target := actionTargets[action]

	unlock, err := s.locks.Lock(ctx, orderID)
	if err != nil {
		return Order{}, recordSpanError(span, err)
	}
	defer unlock()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, recordSpanError(span, s.mapRepositoryError(err))
	}
	if !canTransition(order.Status, target) {
		return Order{}, recordSpanError(span, fmt.Errorf("%w: order %s is %s, cannot %s", ErrIllegalTransition, order.ID, order.Status, action))
	}

	actor := strings.TrimSpace(cmd.ActorID)
	reason := textutil.SanitizePlainText(cmd.Reason, 0)

	resumed, err := s.settleStock(ctx, order, action, actor)
	if err != nil {
		return Order{}, recordSpanError(span, err)
	}

	now := s.now()
	previous := order.Status
	applyStatus(&order, target, reason, now)

	if err := s.mapRepositoryError(s.orders.Update(ctx, order)); err != nil {
		// The stock effect stays applied. A retry of the same action finds the reservation
		// already settled and only persists the status.
		s.logger(ctx, "order.transition.persist_failed", map[string]any{
			"order":  order.ID,
			"action": string(action),
			"error":  err.Error(),
		})
		return Order{}, recordSpanError(span, err)
	}
	if resumed {
		s.logger(ctx, "order.transition.resumed", map[string]any{
			"order":  order.ID,
			"action": string(action),
		})
	}

	s.metrics.recordTransition(ctx, action)
	s.logger(ctx, "order.transition", map[string]any{
		"order":    order.ID,
		"action":   string(action),
		"previous": string(previous),
		"status":   string(order.Status),
		"actorId":  actor,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		ClientID:       order.ClientID,
		Status:         order.Status,
		PreviousStatus: previous,
		Total:          order.Quote.Total,
		Reason:         reason,
		OccurredAt:     now,
	})

	return order, nil
}

// settleStock commits or releases the order's reservation. When the reservation is
// already in the state the action would leave it in, an earlier attempt settled the stock
// but failed to persist the order, so the transition resumes instead of failing.
func (s *orderService) settleStock(ctx context.Context, order Order, action OrderAction, actor string) (bool, error) {
	var err error
	switch action {
	case OrderActionConfirm:
		_, err = s.inventory.CommitReservation(ctx, InventoryCommitCommand{OrderID: order.ID, ActorID: actor})
	default:
		_, err = s.inventory.ReleaseReservation(ctx, InventoryReleaseCommand{OrderID: order.ID, Reason: string(action), ActorID: actor})
	}
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrInventoryInvalidState) {
		return false, err
	}

	reservation, lookupErr := s.inventory.Reservation(ctx, order.ID)
	if lookupErr != nil {
		return false, lookupErr
	}
	if reservation.Status == reservationTargets[action] {
		return true, nil
	}
	return false, fmt.Errorf("%w: order %s stock already %s, cannot %s", ErrIllegalTransition, order.ID, reservation.Status, action)
}

func (s *orderService) loadClient(ctx context.Context, clientID string) (Client, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return Client{}, fmt.Errorf("%w: client id is required", ErrValidation)
	}
	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		if isRepoNotFound(err) {
			return Client{}, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		return Client{}, s.mapRepositoryError(err)
	}
	if client.Tier == "" {
		client.Tier = domain.ClientTierStandard
	}
	return client, nil
}

func (s *orderService) priceLines(ctx context.Context, inputs []OrderItemInput) ([]LineItem, error) {
	lines := make([]LineItem, 0, len(inputs))
	for _, input := range inputs {
		product, err := s.catalog.GetProduct(ctx, input.ProductID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrProductNotFound, input.ProductID)
			}
			return nil, s.mapRepositoryError(err)
		}
		lines = append(lines, LineItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   product.UnitPrice,
			Quantity:    input.Quantity,
		})
	}
	return lines, nil
}

// checkQuoteAvailability enforces quantity <= available before a quote is finalised.
// Order creation does not rely on it; the reservation performs its own atomic check.
func (s *orderService) checkQuoteAvailability(ctx context.Context, lines []LineItem) error {
	for _, line := range lines {
		available, err := s.inventory.Available(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if line.Quantity > available {
			return fmt.Errorf("%w: product %s requested %d, available %d", ErrInvalidQuantity, line.ProductID, line.Quantity, available)
		}
	}
	return nil
}

func (s *orderService) resolvePromotion(ctx context.Context, cmd CreateOrderCommand) (*Promotion, error) {
	if id := strings.TrimSpace(cmd.PromotionID); id != "" {
		promotion, err := s.promotions.ResolveByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return &promotion, nil
	}

	validation, err := s.promotions.ValidateCode(ctx, cmd.PromotionCode)
	if err != nil {
		return nil, err
	}
	switch validation.Status {
	case PromotionStatusApplied:
		return validation.Promotion, nil
	case PromotionStatusRejected:
		return nil, validation.Err
	default:
		return nil, nil
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: order: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: order: %v", ErrUnavailable, err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.Status),
		})
	}
}

func applyStatus(order *Order, target OrderStatus, reason string, now time.Time) {
	order.Status = target
	order.UpdatedAt = now
	if reason != "" {
		order.StatusReason = reason
	}
	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusCanceled:
		order.CanceledAt = &now
		order.AmountDue = 0
	case domain.OrderStatusRejected:
		order.RejectedAt = &now
		order.AmountDue = 0
	}
}

func buildOrderLineItems(lines []LineItem) []OrderLineItem {
	items := make([]OrderLineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, OrderLineItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			Total:       line.UnitPrice * Money(line.Quantity),
		})
	}
	return items
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func canTransition(current, target OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

func recordSpanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
