package services

import (
	"context"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Money                = domain.Money
	Client               = domain.Client
	ClientTier           = domain.ClientTier
	Product              = domain.Product
	Promotion            = domain.Promotion
	LineItem             = domain.LineItem
	PriceQuote           = domain.PriceQuote
	Order                = domain.Order
	OrderLineItem        = domain.OrderLineItem
	OrderStatus          = domain.OrderStatus
	OrderEvent           = domain.OrderEvent
	StockReservation     = domain.StockReservation
	StockReservationLine = domain.StockReservationLine
)

// PricingEngine turns priced line items into a quote. Implementations hold no mutable
// state and may be called concurrently.
type PricingEngine interface {
	Price(ctx context.Context, items []LineItem, tier ClientTier, promotion *Promotion) (PriceQuote, error)
}

// PromotionService resolves promotion codes and ids against the promotion store.
type PromotionService interface {
	ValidateCode(ctx context.Context, code string) (PromotionValidation, error)
	ResolveByID(ctx context.Context, promotionID string) (Promotion, error)
	ListActive(ctx context.Context) ([]Promotion, error)
}

// InventoryService centralizes stock availability, reservation, commit, and release workflows.
type InventoryService interface {
	Available(ctx context.Context, productID string) (int, error)
	ReserveStocks(ctx context.Context, cmd InventoryReserveCommand) (StockReservation, error)
	CommitReservation(ctx context.Context, cmd InventoryCommitCommand) (StockReservation, error)
	ReleaseReservation(ctx context.Context, cmd InventoryReleaseCommand) (StockReservation, error)
	Reservation(ctx context.Context, orderID string) (StockReservation, error)
}

// OrderService is the order lifecycle: quoting, creation, and the PENDING to terminal transitions.
type OrderService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (QuoteResult, error)
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Confirm(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Cancel(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Reject(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Transition(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderItemInput is a product selection before prices are attached.
type OrderItemInput struct {
	ProductID string
	Quantity  int
}

// QuoteCommand asks for a price preview without reserving anything.
type QuoteCommand struct {
	ClientID      string
	Items         []OrderItemInput
	PromotionCode string
}

// QuoteResult carries the priced lines, the quote and the outcome of the promotion check.
// A rejected promotion does not fail the quote; it is reported in Promotion.
type QuoteResult struct {
	Client    Client
	Items     []LineItem
	Quote     PriceQuote
	Promotion PromotionValidation
}

// CreateOrderCommand places an order. PromotionID takes precedence over PromotionCode.
type CreateOrderCommand struct {
	ClientID      string
	Items         []OrderItemInput
	PromotionID   string
	PromotionCode string
	ActorID       string
}

// OrderAction names a lifecycle transition.
type OrderAction string

const (
	OrderActionConfirm OrderAction = "confirm"
	OrderActionCancel  OrderAction = "cancel"
	OrderActionReject  OrderAction = "reject"
)

// OrderActionCommand targets a single order for confirm, cancel or reject.
type OrderActionCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

// OrderTransitionCommand dispatches Action to the matching lifecycle operation.
type OrderTransitionCommand struct {
	OrderID string
	Action  OrderAction
	Reason  string
	ActorID string
}

// OrderListFilter narrows order listings.
type OrderListFilter = repositories.OrderListFilter

// InventoryLine is one product quantity to hold for an order.
type InventoryLine struct {
	ProductID string
	Quantity  int
}

// InventoryReserveCommand holds stock for every line of an order, all or nothing.
type InventoryReserveCommand struct {
	OrderID string
	Lines   []InventoryLine
	Reason  string
}

// InventoryCommitCommand turns an order's reservation into a permanent deduction.
type InventoryCommitCommand struct {
	OrderID string
	ActorID string
}

// InventoryReleaseCommand returns an order's reserved stock to availability.
type InventoryReleaseCommand struct {
	OrderID string
	Reason  string
	ActorID string
}
