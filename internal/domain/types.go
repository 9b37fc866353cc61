package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// CursorPage packages list results with an encoded next token. TotalCount counts every
// item matching the filters across all pages, not just this one.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
	TotalCount    int
}

// ClientTier is the loyalty tier assigned to a client by the client registry.
type ClientTier string

const (
	ClientTierStandard ClientTier = "STANDARD"
	ClientTierSilver   ClientTier = "SILVER"
	ClientTierGold     ClientTier = "GOLD"
	ClientTierPlatinum ClientTier = "PLATINUM"
)

// ParseClientTier normalises the supplied tier name. Unknown values report false.
func ParseClientTier(value string) (ClientTier, bool) {
	switch tier := ClientTier(strings.ToUpper(strings.TrimSpace(value))); tier {
	case ClientTierStandard, ClientTierSilver, ClientTierGold, ClientTierPlatinum:
		return tier, true
	case "":
		return ClientTierStandard, true
	default:
		return "", false
	}
}

// Client is the read-only view of a customer consumed by pricing and ordering.
type Client struct {
	ID        string
	Name      string
	Email     string
	Tier      ClientTier
	CreatedAt time.Time
}

// Product is a catalog entry with its current list price.
type Product struct {
	ID        string
	Name      string
	UnitPrice Money
	UpdatedAt time.Time
}

// InventoryStock tracks on-hand and reserved units for a product.
type InventoryStock struct {
	ProductID string
	OnHand    int
	Reserved  int
	UpdatedAt time.Time
}

// Available returns the units that can still be reserved.
func (s InventoryStock) Available() int {
	available := s.OnHand - s.Reserved
	if available < 0 {
		return 0
	}
	return available
}

// ProductAvailability joins catalog pricing with current stock.
type ProductAvailability struct {
	Product   Product
	Available int
}

// Promotion is a percentage discount redeemable by code until it expires.
type Promotion struct {
	ID              string
	Code            string
	DiscountPercent decimal.Decimal
	ExpiresAt       time.Time
	Description     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActiveAt reports whether the promotion can be redeemed at the supplied instant.
// Expiry is exclusive: a promotion expiring at now is already inactive.
func (p Promotion) ActiveAt(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// LineItem is a priced product selection submitted for quoting.
type LineItem struct {
	ProductID   string
	ProductName string
	UnitPrice   Money
	Quantity    int
}

// PriceQuote is the full monetary breakdown for a set of line items.
type PriceQuote struct {
	Subtotal                 Money
	TierDiscount             Money
	TierDiscountPercent      decimal.Decimal
	PromotionDiscount        Money
	PromotionDiscountPercent decimal.Decimal
	Discount                 Money
	DiscountClamped          bool
	TaxableBase              Money
	TaxRatePercent           decimal.Decimal
	Tax                      Money
	Total                    Money
}

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state; stock is reserved but not deducted.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed indicates reserved stock was permanently deducted.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusCanceled indicates the client withdrew the order and stock was released.
	OrderStatusCanceled OrderStatus = "CANCELED"
	// OrderStatusRejected indicates an administrator refused the order and stock was released.
	OrderStatusRejected OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// ParseOrderStatus accepts upper or lower case names, including the "CANCELLED" spelling.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	switch normalized := strings.ToUpper(strings.TrimSpace(value)); normalized {
	case string(OrderStatusPending):
		return OrderStatusPending, true
	case string(OrderStatusConfirmed):
		return OrderStatusConfirmed, true
	case string(OrderStatusCanceled), "CANCELLED":
		return OrderStatusCanceled, true
	case string(OrderStatusRejected):
		return OrderStatusRejected, true
	default:
		return "", false
	}
}

// OrderLineItem is the snapshot of a line item frozen at order creation.
type OrderLineItem struct {
	ProductID   string
	ProductName string
	UnitPrice   Money
	Quantity    int
	Total       Money
}

// Order is the persisted aggregate owned by the order lifecycle.
type Order struct {
	ID            string
	ClientID      string
	ClientName    string
	ClientTier    ClientTier
	Items         []OrderLineItem
	PromotionID   *string
	PromotionCode *string
	Quote         PriceQuote
	Status        OrderStatus
	StatusReason  string
	AmountDue     Money
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
	CanceledAt    *time.Time
	RejectedAt    *time.Time
}

// ReservationStatus tracks the stock reservation held for an order.
type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "reserved"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
)

// StockReservationLine is the quantity held for a single product.
type StockReservationLine struct {
	ProductID string
	Quantity  int
}

// StockReservation is keyed by order id so each stock movement is attributable.
type StockReservation struct {
	OrderID     string
	Status      ReservationStatus
	Lines       []StockReservationLine
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CommittedAt *time.Time
	ReleasedAt  *time.Time
}

// OrderEvent is published whenever an order is created or changes status.
type OrderEvent struct {
	Type           string
	OrderID        string
	ClientID       string
	Status         OrderStatus
	PreviousStatus OrderStatus
	Total          Money
	Reason         string
	OccurredAt     time.Time
}
