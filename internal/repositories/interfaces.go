package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orderdesk/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Inventory() InventoryRepository
	Clients() ClientRepository
	Promotions() PromotionRepository
	Orders() OrderRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository exposes product pricing. Stock lives in InventoryRepository.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, productIDs []string) ([]domain.Product, error)
}

// InventoryRepository owns stock counters and the per-order reservations that move them.
// Reserve must check and decrement availability for every line atomically: either all
// lines are reserved or none are.
type InventoryRepository interface {
	GetStock(ctx context.Context, productID string) (domain.InventoryStock, error)
	Reserve(ctx context.Context, req InventoryReserveRequest) (InventoryReservationResult, error)
	Commit(ctx context.Context, req InventoryCommitRequest) (InventoryReservationResult, error)
	Release(ctx context.Context, req InventoryReleaseRequest) (InventoryReservationResult, error)
	GetReservation(ctx context.Context, orderID string) (domain.StockReservation, error)
}

// InventoryReserveRequest encapsulates reservation creation metadata for the repository.
type InventoryReserveRequest struct {
	Reservation domain.StockReservation
	Now         time.Time
}

// InventoryCommitRequest finalises a reservation and decrements on-hand counts.
type InventoryCommitRequest struct {
	OrderID string
	Now     time.Time
}

// InventoryReleaseRequest restores reserved stock back to availability.
type InventoryReleaseRequest struct {
	OrderID string
	Reason  string
	Now     time.Time
}

// InventoryReservationResult returns the saved reservation and updated stock projections.
type InventoryReservationResult struct {
	Reservation domain.StockReservation
	Stocks      map[string]domain.InventoryStock
}

// ClientRepository resolves clients and their tiers.
type ClientRepository interface {
	FindByID(ctx context.Context, clientID string) (domain.Client, error)
}

// PromotionRepository is a read-only view over promotions managed elsewhere.
type PromotionRepository interface {
	FindByID(ctx context.Context, promotionID string) (domain.Promotion, error)
	FindByCode(ctx context.Context, code string) (domain.Promotion, error)
	ListActive(ctx context.Context, now time.Time) ([]domain.Promotion, error)
}

// OrderRepository persists orders and provides admin query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings. Results are ordered by creation time, newest first.
type OrderListFilter struct {
	Status     []domain.OrderStatus
	ClientID   string
	ClientName string
	Pagination domain.Pagination
}

// HealthRepository reports dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
