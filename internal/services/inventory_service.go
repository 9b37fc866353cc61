package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

const (
	eventInventoryReserve = "inventory.reserve"
	eventInventoryCommit  = "inventory.commit"
	eventInventoryRelease = "inventory.release"
)

var (
	// ErrInventoryReservationNotFound indicates no reservation is held for the order.
	ErrInventoryReservationNotFound = fmt.Errorf("%w: stock reservation", ErrNotFound)
	// ErrInventoryInvalidState indicates the reservation was already committed or released.
	ErrInventoryInvalidState = fmt.Errorf("%w: stock reservation state", ErrConflict)
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *inventoryService) Available(ctx context.Context, productID string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	stock, err := s.repo.GetStock(ctx, productID)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	return stock.Available(), nil
}

func (s *inventoryService) ReserveStocks(ctx context.Context, cmd InventoryReserveCommand) (StockReservation, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return StockReservation{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	lines, err := normaliseInventoryLines(cmd.Lines)
	if err != nil {
		return StockReservation{}, err
	}

	now := s.clock()
	reservation := StockReservation{
		OrderID:   orderID,
		Status:    domain.ReservationStatusReserved,
		Lines:     lines,
		Reason:    strings.TrimSpace(cmd.Reason),
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := s.repo.Reserve(ctx, repositories.InventoryReserveRequest{Reservation: reservation, Now: now})
	if err != nil {
		return StockReservation{}, s.mapRepositoryError(err)
	}

	saved := result.Reservation
	if saved.OrderID == "" {
		saved = reservation
	}
	s.logStockMovement(ctx, eventInventoryReserve, saved, result.Stocks, func(line StockReservationLine) stockDelta {
		return stockDelta{Reserved: line.Quantity}
	})
	return saved, nil
}

func (s *inventoryService) CommitReservation(ctx context.Context, cmd InventoryCommitCommand) (StockReservation, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return StockReservation{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	result, err := s.repo.Commit(ctx, repositories.InventoryCommitRequest{OrderID: orderID, Now: s.clock()})
	if err != nil {
		return StockReservation{}, s.mapRepositoryError(err)
	}

	s.logStockMovement(ctx, eventInventoryCommit, result.Reservation, result.Stocks, func(line StockReservationLine) stockDelta {
		return stockDelta{OnHand: -line.Quantity, Reserved: -line.Quantity}
	})
	return result.Reservation, nil
}

func (s *inventoryService) ReleaseReservation(ctx context.Context, cmd InventoryReleaseCommand) (StockReservation, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return StockReservation{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	result, err := s.repo.Release(ctx, repositories.InventoryReleaseRequest{
		OrderID: orderID,
		Reason:  strings.TrimSpace(cmd.Reason),
		Now:     s.clock(),
	})
	if err != nil {
		return StockReservation{}, s.mapRepositoryError(err)
	}

	s.logStockMovement(ctx, eventInventoryRelease, result.Reservation, result.Stocks, func(line StockReservationLine) stockDelta {
		return stockDelta{Reserved: -line.Quantity}
	})
	return result.Reservation, nil
}

func (s *inventoryService) Reservation(ctx context.Context, orderID string) (StockReservation, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return StockReservation{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	reservation, err := s.repo.GetReservation(ctx, orderID)
	if err != nil {
		return StockReservation{}, s.mapRepositoryError(err)
	}
	return reservation, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{ProductID: invErr.ProductID, Requested: invErr.Requested, Available: invErr.Available}
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, invErr.Message)
		case repositories.InventoryErrorReservationNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryReservationNotFound, invErr.Message)
		case repositories.InventoryErrorReservationExists, repositories.InventoryErrorInvalidReservationState:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidState, invErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: inventory: %v", ErrUnavailable, err)
		}
	}
	return err
}

func (s *inventoryService) logStockMovement(ctx context.Context, event string, reservation StockReservation, stocks map[string]domain.InventoryStock, delta func(StockReservationLine) stockDelta) {
	for _, line := range reservation.Lines {
		d := delta(line)
		fields := map[string]any{
			"orderId":       reservation.OrderID,
			"productId":     line.ProductID,
			"deltaOnHand":   d.OnHand,
			"deltaReserved": d.Reserved,
		}
		if stock, ok := stocks[line.ProductID]; ok {
			fields["onHand"] = stock.OnHand
			fields["reserved"] = stock.Reserved
		}
		s.logger(ctx, event, fields)
	}
}

// normaliseInventoryLines aggregates lines per product and sorts them so concurrent
// reservations lock stock records in a consistent order.
func normaliseInventoryLines(lines []InventoryLine) ([]StockReservationLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrValidation)
	}
	aggregated := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrValidation)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidQuantity, productID)
		}
		aggregated[productID] += line.Quantity
	}

	result := make([]StockReservationLine, 0, len(aggregated))
	for productID, quantity := range aggregated {
		result = append(result, StockReservationLine{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}

type stockDelta struct {
	OnHand   int
	Reserved int
}
