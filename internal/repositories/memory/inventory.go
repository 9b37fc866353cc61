package memory

import (
	"context"
	"fmt"
	"time"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

type catalogRepository struct{ s *Store }

func (r catalogRepository) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, notFound("catalog.get", "product %s", productID)
	}
	return product, nil
}

func (r catalogRepository) ListProducts(_ context.Context, productIDs []string) ([]domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	products := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.s.products[id]; ok {
			products = append(products, product)
		}
	}
	return products, nil
}

type inventoryRepository struct{ s *Store }

func (r inventoryRepository) GetStock(_ context.Context, productID string) (domain.InventoryStock, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stock, ok := r.s.stocks[productID]
	if !ok {
		return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock for product %s not found", productID), nil)
	}
	return stock, nil
}

// Reserve validates every line before touching any counter, so a shortfall on one product
// leaves all others untouched.
func (r inventoryRepository) Reserve(_ context.Context, req repositories.InventoryReserveRequest) (repositories.InventoryReservationResult, error) {
	reservation := req.Reservation
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.reservations[reservation.OrderID]; exists {
		return repositories.InventoryReservationResult{}, withOp("inventory.reserve", repositories.NewInventoryError(repositories.InventoryErrorReservationExists, fmt.Sprintf("order %s already holds a reservation", reservation.OrderID), nil))
	}

	for _, line := range reservation.Lines {
		stock, ok := r.s.stocks[line.ProductID]
		if !ok {
			return repositories.InventoryReservationResult{}, withOp("inventory.reserve", repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock for product %s not found", line.ProductID), nil))
		}
		if available := stock.Available(); line.Quantity > available {
			return repositories.InventoryReservationResult{}, withOp("inventory.reserve", repositories.NewInsufficientStockError(line.ProductID, line.Quantity, available))
		}
	}

	stocks := make(map[string]domain.InventoryStock, len(reservation.Lines))
	for _, line := range reservation.Lines {
		stock := r.s.stocks[line.ProductID]
		stock.Reserved += line.Quantity
		stock.UpdatedAt = req.Now
		r.s.stocks[line.ProductID] = stock
		stocks[line.ProductID] = stock
	}

	reservation.Status = domain.ReservationStatusReserved
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = req.Now
	}
	reservation.UpdatedAt = req.Now
	reservation.Lines = cloneLines(reservation.Lines)
	r.s.reservations[reservation.OrderID] = reservation
	return repositories.InventoryReservationResult{Reservation: cloneReservation(reservation), Stocks: stocks}, nil
}

func (r inventoryRepository) Commit(_ context.Context, req repositories.InventoryCommitRequest) (repositories.InventoryReservationResult, error) {
	return r.settle("inventory.commit", req.OrderID, domain.ReservationStatusCommitted, "", req.Now)
}

func (r inventoryRepository) Release(_ context.Context, req repositories.InventoryReleaseRequest) (repositories.InventoryReservationResult, error) {
	return r.settle("inventory.release", req.OrderID, domain.ReservationStatusReleased, req.Reason, req.Now)
}

func (r inventoryRepository) settle(op, orderID string, target domain.ReservationStatus, reason string, now time.Time) (repositories.InventoryReservationResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	reservation, ok := r.s.reservations[orderID]
	if !ok {
		return repositories.InventoryReservationResult{}, withOp(op, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("no reservation for order %s", orderID), nil))
	}
	if reservation.Status != domain.ReservationStatusReserved {
		return repositories.InventoryReservationResult{}, withOp(op, repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation for order %s is %s", orderID, reservation.Status), nil))
	}

	stocks := make(map[string]domain.InventoryStock, len(reservation.Lines))
	for _, line := range reservation.Lines {
		stock := r.s.stocks[line.ProductID]
		stock.ProductID = line.ProductID
		stock.Reserved -= line.Quantity
		if target == domain.ReservationStatusCommitted {
			stock.OnHand -= line.Quantity
		}
		stock.UpdatedAt = now
		r.s.stocks[line.ProductID] = stock
		stocks[line.ProductID] = stock
	}

	reservation.Status = target
	reservation.UpdatedAt = now
	if target == domain.ReservationStatusCommitted {
		reservation.CommittedAt = &now
	} else {
		reservation.ReleasedAt = &now
		if reason != "" {
			reservation.Reason = reason
		}
	}
	r.s.reservations[orderID] = reservation
	return repositories.InventoryReservationResult{Reservation: cloneReservation(reservation), Stocks: stocks}, nil
}

func (r inventoryRepository) GetReservation(_ context.Context, orderID string) (domain.StockReservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	reservation, ok := r.s.reservations[orderID]
	if !ok {
		return domain.StockReservation{}, withOp("inventory.get_reservation", repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("no reservation for order %s", orderID), nil))
	}
	return cloneReservation(reservation), nil
}

func withOp(op string, err *repositories.InventoryError) *repositories.InventoryError {
	err.Op = op
	return err
}
