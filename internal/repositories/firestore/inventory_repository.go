package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	pfirestore "github.com/hanko-field/orderdesk/internal/platform/firestore"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

const (
	inventoryCollection         = "inventory"
	stockReservationsCollection = "stockReservations"

	// Reservations of popular products contend on the same stock documents.
	inventoryTxAttempts = 10
	inventoryTxTimeout  = 20 * time.Second
)

// InventoryRepository keeps stock counters in the inventory collection and one reservation
// document per order in stockReservations. Every mutation runs in a transaction that reads
// all affected documents before writing any of them.
type InventoryRepository struct {
	provider     *pfirestore.Provider
	stocks       *pfirestore.BaseRepository[stockDocument]
	reservations *pfirestore.BaseRepository[reservationDocument]
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection)
	reservations := pfirestore.NewBaseRepository[reservationDocument](provider, stockReservationsCollection)
	return &InventoryRepository{provider: provider, stocks: stocks, reservations: reservations}, nil
}

func (r *InventoryRepository) runTx(ctx context.Context, op string, fn pfirestore.TxFunc) error {
	return r.provider.RunTransaction(ctx, fn,
		pfirestore.WithTxOp(op),
		pfirestore.WithTxAttempts(inventoryTxAttempts),
		pfirestore.WithTxTimeout(inventoryTxTimeout),
	)
}

func (r *InventoryRepository) GetStock(ctx context.Context, productID string) (domain.InventoryStock, error) {
	productID = strings.TrimSpace(productID)
	doc, err := r.stocks.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.InventoryStock{}, stockNotFound("inventory.get", productID, err)
		}
		return domain.InventoryStock{}, wrapInventoryError("inventory.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *InventoryRepository) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (repositories.InventoryReservationResult, error) {
	orderID := strings.TrimSpace(req.Reservation.OrderID)
	if orderID == "" {
		return repositories.InventoryReservationResult{}, errors.New("inventory reserve: order id is required")
	}
	if len(req.Reservation.Lines) == 0 {
		return repositories.InventoryReservationResult{}, errors.New("inventory reserve: at least one line is required")
	}

	now := req.Now.UTC()
	reservation := req.Reservation
	reservation.OrderID = orderID
	reservation.Status = domain.ReservationStatusReserved
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.UpdatedAt = now

	var result repositories.InventoryReservationResult
	err := r.runTx(ctx, "inventory.reserve", func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(resRef); err == nil {
			return repositories.NewInventoryError(repositories.InventoryErrorReservationExists, fmt.Sprintf("reservation for order %s already exists", orderID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		loaded, err := r.loadStocks(ctx, tx, reservation.Lines)
		if err != nil {
			return err
		}
		for _, line := range reservation.Lines {
			stock := loaded[line.ProductID]
			if available := stock.doc.available(); available < line.Quantity {
				return repositories.NewInsufficientStockError(line.ProductID, line.Quantity, available)
			}
		}

		stocks := make(map[string]domain.InventoryStock, len(loaded))
		for _, line := range reservation.Lines {
			stock := loaded[line.ProductID]
			stock.doc.Reserved += line.Quantity
			stock.doc.UpdatedAt = now
			loaded[line.ProductID] = stock
		}
		for id, stock := range loaded {
			if err := tx.Set(stock.ref, stock.doc); err != nil {
				return err
			}
			stocks[id] = stock.doc.toDomain(id)
		}

		resDoc := newReservationDocument(reservation)
		if err := tx.Create(resRef, resDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewInventoryError(repositories.InventoryErrorReservationExists, fmt.Sprintf("reservation for order %s already exists", orderID), err)
			}
			return err
		}

		result = repositories.InventoryReservationResult{
			Reservation: resDoc.toDomain(orderID),
			Stocks:      stocks,
		}
		return nil
	})
	if err != nil {
		return repositories.InventoryReservationResult{}, wrapInventoryError("inventory.reserve", err)
	}
	return result, nil
}

func (r *InventoryRepository) Commit(ctx context.Context, req repositories.InventoryCommitRequest) (repositories.InventoryReservationResult, error) {
	return r.settle(ctx, "inventory.commit", req.OrderID, domain.ReservationStatusCommitted, "", req.Now)
}

func (r *InventoryRepository) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (repositories.InventoryReservationResult, error) {
	return r.settle(ctx, "inventory.release", req.OrderID, domain.ReservationStatusReleased, req.Reason, req.Now)
}

// settle moves a reserved reservation to committed or released. Commit deducts on-hand
// stock; release only returns the reserved units.
func (r *InventoryRepository) settle(ctx context.Context, op, orderID string, target domain.ReservationStatus, reason string, now time.Time) (repositories.InventoryReservationResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return repositories.InventoryReservationResult{}, fmt.Errorf("%s: order id is required", op)
	}
	now = now.UTC()

	var result repositories.InventoryReservationResult
	err := r.runTx(ctx, op, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		resSnap, err := tx.Get(resRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation for order %s not found", orderID), err)
			}
			return err
		}
		resDoc, err := decodeReservation(resSnap)
		if err != nil {
			return err
		}
		if domain.ReservationStatus(resDoc.Status) != domain.ReservationStatusReserved {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation for order %s is %s", orderID, resDoc.Status), nil)
		}

		lines := resDoc.lines()
		loaded, err := r.loadStocks(ctx, tx, lines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			stock := loaded[line.ProductID]
			if stock.doc.Reserved < line.Quantity {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reserved quantity for %s is insufficient", line.ProductID), nil)
			}
			stock.doc.Reserved -= line.Quantity
			if target == domain.ReservationStatusCommitted {
				if stock.doc.OnHand < line.Quantity {
					return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("on-hand for %s cannot drop below zero", line.ProductID), nil)
				}
				stock.doc.OnHand -= line.Quantity
			}
			stock.doc.UpdatedAt = now
			loaded[line.ProductID] = stock
		}

		stocks := make(map[string]domain.InventoryStock, len(loaded))
		for id, stock := range loaded {
			if err := tx.Set(stock.ref, stock.doc); err != nil {
				return err
			}
			stocks[id] = stock.doc.toDomain(id)
		}

		resDoc.Status = string(target)
		resDoc.UpdatedAt = now
		if target == domain.ReservationStatusCommitted {
			resDoc.CommittedAt = &now
		} else {
			resDoc.ReleasedAt = &now
			resDoc.Reason = strings.TrimSpace(reason)
		}
		if err := tx.Set(resRef, resDoc); err != nil {
			return err
		}

		result = repositories.InventoryReservationResult{
			Reservation: resDoc.toDomain(orderID),
			Stocks:      stocks,
		}
		return nil
	})
	if err != nil {
		return repositories.InventoryReservationResult{}, wrapInventoryError(op, err)
	}
	return result, nil
}

func (r *InventoryRepository) GetReservation(ctx context.Context, orderID string) (domain.StockReservation, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.StockReservation{}, errors.New("inventory get reservation: order id is required")
	}

	doc, err := r.reservations.Get(ctx, orderID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.StockReservation{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation for order %s not found", orderID), err)
		}
		return domain.StockReservation{}, wrapInventoryError("inventory.getReservation", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// PutStock sets the on-hand count for a product, keeping its reserved units. Used when
// seeding a fresh project.
func (r *InventoryRepository) PutStock(ctx context.Context, productID string, onHand int, now time.Time) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("inventory put stock: product id is required")
	}
	if onHand < 0 {
		return fmt.Errorf("inventory put stock: on-hand for %s cannot be negative", productID)
	}
	err := r.runTx(ctx, "inventory.put", func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.stocks.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		var doc stockDocument
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode inventory stock %s: %w", productID, err)
			}
		case status.Code(err) != codes.NotFound:
			return err
		}
		doc.OnHand = onHand
		doc.UpdatedAt = now.UTC()
		return tx.Set(ref, doc)
	})
	return wrapInventoryError("inventory.put", err)
}

type loadedStock struct {
	ref *firestore.DocumentRef
	doc stockDocument
}

// loadStocks reads every stock document referenced by lines inside tx. A missing
// document aborts with StockNotFound.
func (r *InventoryRepository) loadStocks(ctx context.Context, tx *firestore.Transaction, lines []domain.StockReservationLine) (map[string]loadedStock, error) {
	loaded := make(map[string]loadedStock, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, "product id is required", nil)
		}
		if line.Quantity <= 0 {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("quantity for %s must be > 0", productID), nil)
		}
		if _, ok := loaded[productID]; ok {
			continue
		}
		ref, err := r.stocks.DocumentRef(ctx, productID)
		if err != nil {
			return nil, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, stockNotFound("", productID, err)
			}
			return nil, err
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode inventory stock %s: %w", productID, err)
		}
		loaded[productID] = loadedStock{ref: ref, doc: doc}
	}
	return loaded, nil
}

type stockDocument struct {
	OnHand    int       `firestore:"onHand"`
	Reserved  int       `firestore:"reserved"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (s stockDocument) available() int {
	return s.toDomain("").Available()
}

func (s stockDocument) toDomain(id string) domain.InventoryStock {
	return domain.InventoryStock{
		ProductID: id,
		OnHand:    s.OnHand,
		Reserved:  s.Reserved,
		UpdatedAt: s.UpdatedAt,
	}
}

type reservationDocument struct {
	Status      string                    `firestore:"status"`
	Lines       []reservationLineDocument `firestore:"lines"`
	Reason      string                    `firestore:"reason,omitempty"`
	CreatedAt   time.Time                 `firestore:"createdAt"`
	UpdatedAt   time.Time                 `firestore:"updatedAt"`
	CommittedAt *time.Time                `firestore:"committedAt,omitempty"`
	ReleasedAt  *time.Time                `firestore:"releasedAt,omitempty"`
}

type reservationLineDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"qty"`
}

func newReservationDocument(res domain.StockReservation) reservationDocument {
	lines := make([]reservationLineDocument, len(res.Lines))
	for i, line := range res.Lines {
		lines[i] = reservationLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		}
	}
	return reservationDocument{
		Status:      string(res.Status),
		Lines:       lines,
		Reason:      strings.TrimSpace(res.Reason),
		CreatedAt:   res.CreatedAt.UTC(),
		UpdatedAt:   res.UpdatedAt.UTC(),
		CommittedAt: res.CommittedAt,
		ReleasedAt:  res.ReleasedAt,
	}
}

func (d reservationDocument) lines() []domain.StockReservationLine {
	lines := make([]domain.StockReservationLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.StockReservationLine{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity}
	}
	return lines
}

func (d reservationDocument) toDomain(orderID string) domain.StockReservation {
	return domain.StockReservation{
		OrderID:     orderID,
		Status:      domain.ReservationStatus(d.Status),
		Lines:       d.lines(),
		Reason:      d.Reason,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		CommittedAt: d.CommittedAt,
		ReleasedAt:  d.ReleasedAt,
	}
}

func decodeReservation(snap *firestore.DocumentSnapshot) (reservationDocument, error) {
	var doc reservationDocument
	if err := snap.DataTo(&doc); err != nil {
		return reservationDocument{}, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

func stockNotFound(op, productID string, err error) *repositories.InventoryError {
	invErr := repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", productID), err)
	invErr.Op = op
	invErr.ProductID = productID
	return invErr
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
