package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/platform/pagination"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

type clientRepository struct{ s *Store }

func (r clientRepository) FindByID(_ context.Context, clientID string) (domain.Client, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	client, ok := r.s.clients[clientID]
	if !ok {
		return domain.Client{}, notFound("clients.get", "client %s", clientID)
	}
	return client, nil
}

type promotionRepository struct{ s *Store }

func (r promotionRepository) FindByID(_ context.Context, promotionID string) (domain.Promotion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	promotion, ok := r.s.promotions[promotionID]
	if !ok {
		return domain.Promotion{}, notFound("promotions.get", "promotion %s", promotionID)
	}
	return promotion, nil
}

func (r promotionRepository) FindByCode(_ context.Context, code string) (domain.Promotion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, promotion := range r.s.promotions {
		if promotion.Code == code {
			return promotion, nil
		}
	}
	return domain.Promotion{}, notFound("promotions.find_by_code", "promotion code %q", code)
}

func (r promotionRepository) ListActive(_ context.Context, now time.Time) ([]domain.Promotion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	active := make([]domain.Promotion, 0, len(r.s.promotions))
	for _, promotion := range r.s.promotions {
		if promotion.ActiveAt(now) {
			active = append(active, promotion)
		}
	}
	slices.SortFunc(active, func(a, b domain.Promotion) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	return active, nil
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; exists {
		return conflict("orders.insert", "order %s already exists", order.ID)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) Update(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; !exists {
		return notFound("orders.update", "order %s", order.ID)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order %s", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, hasCursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	clientName := strings.ToLower(strings.TrimSpace(filter.ClientName))

	r.s.mu.RLock()
	total := 0
	matched := make([]domain.Order, 0, len(r.s.orders))
	for _, order := range r.s.orders {
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		if filter.ClientID != "" && order.ClientID != filter.ClientID {
			continue
		}
		if clientName != "" && !strings.Contains(strings.ToLower(order.ClientName), clientName) {
			continue
		}
		total++
		if hasCursor && !cursor.After(order.CreatedAt, order.ID) {
			continue
		}
		matched = append(matched, order)
	}
	r.s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	page := domain.CursorPage[domain.Order]{TotalCount: total}
	if len(matched) > pageSize {
		last := matched[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		matched = matched[:pageSize]
	}
	page.Items = make([]domain.Order, len(matched))
	for i, order := range matched {
		page.Items[i] = cloneOrder(order)
	}
	return page, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	order.PromotionID = cloneString(order.PromotionID)
	order.PromotionCode = cloneString(order.PromotionCode)
	order.ConfirmedAt = cloneTime(order.ConfirmedAt)
	order.CanceledAt = cloneTime(order.CanceledAt)
	order.RejectedAt = cloneTime(order.RejectedAt)
	return order
}

func cloneReservation(reservation domain.StockReservation) domain.StockReservation {
	reservation.Lines = cloneLines(reservation.Lines)
	reservation.CommittedAt = cloneTime(reservation.CommittedAt)
	reservation.ReleasedAt = cloneTime(reservation.ReleasedAt)
	return reservation
}

func cloneLines(lines []domain.StockReservationLine) []domain.StockReservationLine {
	return slices.Clone(lines)
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
