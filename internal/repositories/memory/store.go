// Package memory provides process-local repositories used for development, tests and
// single-instance deployments. All collections share one mutex, so multi-record updates
// such as a stock reservation are atomic.
package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

// Store holds every collection behind a single lock.
type Store struct {
	mu sync.RWMutex

	products     map[string]domain.Product
	stocks       map[string]domain.InventoryStock
	reservations map[string]domain.StockReservation
	clients      map[string]domain.Client
	promotions   map[string]domain.Promotion
	orders       map[string]domain.Order
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		stocks:       make(map[string]domain.InventoryStock),
		reservations: make(map[string]domain.StockReservation),
		clients:      make(map[string]domain.Client),
		promotions:   make(map[string]domain.Promotion),
		orders:       make(map[string]domain.Order),
	}
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Catalog() repositories.CatalogRepository { return catalogRepository{s} }

func (s *Store) Inventory() repositories.InventoryRepository { return inventoryRepository{s} }

func (s *Store) Clients() repositories.ClientRepository { return clientRepository{s} }

func (s *Store) Promotions() repositories.PromotionRepository { return promotionRepository{s} }

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }

// PutProduct upserts a catalog entry together with its on-hand stock. Existing
// reservations for the product are preserved.
func (s *Store) PutProduct(product domain.Product, onHand int) error {
	if product.ID == "" {
		return fmt.Errorf("memory: product id is required")
	}
	if onHand < 0 {
		return fmt.Errorf("memory: product %s on-hand stock cannot be negative", product.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
	stock := s.stocks[product.ID]
	stock.ProductID = product.ID
	stock.OnHand = onHand
	stock.UpdatedAt = product.UpdatedAt
	s.stocks[product.ID] = stock
	return nil
}

// PutClient upserts a client.
func (s *Store) PutClient(client domain.Client) error {
	if client.ID == "" {
		return fmt.Errorf("memory: client id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = client
	return nil
}

// PutPromotion upserts a promotion. Codes must stay unique across promotions.
func (s *Store) PutPromotion(promotion domain.Promotion) error {
	if promotion.ID == "" || promotion.Code == "" {
		return fmt.Errorf("memory: promotion id and code are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.promotions {
		if id != promotion.ID && existing.Code == promotion.Code {
			return fmt.Errorf("memory: promotion code %q already used by %s", promotion.Code, id)
		}
	}
	s.promotions[promotion.ID] = promotion
	return nil
}
