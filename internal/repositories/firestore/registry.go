// Package firestore implements the repository interfaces on Cloud Firestore. Stock
// reservations and order updates run in Firestore transactions so several API instances
// can share one project.
package firestore

import (
	"context"
	"errors"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	pfirestore "github.com/hanko-field/orderdesk/internal/platform/firestore"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider   *pfirestore.Provider
	catalog    *CatalogRepository
	inventory  *InventoryRepository
	clients    *ClientRepository
	promotions *PromotionRepository
	orders     *OrderRepository
}

var (
	_ repositories.Registry = (*Registry)(nil)
	_ repositories.Seeder   = (*Registry)(nil)
)

// NewRegistry builds every repository on top of one shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	clients, err := NewClientRepository(provider)
	if err != nil {
		return nil, err
	}
	promotions, err := NewPromotionRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:   provider,
		catalog:    catalog,
		inventory:  inventory,
		clients:    clients,
		promotions: promotions,
		orders:     orders,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) Clients() repositories.ClientRepository { return r.clients }

func (r *Registry) Promotions() repositories.PromotionRepository { return r.promotions }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) SeedProduct(ctx context.Context, product domain.Product, onHand int) error {
	if err := r.catalog.PutProduct(ctx, product); err != nil {
		return err
	}
	return r.inventory.PutStock(ctx, product.ID, onHand, product.UpdatedAt)
}

func (r *Registry) SeedClient(ctx context.Context, client domain.Client) error {
	return r.clients.PutClient(ctx, client)
}

func (r *Registry) SeedPromotion(ctx context.Context, promotion domain.Promotion) error {
	return r.promotions.PutPromotion(ctx, promotion)
}
