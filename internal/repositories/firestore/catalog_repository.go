package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	pfirestore "github.com/hanko-field/orderdesk/internal/platform/firestore"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

const productsCollection = "products"

// CatalogRepository reads product pricing from the products collection.
type CatalogRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection)}, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListProducts returns the products that exist among productIDs; unknown ids are skipped.
func (r *CatalogRepository) ListProducts(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	docs, err := r.base.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, doc.Data.toDomain(doc.ID))
	}
	return products, nil
}

// PutProduct upserts a catalog entry.
func (r *CatalogRepository) PutProduct(ctx context.Context, product domain.Product) error {
	return r.base.Set(ctx, product.ID, productDocument{
		Name:           strings.TrimSpace(product.Name),
		UnitPriceCents: int64(product.UnitPrice),
		UpdatedAt:      product.UpdatedAt.UTC(),
	})
}

type productDocument struct {
	Name           string    `firestore:"name"`
	UnitPriceCents int64     `firestore:"unitPriceCents"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      d.Name,
		UnitPrice: domain.Money(d.UnitPriceCents),
		UpdatedAt: d.UpdatedAt,
	}
}
