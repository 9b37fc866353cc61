package memory

import (
	"context"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

var _ repositories.Seeder = (*Store)(nil)

func (s *Store) SeedProduct(_ context.Context, product domain.Product, onHand int) error {
	return s.PutProduct(product, onHand)
}

func (s *Store) SeedClient(_ context.Context, client domain.Client) error {
	return s.PutClient(client)
}

func (s *Store) SeedPromotion(_ context.Context, promotion domain.Promotion) error {
	return s.PutPromotion(promotion)
}
