package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	pfirestore "github.com/hanko-field/orderdesk/internal/platform/firestore"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

const promotionsCollection = "promotions"

// PromotionRepository is a read view over the promotions collection. Codes are matched
// exactly; the collection is expected to hold at most one document per code.
type PromotionRepository struct {
	base *pfirestore.BaseRepository[promotionDocument]
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)

func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{base: pfirestore.NewBaseRepository[promotionDocument](provider, promotionsCollection)}, nil
}

func (r *PromotionRepository) FindByID(ctx context.Context, promotionID string) (domain.Promotion, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(promotionID))
	if err != nil {
		return domain.Promotion{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	if len(docs) == 0 {
		return domain.Promotion{}, pfirestore.NotFound("promotions.find_by_code", fmt.Errorf("promotion code %q not found", code))
	}
	return docs[0].Data.toDomain(docs[0].ID)
}

// ListActive returns promotions whose expiry is strictly after now, soonest expiry first.
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", ">", now.UTC()).OrderBy("expiresAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	promotions := make([]domain.Promotion, 0, len(docs))
	for _, doc := range docs {
		promotion, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		promotions = append(promotions, promotion)
	}
	slices.SortStableFunc(promotions, func(a, b domain.Promotion) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	return promotions, nil
}

// PutPromotion upserts a promotion document.
func (r *PromotionRepository) PutPromotion(ctx context.Context, promotion domain.Promotion) error {
	return r.base.Set(ctx, promotion.ID, promotionDocument{
		Code:            promotion.Code,
		DiscountPercent: promotion.DiscountPercent.String(),
		ExpiresAt:       promotion.ExpiresAt.UTC(),
		Description:     promotion.Description,
		CreatedAt:       promotion.CreatedAt.UTC(),
		UpdatedAt:       promotion.UpdatedAt.UTC(),
	})
}

// Percentages are stored as decimal strings so 12.5 survives the round trip exactly.
type promotionDocument struct {
	Code            string    `firestore:"code"`
	DiscountPercent string    `firestore:"discountPercent"`
	ExpiresAt       time.Time `firestore:"expiresAt"`
	Description     string    `firestore:"description,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func (d promotionDocument) toDomain(id string) (domain.Promotion, error) {
	pct, err := decimal.NewFromString(strings.TrimSpace(d.DiscountPercent))
	if err != nil {
		return domain.Promotion{}, fmt.Errorf("decode promotion %s discount: %w", id, err)
	}
	return domain.Promotion{
		ID:              id,
		Code:            d.Code,
		DiscountPercent: pct,
		ExpiresAt:       d.ExpiresAt,
		Description:     d.Description,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}
