package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	pfirestore "github.com/hanko-field/orderdesk/internal/platform/firestore"
	"github.com/hanko-field/orderdesk/internal/platform/pagination"
	"github.com/hanko-field/orderdesk/internal/repositories"
)

const (
	ordersCollection = "orders"
	orderCountAlias  = "total"
)

// An order document is only contended by transitions of that order, which the service
// already serialises, so a short budget is enough.
const (
	orderUpdateTxAttempts = 3
	orderUpdateTxTimeout  = 5 * time.Second
)

// OrderRepository persists orders. Listing needs a composite index on
// (status, clientId, createdAt desc, __name__ desc).
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

// Update replaces the stored order. A missing document is reported as not found rather
// than silently created.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("orders.update", fmt.Errorf("order %s not found", order.ID))
			}
			return err
		}
		return tx.Set(ref, newOrderDocument(order))
	}, pfirestore.WithTxOp("orders.update"), pfirestore.WithTxAttempts(orderUpdateTxAttempts), pfirestore.WithTxTimeout(orderUpdateTxTimeout))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

// List pages through orders newest first. Status and client id are pushed into the query;
// the client name substring match is applied while streaming because Firestore has no
// contains operator.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, hasCursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	clientName := strings.ToLower(strings.TrimSpace(filter.ClientName))

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := client.Collection(ordersCollection).Query
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.ClientID != "" {
		query = query.Where("clientId", "==", filter.ClientID)
	}
	total, err := countOrders(ctx, query, clientName)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if hasCursor {
		query = query.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
	}
	if clientName == "" {
		query = query.Limit(pageSize + 1)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	items := make([]domain.Order, 0, pageSize+1)
	for len(items) <= pageSize {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		if clientName != "" && !strings.Contains(strings.ToLower(doc.ClientName), clientName) {
			continue
		}
		order, err := doc.toDomain(snap.Ref.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		items = append(items, order)
	}

	page := domain.CursorPage[domain.Order]{TotalCount: total}
	if len(items) > pageSize {
		last := items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		items = items[:pageSize]
	}
	page.Items = items
	return page, nil
}

// countOrders counts the filtered orders with a server-side aggregation. The client name
// match cannot be expressed as a query filter, so with one set only the names are scanned.
func countOrders(ctx context.Context, query firestore.Query, clientName string) (int, error) {
	if clientName == "" {
		result, err := query.NewAggregationQuery().WithCount(orderCountAlias).Get(ctx)
		if err != nil {
			return 0, pfirestore.WrapError("orders.count", err)
		}
		value, ok := result[orderCountAlias].(*firestorepb.Value)
		if !ok {
			return 0, fmt.Errorf("orders.count: unexpected aggregation result %T", result[orderCountAlias])
		}
		return int(value.GetIntegerValue()), nil
	}

	iter := query.Select("clientName").Documents(ctx)
	defer iter.Stop()
	total := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return total, nil
		}
		if err != nil {
			return 0, pfirestore.WrapError("orders.count", err)
		}
		name, _ := snap.Data()["clientName"].(string)
		if strings.Contains(strings.ToLower(name), clientName) {
			total++
		}
	}
}

type orderDocument struct {
	ClientID      string              `firestore:"clientId"`
	ClientName    string              `firestore:"clientName"`
	ClientTier    string              `firestore:"clientTier"`
	Items         []orderItemDocument `firestore:"items"`
	PromotionID   *string             `firestore:"promotionId,omitempty"`
	PromotionCode *string             `firestore:"promotionCode,omitempty"`
	Quote         quoteDocument       `firestore:"quote"`
	Status        string              `firestore:"status"`
	StatusReason  string              `firestore:"statusReason,omitempty"`
	AmountDue     int64               `firestore:"amountDueCents"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	ConfirmedAt   *time.Time          `firestore:"confirmedAt,omitempty"`
	CanceledAt    *time.Time          `firestore:"canceledAt,omitempty"`
	RejectedAt    *time.Time          `firestore:"rejectedAt,omitempty"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	UnitPrice   int64  `firestore:"unitPriceCents"`
	Quantity    int    `firestore:"qty"`
	Total       int64  `firestore:"totalCents"`
}

type quoteDocument struct {
	Subtotal                 int64  `firestore:"subtotalCents"`
	TierDiscount             int64  `firestore:"tierDiscountCents"`
	TierDiscountPercent      string `firestore:"tierDiscountPercent"`
	PromotionDiscount        int64  `firestore:"promotionDiscountCents"`
	PromotionDiscountPercent string `firestore:"promotionDiscountPercent"`
	Discount                 int64  `firestore:"discountCents"`
	DiscountClamped          bool   `firestore:"discountClamped"`
	TaxableBase              int64  `firestore:"taxableBaseCents"`
	TaxRatePercent           string `firestore:"taxRatePercent"`
	Tax                      int64  `firestore:"taxCents"`
	Total                    int64  `firestore:"totalCents"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   int64(item.UnitPrice),
			Quantity:    item.Quantity,
			Total:       int64(item.Total),
		}
	}
	q := order.Quote
	return orderDocument{
		ClientID:      order.ClientID,
		ClientName:    order.ClientName,
		ClientTier:    string(order.ClientTier),
		Items:         items,
		PromotionID:   order.PromotionID,
		PromotionCode: order.PromotionCode,
		Quote: quoteDocument{
			Subtotal:                 int64(q.Subtotal),
			TierDiscount:             int64(q.TierDiscount),
			TierDiscountPercent:      q.TierDiscountPercent.String(),
			PromotionDiscount:        int64(q.PromotionDiscount),
			PromotionDiscountPercent: q.PromotionDiscountPercent.String(),
			Discount:                 int64(q.Discount),
			DiscountClamped:          q.DiscountClamped,
			TaxableBase:              int64(q.TaxableBase),
			TaxRatePercent:           q.TaxRatePercent.String(),
			Tax:                      int64(q.Tax),
			Total:                    int64(q.Total),
		},
		Status:       string(order.Status),
		StatusReason: order.StatusReason,
		AmountDue:    int64(order.AmountDue),
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		ConfirmedAt:  order.ConfirmedAt,
		CanceledAt:   order.CanceledAt,
		RejectedAt:   order.RejectedAt,
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   domain.Money(item.UnitPrice),
			Quantity:    item.Quantity,
			Total:       domain.Money(item.Total),
		}
	}
	percents := make([]decimal.Decimal, 3)
	for i, raw := range []string{d.Quote.TierDiscountPercent, d.Quote.PromotionDiscountPercent, d.Quote.TaxRatePercent} {
		if raw == "" {
			continue
		}
		pct, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s quote: %w", id, err)
		}
		percents[i] = pct
	}
	tier, ok := domain.ParseClientTier(d.ClientTier)
	if !ok {
		tier = domain.ClientTierStandard
	}
	return domain.Order{
		ID:            id,
		ClientID:      d.ClientID,
		ClientName:    d.ClientName,
		ClientTier:    tier,
		Items:         items,
		PromotionID:   d.PromotionID,
		PromotionCode: d.PromotionCode,
		Quote: domain.PriceQuote{
			Subtotal:                 domain.Money(d.Quote.Subtotal),
			TierDiscount:             domain.Money(d.Quote.TierDiscount),
			TierDiscountPercent:      percents[0],
			PromotionDiscount:        domain.Money(d.Quote.PromotionDiscount),
			PromotionDiscountPercent: percents[1],
			Discount:                 domain.Money(d.Quote.Discount),
			DiscountClamped:          d.Quote.DiscountClamped,
			TaxableBase:              domain.Money(d.Quote.TaxableBase),
			TaxRatePercent:           percents[2],
			Tax:                      domain.Money(d.Quote.Tax),
			Total:                    domain.Money(d.Quote.Total),
		},
		Status:       domain.OrderStatus(d.Status),
		StatusReason: d.StatusReason,
		AmountDue:    domain.Money(d.AmountDue),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		ConfirmedAt:  d.ConfirmedAt,
		CanceledAt:   d.CanceledAt,
		RejectedAt:   d.RejectedAt,
	}, nil
}
