package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/platform/httpx"
	"github.com/hanko-field/orderdesk/internal/platform/pagination"
	"github.com/hanko-field/orderdesk/internal/platform/requestctx"
	"github.com/hanko-field/orderdesk/internal/services"
)

// OrderHandlers exposes quoting, order placement and the order lifecycle actions.
type OrderHandlers struct {
	orders          services.OrderService
	idempotency     func(http.Handler) http.Handler
	defaultPageSize int
	maxPageSize     int
	currency        string
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithCreateMiddleware wraps POST /orders, typically with the idempotency middleware.
func WithCreateMiddleware(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithOrderPageSizes sets the listing page size used when page_size is omitted and the
// cap applied when it is too large.
func WithOrderPageSizes(defaultSize, maxSize int) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.defaultPageSize = defaultSize
		h.maxPageSize = maxSize
	}
}

// WithOrderCurrency labels every amount in order and quote responses with unit.
func WithOrderCurrency(unit currency.Unit) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.currency = unit.String()
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the order endpoints on the API root; the colon actions share the
// /orders prefix so they cannot live in a mounted sub-router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}

	r.Post("/orders:quote", h.quoteOrder)
	r.Get("/orders", h.listOrders)
	r.Method(http.MethodPost, "/orders", create)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:confirm", h.transition(services.OrderActionConfirm))
	r.Post("/orders/{orderID}:cancel", h.transition(services.OrderActionCancel))
	r.Post("/orders/{orderID}:reject", h.transition(services.OrderActionReject))
}

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type orderRequest struct {
	ClientID      string             `json:"client_id"`
	Items         []orderItemRequest `json:"items"`
	PromotionCode string             `json:"promotion_code"`
	PromotionID   string             `json:"promotion_id"`
}

func (req orderRequest) itemInputs() []services.OrderItemInput {
	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	return items
}

type orderActionRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) quoteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req orderRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	result, err := h.orders.Quote(ctx, services.QuoteCommand{
		ClientID:      strings.TrimSpace(req.ClientID),
		Items:         req.itemInputs(),
		PromotionCode: req.PromotionCode,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderItemPayload, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Total:       item.UnitPrice * domain.Money(item.Quantity),
		})
	}
	writeJSONResponse(w, http.StatusOK, quoteResponse{
		Client: clientPayload{
			ID:   result.Client.ID,
			Name: result.Client.Name,
			Tier: string(result.Client.Tier),
		},
		Items:     items,
		Quote:     buildQuotePayload(result.Quote),
		Promotion: buildPromotionCheckPayload(result.Promotion),
		Currency:  h.currency,
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req orderRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		ClientID:      strings.TrimSpace(req.ClientID),
		Items:         req.itemInputs(),
		PromotionID:   strings.TrimSpace(req.PromotionID),
		PromotionCode: req.PromotionCode,
		ActorID:       requestctx.Actor(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, h.orderResponse(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of PENDING, CONFIRMED, CANCELED, REJECTED", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	params, err := pagination.Parse(query, h.defaultPageSize, h.maxPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Status:     statuses,
		ClientID:   strings.TrimSpace(query.Get("client_id")),
		ClientName: strings.TrimSpace(query.Get("client_name")),
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
		TotalCount:    page.TotalCount,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.orderResponse(order))
}

func (h *OrderHandlers) transition(action services.OrderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.orders == nil {
			httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
			return
		}

		orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
		if orderID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
			return
		}

		var req orderActionRequest
		if !decodeJSONBody(w, r, &req, true) {
			return
		}

		order, err := h.orders.Transition(ctx, services.OrderTransitionCommand{
			OrderID: orderID,
			Action:  action,
			Reason:  req.Reason,
			ActorID: requestctx.Actor(ctx),
		})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, h.orderResponse(order))
	}
}

type clientPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tier string `json:"tier"`
}

type quoteResponse struct {
	Currency  string                `json:"currency,omitempty"`
	Client    clientPayload         `json:"client"`
	Items     []orderItemPayload    `json:"items"`
	Quote     quotePayload          `json:"quote"`
	Promotion promotionCheckPayload `json:"promotion"`
}

type quotePayload struct {
	Subtotal                 domain.Money    `json:"subtotal"`
	TierDiscount             domain.Money    `json:"tier_discount"`
	TierDiscountPercent      decimal.Decimal `json:"tier_discount_percent"`
	PromotionDiscount        domain.Money    `json:"promotion_discount"`
	PromotionDiscountPercent decimal.Decimal `json:"promotion_discount_percent"`
	Discount                 domain.Money    `json:"discount"`
	DiscountClamped          bool            `json:"discount_clamped"`
	TaxableBase              domain.Money    `json:"taxable_base"`
	TaxRatePercent           decimal.Decimal `json:"tax_rate_percent"`
	Tax                      domain.Money    `json:"tax"`
	Total                    domain.Money    `json:"total"`
}

type orderItemPayload struct {
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	UnitPrice   domain.Money `json:"unit_price"`
	Quantity    int          `json:"quantity"`
	Total       domain.Money `json:"total"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string             `json:"id"`
	Currency      string             `json:"currency,omitempty"`
	ClientID      string             `json:"client_id"`
	ClientName    string             `json:"client_name"`
	ClientTier    string             `json:"client_tier"`
	Status        string             `json:"status"`
	StatusReason  string             `json:"status_reason,omitempty"`
	Items         []orderItemPayload `json:"items"`
	PromotionID   string             `json:"promotion_id,omitempty"`
	PromotionCode string             `json:"promotion_code,omitempty"`
	Quote         quotePayload       `json:"quote"`
	AmountDue     domain.Money       `json:"amount_due"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at,omitempty"`
	ConfirmedAt   string             `json:"confirmed_at,omitempty"`
	CanceledAt    string             `json:"canceled_at,omitempty"`
	RejectedAt    string             `json:"rejected_at,omitempty"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
	TotalCount    int                   `json:"total_count"`
}

type orderSummaryPayload struct {
	ID            string       `json:"id"`
	ClientID      string       `json:"client_id"`
	ClientName    string       `json:"client_name"`
	Status        string       `json:"status"`
	PromotionCode string       `json:"promotion_code,omitempty"`
	Total         domain.Money `json:"total"`
	AmountDue     domain.Money `json:"amount_due"`
	CreatedAt     string       `json:"created_at"`
}

func (h *OrderHandlers) orderResponse(order domain.Order) orderResponse {
	payload := buildOrderPayload(order)
	payload.Currency = h.currency
	return orderResponse{Order: payload}
}

func buildQuotePayload(q domain.PriceQuote) quotePayload {
	return quotePayload{
		Subtotal:                 q.Subtotal,
		TierDiscount:             q.TierDiscount,
		TierDiscountPercent:      q.TierDiscountPercent,
		PromotionDiscount:        q.PromotionDiscount,
		PromotionDiscountPercent: q.PromotionDiscountPercent,
		Discount:                 q.Discount,
		DiscountClamped:          q.DiscountClamped,
		TaxableBase:              q.TaxableBase,
		TaxRatePercent:           q.TaxRatePercent,
		Tax:                      q.Tax,
		Total:                    q.Total,
	}
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		ClientID:      order.ClientID,
		ClientName:    order.ClientName,
		Status:        string(order.Status),
		PromotionCode: derefString(order.PromotionCode),
		Total:         order.Quote.Total,
		AmountDue:     order.AmountDue,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Total:       item.Total,
		})
	}
	return orderPayload{
		ID:            order.ID,
		ClientID:      order.ClientID,
		ClientName:    order.ClientName,
		ClientTier:    string(order.ClientTier),
		Status:        string(order.Status),
		StatusReason:  order.StatusReason,
		Items:         items,
		PromotionID:   derefString(order.PromotionID),
		PromotionCode: derefString(order.PromotionCode),
		Quote:         buildQuotePayload(order.Quote),
		AmountDue:     order.AmountDue,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		ConfirmedAt:   formatTime(pointerTime(order.ConfirmedAt)),
		CanceledAt:    formatTime(pointerTime(order.CanceledAt)),
		RejectedAt:    formatTime(pointerTime(order.RejectedAt)),
	}
}
