package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hanko-field/orderdesk/internal/platform/httpx"
	"github.com/hanko-field/orderdesk/internal/services"
)

// PromotionHandlers lets the order form check a code before the order is placed.
type PromotionHandlers struct {
	promotions services.PromotionService
}

func NewPromotionHandlers(promotions services.PromotionService) *PromotionHandlers {
	return &PromotionHandlers{promotions: promotions}
}

// Routes registers the /promotions endpoints.
func (h *PromotionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listActive)
	r.Get("/{code}", h.checkCode)
}

type promotionCheckPayload struct {
	Status          string           `json:"status"`
	Code            string           `json:"code,omitempty"`
	Applied         bool             `json:"applied"`
	Reason          string           `json:"reason,omitempty"`
	PromotionID     string           `json:"promotion_id,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	ExpiresAt       string           `json:"expires_at,omitempty"`
}

type promotionPayload struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Description     string          `json:"description,omitempty"`
	ExpiresAt       string          `json:"expires_at"`
}

type promotionListResponse struct {
	Items []promotionPayload `json:"items"`
}

func buildPromotionCheckPayload(result services.PromotionValidation) promotionCheckPayload {
	payload := promotionCheckPayload{
		Status:  string(result.Status),
		Code:    result.Code,
		Applied: result.Applied(),
		Reason:  result.Reason,
	}
	if result.Applied() {
		pct := result.Promotion.DiscountPercent
		payload.PromotionID = result.Promotion.ID
		payload.DiscountPercent = &pct
		payload.ExpiresAt = formatTime(result.Promotion.ExpiresAt)
	}
	return payload
}

// checkCode always answers 200; an unusable code is reported in the body, mirroring how
// quoting treats it.
func (h *PromotionHandlers) checkCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "promotion code is required", http.StatusBadRequest))
		return
	}

	result, err := h.promotions.ValidateCode(ctx, code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPromotionCheckPayload(result))
}

func (h *PromotionHandlers) listActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	promotions, err := h.promotions.ListActive(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]promotionPayload, 0, len(promotions))
	for _, promo := range promotions {
		items = append(items, promotionPayload{
			ID:              promo.ID,
			Code:            promo.Code,
			DiscountPercent: promo.DiscountPercent,
			Description:     promo.Description,
			ExpiresAt:       formatTime(promo.ExpiresAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, promotionListResponse{Items: items})
}
