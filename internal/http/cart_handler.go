package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/GrowPals/cartsync/internal/domain"
	"github.com/GrowPals/cartsync/internal/repository"
	"github.com/GrowPals/cartsync/internal/service"
)

type CartHandler struct {
	svc     *service.CartService
	timeout time.Duration
	log     *zap.Logger
}

func NewCartHandler(svc *service.CartService, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{svc: svc, timeout: timeout, log: log}
}

type AddItemRequestDTO struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponseDTO struct {
	Cart   *domain.Cart  `json:"cart"`
	Totals domain.Totals `json:"totals"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := getOwnerID(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing owner authentication")
		return
	}

	h.respondCart(ctx, w, ownerID)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := getOwnerID(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing owner authentication")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity < 1 || req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	pending, err := h.svc.AddItem(ctx, ownerID, domain.CartItem{
		ProductID: req.ProductID,
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}
	if err := pending.Wait(ctx); err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}

	h.respondCart(ctx, w, ownerID)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := getOwnerID(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing owner authentication")
		return
	}

	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > 99 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	// Quantity <= 0 is an implicit removal.
	pending, err := h.svc.UpdateQuantity(ctx, ownerID, productID, req.Quantity)
	if err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}
	if err := pending.Wait(ctx); err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}

	h.respondCart(ctx, w, ownerID)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := getOwnerID(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing owner authentication")
		return
	}

	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	pending, err := h.svc.RemoveItem(ctx, ownerID, productID)
	if err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}
	if err := pending.Wait(ctx); err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}

	h.respondCart(ctx, w, ownerID)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := getOwnerID(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing owner authentication")
		return
	}

	pending, err := h.svc.ClearCart(ctx, ownerID)
	if err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}
	if err := pending.Wait(ctx); err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}

	h.respondCart(ctx, w, ownerID)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, ownerID string) {
	cart, err := h.svc.GetCart(ctx, ownerID)
	if err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}
	totals, err := h.svc.Totals(ctx, ownerID)
	if err != nil {
		h.respondServiceError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, CartResponseDTO{Cart: cart, Totals: totals})
}

func (h *CartHandler) respondServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "unauthorized", "no valid session")
	case errors.Is(err, repository.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, repository.ErrItemUnavailable):
		respondError(w, http.StatusGone, "item_unavailable", "this product is no longer available, remove it from your cart")
	case errors.Is(err, repository.ErrConflictStale), errors.Is(err, service.ErrSuperseded):
		respondError(w, http.StatusConflict, "conflict", "the cart changed, please retry")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondError(w, http.StatusGatewayTimeout, "timeout", "the cart store did not respond in time")
	default:
		h.log.Error("cart request failed",
			zap.String("request_id", getRequestID(ctx)), zap.Error(err))
		respondError(w, http.StatusBadGateway, "store_unavailable", "couldn't save your change, please retry")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, status int, code, details string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Details: details,
	})
}
