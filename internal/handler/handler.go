// Package handler содержит HTTP-обработчики API магазина.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/mmo-shop/internal/middleware"
	"github.com/mmeshcher/mmo-shop/internal/model"
	"github.com/mmeshcher/mmo-shop/internal/payment"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CountAvailable(ctx context.Context, productID int64) (int, error)
	CreateOrder(ctx context.Context, buyerID uuid.UUID, cart model.Cart) (*model.OrderDetail, error)
	ListBuyerOrders(ctx context.Context, buyerID uuid.UUID) ([]model.Order, error)
	GetOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*model.OrderDetail, error)
	ConfirmPayment(ctx context.Context, buyerID, orderID uuid.UUID) (*model.Order, payment.Result, error)
	ExpireIfOverdue(ctx context.Context, buyerID, orderID uuid.UUID) (bool, error)

	ListAdminOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error)
	GetOrderAdmin(ctx context.Context, orderID uuid.UUID) (*model.OrderDetail, error)
	Approve(ctx context.Context, orderID uuid.UUID) (*model.OrderDetail, error)
	Reject(ctx context.Context, orderID uuid.UUID, reason string) (*model.Order, error)
	ImportInventory(ctx context.Context, productID int64, contents []string) (int, error)
}

// Handler реализует HTTP-обработчики API магазина.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	bankAccount    string

	now func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// bankAccount показывается покупателю в реквизитах оплаты и может быть пустым.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, bankAccount string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		bankAccount:    bankAccount,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type cartLineRequest struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createOrderRequest struct {
	Items []cartLineRequest `json:"items"`
}

// CreateOrder создаёт заказ из корзины текущего покупателя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cart := model.Cart{Lines: make([]model.CartLine, 0, len(req.Items))}
	for _, it := range req.Items {
		cart.Lines = append(cart.Lines, model.CartLine{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	detail, err := h.service.CreateOrder(r.Context(), user.ID, cart)
	if err != nil {
		h.writeError(w, err, "create order error", zap.String("buyer_id", user.ID.String()))
		return
	}

	h.writeJSON(w, http.StatusCreated, h.detailResponse(detail))
}

// GetOrders возвращает список заказов текущего покупателя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListBuyerOrders(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err, "get orders error", zap.String("buyer_id", user.ID.String()))
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, h.ordersResponse(orders))
}

// GetOrder возвращает заказ текущего покупателя с позициями и выданными аккаунтами.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	detail, err := h.service.GetOrder(r.Context(), user.ID, orderID)
	if err != nil {
		h.writeError(w, err, "get order error", zap.String("order_id", orderID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, h.detailResponse(detail))
}

type confirmPaymentResponse struct {
	Matched bool          `json:"matched"`
	Reason  string        `json:"reason"`
	Order   orderResponse `json:"order"`
}

// ConfirmPayment проверяет оплату заказа по банковской ленте.
// Если перевод ещё не найден, отвечает 402 с причиной, заказ остаётся в ожидании оплаты.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	o, res, err := h.service.ConfirmPayment(r.Context(), user.ID, orderID)
	if err != nil {
		h.writeError(w, err, "confirm payment error", zap.String("order_id", orderID.String()))
		return
	}

	status := http.StatusOK
	if !res.Matched {
		status = http.StatusPaymentRequired
	}

	h.writeJSON(w, status, confirmPaymentResponse{
		Matched: res.Matched,
		Reason:  res.Reason,
		Order:   h.orderResponse(*o),
	})
}

type expireResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ExpireOrder отменяет заказ, если окно оплаты истекло. Вызывается по таймеру клиента.
func (h *Handler) ExpireOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	cancelled, err := h.service.ExpireIfOverdue(r.Context(), user.ID, orderID)
	if err != nil {
		h.writeError(w, err, "expire order error", zap.String("order_id", orderID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, expireResponse{Cancelled: cancelled})
}

type stockResponse struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
}

// GetStock возвращает число доступных аккаунтов товара.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	available, err := h.service.CountAvailable(r.Context(), productID)
	if err != nil {
		h.writeError(w, err, "get stock error", zap.Int64("product_id", productID))
		return
	}

	h.writeJSON(w, http.StatusOK, stockResponse{ProductID: productID, Available: available})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
