package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/mmo-shop/internal/model"
)

// AdminListOrders возвращает заказы с необязательными фильтрами ?status= и ?q=.
// q ищет по фрагменту кода заказа или по идентификатору покупателя.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	filter := model.OrderFilter{
		Status: model.OrderStatus(r.URL.Query().Get("status")),
		Query:  r.URL.Query().Get("q"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orders, err := h.service.ListAdminOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, err, "admin list orders error",
			zap.String("status", string(filter.Status)),
			zap.String("q", filter.Query),
		)
		return
	}

	h.writeJSON(w, http.StatusOK, h.ordersResponse(orders))
}

// AdminGetOrder возвращает любой заказ с позициями и выданными аккаунтами.
func (h *Handler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	detail, err := h.service.GetOrderAdmin(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err, "admin get order error", zap.String("order_id", orderID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, h.detailResponse(detail))
}

// Approve выдаёт аккаунты по заказу и завершает его.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	detail, err := h.service.Approve(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err, "approve order error", zap.String("order_id", orderID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, h.detailResponse(detail))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject отклоняет заказ с указанием причины.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.Reject(r.Context(), orderID, req.Reason)
	if err != nil {
		h.writeError(w, err, "reject order error", zap.String("order_id", orderID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, h.orderResponse(*o))
}

type importRequest struct {
	Contents []string `json:"contents"`
}

type importResponse struct {
	Imported int `json:"imported"`
}

// ImportInventory добавляет аккаунты товара на склад.
func (h *Handler) ImportInventory(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	n, err := h.service.ImportInventory(r.Context(), productID, req.Contents)
	if err != nil {
		h.writeError(w, err, "import inventory error", zap.Int64("product_id", productID))
		return
	}

	h.writeJSON(w, http.StatusCreated, importResponse{Imported: n})
}
