package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/mmo-shop/internal/model"
)

type paymentInstructions struct {
	AccountNumber string          `json:"account_number,omitempty"`
	Memo          string          `json:"memo"`
	Amount        decimal.Decimal `json:"amount"`
}

type orderResponse struct {
	ID               string               `json:"id"`
	Code             string               `json:"code"`
	Status           string               `json:"status"`
	TotalAmount      decimal.Decimal      `json:"total_amount"`
	ExpiresAt        string               `json:"expires_at"`
	SecondsRemaining *int64               `json:"seconds_remaining,omitempty"`
	AdminNote        string               `json:"admin_note,omitempty"`
	CreatedAt        string               `json:"created_at"`
	Payment          *paymentInstructions `json:"payment,omitempty"`
}

type itemResponse struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type deliveredResponse struct {
	ProductID   int64  `json:"product_id"`
	Content     string `json:"content"`
	DeliveredAt string `json:"delivered_at,omitempty"`
}

type detailResponse struct {
	orderResponse
	Items     []itemResponse      `json:"items"`
	Delivered []deliveredResponse `json:"delivered,omitempty"`
}

func (h *Handler) orderResponse(o model.Order) orderResponse {
	resp := orderResponse{
		ID:          o.ID.String(),
		Code:        o.Code,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		ExpiresAt:   o.ExpiresAt.Format(time.RFC3339),
		AdminNote:   o.AdminNote,
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
	}

	if o.Status == model.OrderStatusPendingPayment {
		remaining := int64(o.ExpiresAt.Sub(h.now()).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		resp.SecondsRemaining = &remaining
		resp.Payment = &paymentInstructions{
			AccountNumber: h.bankAccount,
			Memo:          o.Code,
			Amount:        o.TotalAmount,
		}
	}

	return resp
}

func (h *Handler) ordersResponse(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, h.orderResponse(o))
	}
	return resp
}

func (h *Handler) detailResponse(d *model.OrderDetail) detailResponse {
	resp := detailResponse{
		orderResponse: h.orderResponse(d.Order),
		Items:         make([]itemResponse, 0, len(d.Items)),
	}

	for _, it := range d.Items {
		resp.Items = append(resp.Items, itemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}

	for _, u := range d.Delivered {
		dr := deliveredResponse{ProductID: u.ProductID, Content: u.Content}
		if u.DeliveredAt != nil {
			dr.DeliveredAt = u.DeliveredAt.Format(time.RFC3339)
		}
		resp.Delivered = append(resp.Delivered, dr)
	}

	return resp
}
