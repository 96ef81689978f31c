// Package model содержит доменные сущности магазина цифровых аккаунтов.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа в жизненном цикле оплаты.
type OrderStatus string

const (
	OrderStatusPendingPayment  OrderStatus = "PENDING_PAYMENT"
	OrderStatusWaitingApproval OrderStatus = "WAITING_APPROVAL"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPendingPayment:  {OrderStatusWaitingApproval: true, OrderStatusCancelled: true},
	OrderStatusWaitingApproval: {OrderStatusCompleted: true, OrderStatusRejected: true},
	OrderStatusCompleted:       {},
	OrderStatusRejected:        {},
	OrderStatusCancelled:       {},
}

// CanTransition сообщает, допустим ли переход заказа из статуса from в статус to.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Valid сообщает, известен ли статус.
func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// AutoCancelNote записывается в admin_note при отмене заказа по истечении окна оплаты.
const AutoCancelNote = "auto-cancelled: payment window elapsed"

// Order описывает заголовок заказа.
type Order struct {
	ID          uuid.UUID
	Code        string
	BuyerID     uuid.UUID
	TotalAmount decimal.Decimal
	Status      OrderStatus
	ExpiresAt   time.Time
	AdminNote   string
	CreatedAt   time.Time
}

// OrderFilter задаёт выборку заказов в админке. Пустые поля не ограничивают выборку.
// Query ищет подстроку в коде заказа без учёта регистра либо точный идентификатор покупателя.
type OrderFilter struct {
	Status OrderStatus
	Query  string
}

// OrderItem описывает позицию заказа с зафиксированной ценой.
type OrderItem struct {
	OrderID   uuid.UUID
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// NewOrderItem создаёт позицию и вычисляет subtotal = unit_price * quantity.
func NewOrderItem(orderID uuid.UUID, productID int64, quantity int, unitPrice decimal.Decimal) OrderItem {
	return OrderItem{
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Subtotal:  unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// SumSubtotals возвращает сумму subtotal всех позиций.
func SumSubtotals(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	return total
}

// UnitStatus описывает состояние единицы товара на складе.
type UnitStatus string

const (
	UnitStatusAvailable UnitStatus = "AVAILABLE"
	UnitStatusReserved  UnitStatus = "RESERVED"
	UnitStatusDelivered UnitStatus = "DELIVERED"
)

// InventoryUnit описывает один продаваемый аккаунт.
type InventoryUnit struct {
	ID          int64
	ProductID   int64
	Content     string
	Status      UnitStatus
	OrderID     *uuid.UUID
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// OrderDetail объединяет заказ, его позиции и выданные аккаунты.
type OrderDetail struct {
	Order     Order
	Items     []OrderItem
	Delivered []InventoryUnit
}

// CartLine описывает строку корзины покупателя.
type CartLine struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Cart описывает корзину текущей сессии покупателя.
type Cart struct {
	Lines []CartLine
}

// Merged возвращает строки корзины с объединёнными дубликатами товаров в порядке первого появления.
func (c Cart) Merged() []CartLine {
	idx := make(map[int64]int, len(c.Lines))
	out := make([]CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}
