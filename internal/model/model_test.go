package model

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPendingPayment, OrderStatusWaitingApproval, true},
		{OrderStatusPendingPayment, OrderStatusCancelled, true},
		{OrderStatusPendingPayment, OrderStatusCompleted, false},
		{OrderStatusWaitingApproval, OrderStatusCompleted, true},
		{OrderStatusWaitingApproval, OrderStatusRejected, true},
		{OrderStatusWaitingApproval, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusCompleted, false},
		{OrderStatusRejected, OrderStatusCompleted, false},
		{OrderStatusCompleted, OrderStatusRejected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []OrderStatus{
		OrderStatusPendingPayment, OrderStatusWaitingApproval,
		OrderStatusCompleted, OrderStatusRejected, OrderStatusCancelled,
	} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, OrderStatus("UNKNOWN").Valid())
	assert.False(t, CanTransition("UNKNOWN", OrderStatusCancelled))
}

func TestNewOrderItemSubtotal(t *testing.T) {
	it := NewOrderItem(uuid.New(), 7, 3, decimal.RequireFromString("25000.50"))
	assert.True(t, it.Subtotal.Equal(decimal.RequireFromString("75001.50")), "subtotal = %s", it.Subtotal)

	items := []OrderItem{it, NewOrderItem(uuid.New(), 8, 1, decimal.NewFromInt(1000))}
	assert.True(t, SumSubtotals(items).Equal(decimal.RequireFromString("76001.50")))
}

func TestCartMerged(t *testing.T) {
	c := Cart{Lines: []CartLine{
		{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
		{ProductID: 2, Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
		{ProductID: 1, Quantity: 3, UnitPrice: decimal.NewFromInt(100)},
	}}

	merged := c.Merged()
	if assert.Len(t, merged, 2) {
		assert.Equal(t, int64(1), merged[0].ProductID)
		assert.Equal(t, 4, merged[0].Quantity)
		assert.Equal(t, int64(2), merged[1].ProductID)
	}
}

func TestInvalidTransitionErrorIs(t *testing.T) {
	var err error = &InvalidTransitionError{OrderID: uuid.New(), From: OrderStatusCancelled, To: OrderStatusCompleted}
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "CANCELLED")
}
