package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidTransition возвращается при попытке перевести заказ из неподходящего статуса.
var ErrInvalidTransition = errors.New("invalid order state transition")

// InvalidTransitionError описывает отклонённый переход статуса заказа.
type InvalidTransitionError struct {
	OrderID uuid.UUID
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// Is позволяет сравнивать ошибку с ErrInvalidTransition через errors.Is.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StockUnavailableError возвращается при создании заказа, если на складе меньше единиц, чем запрошено.
type StockUnavailableError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("product %d: requested %d, only %d available", e.ProductID, e.Requested, e.Available)
}

// InsufficientStockError возвращается при одобрении заказа, если выделить нужное количество не удалось.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("allocate product %d: requested %d, only %d available", e.ProductID, e.Requested, e.Available)
}
