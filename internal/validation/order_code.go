// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/mmo-shop/internal/model"
)

const (
	// OrderCodePrefix предшествует случайной части кода заказа.
	OrderCodePrefix = "MMO-"
	// OrderCodeLength задаёт длину случайной части кода заказа.
	OrderCodeLength = 6
	// OrderCodeAlphabet содержит символы, допустимые в случайной части кода.
	OrderCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// PriceScale совпадает с числом знаков после запятой в денежных колонках БД.
	PriceScale = 2
)

// ErrEmptyCart возвращается, если корзина не содержит строк.
var ErrEmptyCart = errors.New("cart is empty")

// IsValidOrderCode проверяет, что код имеет вид MMO-XXXXXX из цифр и заглавных латинских букв.
func IsValidOrderCode(code string) bool {
	if !strings.HasPrefix(code, OrderCodePrefix) {
		return false
	}

	suffix := code[len(OrderCodePrefix):]
	if len(suffix) != OrderCodeLength {
		return false
	}

	for i := 0; i < len(suffix); i++ {
		if strings.IndexByte(OrderCodeAlphabet, suffix[i]) < 0 {
			return false
		}
	}

	return true
}

// ValidateCart проверяет строки корзины перед созданием заказа.
func ValidateCart(cart model.Cart) error {
	if len(cart.Lines) == 0 {
		return ErrEmptyCart
	}

	for i, l := range cart.Lines {
		if l.ProductID <= 0 {
			return fmt.Errorf("line %d: invalid product id %d", i, l.ProductID)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("line %d: quantity must be positive", i)
		}
		if l.UnitPrice.IsNegative() {
			return fmt.Errorf("line %d: unit price must not be negative", i)
		}
		if !l.UnitPrice.Equal(l.UnitPrice.Truncate(PriceScale)) {
			return fmt.Errorf("line %d: unit price %s has more than %d decimal places", i, l.UnitPrice, PriceScale)
		}
	}

	return nil
}
