package service

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/mmeshcher/mmo-shop/internal/validation"
)

// maxCodeAttempts ограничивает число перегенераций кода заказа при коллизиях.
const maxCodeAttempts = 5

// NewOrderCode генерирует код заказа вида MMO-XXXXXX.
func NewOrderCode() (string, error) {
	alphabetLen := big.NewInt(int64(len(validation.OrderCodeAlphabet)))

	buf := make([]byte, validation.OrderCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("generate order code: %w", err)
		}
		buf[i] = validation.OrderCodeAlphabet[n.Int64()]
	}

	return validation.OrderCodePrefix + string(buf), nil
}
