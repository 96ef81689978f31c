package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TransactionSource поставляет последние транзакции по счёту получателя.
type TransactionSource interface {
	FetchTransactions(ctx context.Context) ([]Transaction, error)
}

// Result описывает итог проверки оплаты заказа.
type Result struct {
	Matched     bool
	Reason      string
	Transaction *Transaction
}

// Verifier сопоставляет транзакции из ленты с кодом и суммой заказа.
type Verifier struct {
	source TransactionSource
}

// NewVerifier создаёт верификатор поверх источника транзакций.
func NewVerifier(source TransactionSource) *Verifier {
	return &Verifier{source: source}
}

// Verify проверяет, поступил ли перевод с кодом заказа в назначении и суммой не меньше ожидаемой.
func (v *Verifier) Verify(ctx context.Context, orderCode string, expected decimal.Decimal) (Result, error) {
	if orderCode == "" {
		return Result{}, errors.New("order code is empty")
	}
	if v == nil || v.source == nil {
		return Result{}, ErrNotConfigured
	}

	txs, err := v.source.FetchTransactions(ctx)
	if err != nil {
		return Result{}, err
	}

	for i := range txs {
		if Matches(txs[i], orderCode, expected) {
			return Result{
				Matched:     true,
				Reason:      "payment received",
				Transaction: &txs[i],
			}, nil
		}
	}

	return Result{
		Matched: false,
		Reason: fmt.Sprintf(
			"payment for order %s has not been detected yet; please wait 1-2 minutes and confirm again", orderCode,
		),
	}, nil
}

// Matches сообщает, подходит ли транзакция: memo содержит код без учёта регистра, сумма не меньше ожидаемой.
func Matches(tx Transaction, orderCode string, expected decimal.Decimal) bool {
	if !strings.Contains(strings.ToUpper(tx.Memo), strings.ToUpper(orderCode)) {
		return false
	}
	return tx.Amount.GreaterThanOrEqual(expected)
}
