package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrResponseFormat возвращается, если ответ ленты не содержит списка транзакций.
var ErrResponseFormat = errors.New("unexpected bank feed response format")

// Пути к списку транзакций, memo и сумме в порядке приоритета.
var (
	containerAliases = [][]string{{"items"}, {"transactions"}, {"data", "transactions"}}
	memoAliases      = []string{"content", "transaction_content", "description"}
	amountAliases    = []string{"amount_in", "amount"}
)

// ParseTransactions разбирает ответ ленты, перебирая известные варианты имён полей.
func ParseTransactions(body []byte) ([]Transaction, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseFormat, err)
	}

	list, err := findContainer(root)
	if err != nil {
		return nil, err
	}

	res := make([]Transaction, 0, len(list))
	for i, raw := range list {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			return nil, fmt.Errorf("%w: transaction %d is not an object", ErrResponseFormat, i)
		}
		res = append(res, Transaction{
			Memo:   extractMemo(fields),
			Amount: extractAmount(fields),
		})
	}

	return res, nil
}

func findContainer(root map[string]json.RawMessage) ([]json.RawMessage, error) {
	for _, path := range containerAliases {
		raw, ok := lookup(root, path)
		if !ok {
			continue
		}

		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %s is not a list", ErrResponseFormat, strings.Join(path, "."))
		}
		return list, nil
	}

	return nil, fmt.Errorf("%w: no transaction list found", ErrResponseFormat)
}

// lookup возвращает значение по пути, считая null отсутствующим значением.
func lookup(root map[string]json.RawMessage, path []string) (json.RawMessage, bool) {
	cur := root
	for i, key := range path {
		raw, ok := cur[key]
		if !ok || isNull(raw) {
			return nil, false
		}
		if i == len(path)-1 {
			return raw, true
		}
		var next map[string]json.RawMessage
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func extractMemo(fields map[string]json.RawMessage) string {
	for _, key := range memoAliases {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			continue
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		return string(bytes.TrimSpace(raw))
	}
	return ""
}

// extractAmount берёт первое непустое и ненулевое значение суммы; число или строка.
func extractAmount(fields map[string]json.RawMessage) decimal.Decimal {
	for _, key := range amountAliases {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			continue
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if strings.TrimSpace(s) == "" {
				continue
			}
			d, err := decimal.NewFromString(strings.TrimSpace(s))
			if err != nil {
				return decimal.Zero
			}
			return d
		}

		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			d, err := decimal.NewFromString(n.String())
			if err != nil || d.IsZero() {
				continue
			}
			return d
		}
	}
	return decimal.Zero
}
