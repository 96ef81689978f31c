// Package payment проверяет поступление банковских переводов по ленте транзакций.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTransactionLimit задаёт число последних транзакций, запрашиваемых у ленты.
const DefaultTransactionLimit = 20

// ErrNotConfigured возвращается, если не заданы ключ API или номер счёта.
var ErrNotConfigured = errors.New("bank feed is not configured")

// UpstreamError описывает недоступность ленты или ответ с кодом, отличным от 2xx.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bank feed unreachable: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("bank feed returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("bank feed returned HTTP %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Transaction описывает входящий перевод из ленты.
type Transaction struct {
	Memo   string
	Amount decimal.Decimal
}

// ClientConfig содержит параметры подключения к ленте транзакций.
type ClientConfig struct {
	URL           string
	AccountNumber string
	APIKey        string
	Limit         int
}

// Client инкапсулирует HTTP-взаимодействие с лентой банковских транзакций.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент ленты транзакций.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultTransactionLimit
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FetchTransactions запрашивает последние транзакции по настроенному счёту.
func (c *Client) FetchTransactions(ctx context.Context) ([]Transaction, error) {
	if c == nil || c.cfg.APIKey == "" || c.cfg.AccountNumber == "" || c.cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	base := c.cfg.URL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed url: %v", ErrNotConfigured, err)
	}
	q := u.Query()
	q.Set("account_number", c.cfg.AccountNumber)
	q.Set("limit", strconv.Itoa(c.cfg.Limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &errBody)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: errBody.Message}
	}

	return ParseTransactions(body)
}
