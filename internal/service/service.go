// Package service реализует жизненный цикл заказа: создание, проверку оплаты, одобрение и истечение срока.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/mmo-shop/internal/events"
	"github.com/mmeshcher/mmo-shop/internal/model"
	"github.com/mmeshcher/mmo-shop/internal/payment"
	"github.com/mmeshcher/mmo-shop/internal/ratelimit"
	"github.com/mmeshcher/mmo-shop/internal/repository"
	"github.com/mmeshcher/mmo-shop/internal/validation"
)

// DefaultPaymentWindow используется, если окно оплаты не задано в конфигурации.
const DefaultPaymentWindow = 5 * time.Minute

var (
	// ErrInvalidCart возвращается при некорректном содержимом корзины.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrRejectReasonRequired возвращается при отклонении заказа без причины.
	ErrRejectReasonRequired = errors.New("reject reason is required")
	// ErrOrderCodeExhausted возвращается, если не удалось подобрать свободный код заказа.
	ErrOrderCodeExhausted = errors.New("could not generate a unique order code")
	// ErrNothingToImport возвращается, если в импорте нет ни одного аккаунта.
	ErrNothingToImport = errors.New("nothing to import")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CountAvailable(ctx context.Context, productID int64) (int, error)
	CreateOrder(ctx context.Context, o model.Order, items []model.OrderItem) error
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error)
	ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID) ([]model.Order, error)
	ListOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus, note *string) (bool, error)
	ExpireOrder(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ExpireOverdue(ctx context.Context, now time.Time) ([]model.Order, error)
	ApproveOrder(ctx context.Context, id uuid.UUID) ([]model.InventoryUnit, error)
	ImportUnits(ctx context.Context, productID int64, contents []string) (int, error)
	UnitsByOrder(ctx context.Context, orderID uuid.UUID) ([]model.InventoryUnit, error)
}

// PaymentVerifier проверяет поступление оплаты по коду заказа.
type PaymentVerifier interface {
	Verify(ctx context.Context, orderCode string, expected decimal.Decimal) (payment.Result, error)
}

// Options содержит необязательные зависимости и параметры сервиса.
type Options struct {
	PaymentWindow time.Duration
	Publisher     events.Publisher
	Cooldown      ratelimit.Cooldown
	Logger        *zap.Logger
}

// Service координирует переходы заказа между статусами.
type Service struct {
	repo          Repository
	verifier      PaymentVerifier
	publisher     events.Publisher
	cooldown      ratelimit.Cooldown
	logger        *zap.Logger
	paymentWindow time.Duration

	now     func() time.Time
	newCode func() (string, error)
}

// NewService создаёт новый сервис с указанным репозиторием и верификатором оплаты.
func NewService(repo Repository, verifier PaymentVerifier, opts Options) *Service {
	s := &Service{
		repo:          repo,
		verifier:      verifier,
		publisher:     opts.Publisher,
		cooldown:      opts.Cooldown,
		logger:        opts.Logger,
		paymentWindow: opts.PaymentWindow,
		now:           func() time.Time { return time.Now().UTC() },
		newCode:       NewOrderCode,
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.cooldown == nil {
		s.cooldown = ratelimit.NopCooldown{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.paymentWindow <= 0 {
		s.paymentWindow = DefaultPaymentWindow
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CountAvailable возвращает число доступных аккаунтов товара.
func (s *Service) CountAvailable(ctx context.Context, productID int64) (int, error) {
	return s.repo.CountAvailable(ctx, productID)
}

// CreateOrder создаёт заказ из корзины после проверки актуальных остатков.
func (s *Service) CreateOrder(ctx context.Context, buyerID uuid.UUID, cart model.Cart) (*model.OrderDetail, error) {
	if err := validation.ValidateCart(cart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCart, err)
	}

	lines := cart.Merged()
	for _, l := range lines {
		available, err := s.repo.CountAvailable(ctx, l.ProductID)
		if err != nil {
			return nil, err
		}
		if available < l.Quantity {
			return nil, &model.StockUnavailableError{ProductID: l.ProductID, Requested: l.Quantity, Available: available}
		}
	}

	now := s.now()
	order := model.Order{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		Status:    model.OrderStatusPendingPayment,
		ExpiresAt: now.Add(s.paymentWindow),
		CreatedAt: now,
	}

	items := make([]model.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, model.NewOrderItem(order.ID, l.ProductID, l.Quantity, l.UnitPrice))
	}
	order.TotalAmount = model.SumSubtotals(items)

	created := false
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		if !validation.IsValidOrderCode(code) {
			return nil, fmt.Errorf("generated malformed order code %q", code)
		}
		order.Code = code

		err = s.repo.CreateOrder(ctx, order, items)
		if errors.Is(err, repository.ErrOrderCodeTaken) {
			s.logger.Info("order code collision, regenerating", zap.String("code", code))
			continue
		}
		if err != nil {
			return nil, err
		}
		created = true
		break
	}
	if !created {
		return nil, ErrOrderCodeExhausted
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("code", order.Code),
		zap.String("total", order.TotalAmount.String()),
	)
	s.publish(ctx, events.TypeOrderCreated, order)

	return &model.OrderDetail{Order: order, Items: items}, nil
}

// ConfirmPayment проверяет поступление оплаты по коду и сумме заказа и переводит его в WAITING_APPROVAL.
// Если оплата ещё не найдена, заказ остаётся в PENDING_PAYMENT, а причина возвращается в Result.
func (s *Service) ConfirmPayment(ctx context.Context, buyerID, orderID uuid.UUID) (*model.Order, payment.Result, error) {
	o, err := s.buyerOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, payment.Result{}, err
	}

	if !model.CanTransition(o.Status, model.OrderStatusWaitingApproval) {
		return nil, payment.Result{}, &model.InvalidTransitionError{OrderID: o.ID, From: o.Status, To: model.OrderStatusWaitingApproval}
	}

	if !s.now().Before(o.ExpiresAt) {
		cancelled, err := s.expire(ctx, o)
		if err != nil {
			return nil, payment.Result{}, err
		}
		if !cancelled {
			return nil, payment.Result{}, s.transitionError(ctx, o.ID, model.OrderStatusWaitingApproval)
		}
		return nil, payment.Result{}, &model.InvalidTransitionError{OrderID: o.ID, From: model.OrderStatusCancelled, To: model.OrderStatusWaitingApproval}
	}

	if err := s.cooldown.Acquire(ctx, o.ID.String()); err != nil {
		return nil, payment.Result{}, err
	}

	res, err := s.verifier.Verify(ctx, o.Code, o.TotalAmount)
	if err != nil {
		if errors.Is(err, payment.ErrResponseFormat) {
			s.logger.Error("bank feed format error", zap.Error(err), zap.String("order_id", o.ID.String()))
		} else {
			s.logger.Warn("payment verification failed", zap.Error(err), zap.String("order_id", o.ID.String()))
		}
		return nil, payment.Result{}, err
	}

	if !res.Matched {
		s.logger.Info("payment not found yet", zap.String("order_id", o.ID.String()), zap.String("code", o.Code))
		return o, res, nil
	}

	// CAS только по статусу: окно проверено до запроса к ленте, и перевод, найденный в ней, уже пришёл вовремя.
	ok, err := s.repo.TransitionStatus(ctx, o.ID, model.OrderStatusPendingPayment, model.OrderStatusWaitingApproval, nil)
	if err != nil {
		return nil, payment.Result{}, err
	}
	if !ok {
		return nil, payment.Result{}, s.transitionError(ctx, o.ID, model.OrderStatusWaitingApproval)
	}

	o.Status = model.OrderStatusWaitingApproval
	s.logger.Info("payment confirmed", zap.String("order_id", o.ID.String()), zap.String("code", o.Code))
	s.publish(ctx, events.TypeOrderPaymentConfirmed, *o)

	return o, res, nil
}

// ExpireIfOverdue отменяет заказ покупателя, если окно оплаты истекло. Повторный вызов ничего не меняет.
func (s *Service) ExpireIfOverdue(ctx context.Context, buyerID, orderID uuid.UUID) (bool, error) {
	o, err := s.buyerOrder(ctx, buyerID, orderID)
	if err != nil {
		return false, err
	}
	if !model.CanTransition(o.Status, model.OrderStatusCancelled) {
		return false, nil
	}
	return s.expire(ctx, o)
}

func (s *Service) expire(ctx context.Context, o *model.Order) (bool, error) {
	cancelled, err := s.repo.ExpireOrder(ctx, o.ID, s.now())
	if err != nil {
		return false, err
	}
	if cancelled {
		o.Status = model.OrderStatusCancelled
		o.AdminNote = model.AutoCancelNote
		s.logger.Info("order expired", zap.String("order_id", o.ID.String()))
		s.publish(ctx, events.TypeOrderCancelled, *o)
	}
	return cancelled, nil
}

// SweepExpired отменяет все заказы, срок оплаты которых истёк.
func (s *Service) SweepExpired(ctx context.Context) ([]model.Order, error) {
	cancelled, err := s.repo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return nil, err
	}

	if len(cancelled) > 0 {
		s.logger.Info("expired orders cancelled", zap.Int("count", len(cancelled)))
	}
	for _, o := range cancelled {
		s.publish(ctx, events.TypeOrderCancelled, o)
	}

	return cancelled, nil
}

// RunExpirySweep периодически отменяет просроченные заказы до отмены контекста.
func (s *Service) RunExpirySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Approve выдаёт аккаунты по всем позициям заказа и переводит его в COMPLETED.
func (s *Service) Approve(ctx context.Context, orderID uuid.UUID) (*model.OrderDetail, error) {
	units, err := s.repo.ApproveOrder(ctx, orderID)
	if err != nil {
		var stockErr *model.InsufficientStockError
		if errors.As(err, &stockErr) {
			s.logger.Warn("approval blocked by stock",
				zap.String("order_id", orderID.String()),
				zap.Int64("product_id", stockErr.ProductID),
				zap.Int("requested", stockErr.Requested),
				zap.Int("available", stockErr.Available),
			)
		}
		return nil, err
	}

	detail, err := s.detail(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(detail.Delivered) == 0 {
		detail.Delivered = units
	}

	s.logger.Info("order approved", zap.String("order_id", orderID.String()), zap.Int("units", len(units)))
	s.publish(ctx, events.TypeOrderCompleted, detail.Order)

	return detail, nil
}

// Reject отклоняет заказ, ожидающий одобрения, с указанием причины.
func (s *Service) Reject(ctx context.Context, orderID uuid.UUID, reason string) (*model.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrRejectReasonRequired
	}

	current, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(current.Status, model.OrderStatusRejected) {
		return nil, &model.InvalidTransitionError{OrderID: orderID, From: current.Status, To: model.OrderStatusRejected}
	}

	ok, err := s.repo.TransitionStatus(ctx, orderID, model.OrderStatusWaitingApproval, model.OrderStatusRejected, &reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, orderID, model.OrderStatusRejected)
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order rejected", zap.String("order_id", orderID.String()), zap.String("reason", reason))
	s.publish(ctx, events.TypeOrderRejected, *o)

	return o, nil
}

// GetOrder возвращает заказ покупателя с позициями и выданными аккаунтами.
func (s *Service) GetOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*model.OrderDetail, error) {
	if _, err := s.buyerOrder(ctx, buyerID, orderID); err != nil {
		return nil, err
	}
	return s.detail(ctx, orderID)
}

// GetOrderAdmin возвращает любой заказ с позициями и выданными аккаунтами.
func (s *Service) GetOrderAdmin(ctx context.Context, orderID uuid.UUID) (*model.OrderDetail, error) {
	return s.detail(ctx, orderID)
}

// ListBuyerOrders возвращает заказы покупателя.
func (s *Service) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID) ([]model.Order, error) {
	return s.repo.ListOrdersByBuyer(ctx, buyerID)
}

// ListAdminOrders отменяет просроченные заказы и возвращает список по фильтру статуса и поисковой строке.
func (s *Service) ListAdminOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	if _, err := s.SweepExpired(ctx); err != nil {
		s.logger.Warn("expiry sweep before listing failed", zap.Error(err))
	}
	filter.Query = strings.TrimSpace(filter.Query)
	return s.repo.ListOrders(ctx, filter)
}

// ImportInventory добавляет аккаунты товара на склад, пропуская пустые строки.
func (s *Service) ImportInventory(ctx context.Context, productID int64, contents []string) (int, error) {
	cleaned := make([]string, 0, len(contents))
	for _, c := range contents {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return 0, ErrNothingToImport
	}

	n, err := s.repo.ImportUnits(ctx, productID, cleaned)
	if err != nil {
		return 0, err
	}

	s.logger.Info("inventory imported", zap.Int64("product_id", productID), zap.Int("count", n))
	return n, nil
}

func (s *Service) buyerOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != buyerID {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) detail(ctx context.Context, orderID uuid.UUID) (*model.OrderDetail, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	d := &model.OrderDetail{Order: *o, Items: items}
	if o.Status == model.OrderStatusCompleted {
		d.Delivered, err = s.repo.UnitsByOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
	}

	return d, nil
}

// transitionError перечитывает заказ после неудачного перехода и сообщает его фактический статус.
func (s *Service) transitionError(ctx context.Context, orderID uuid.UUID, to model.OrderStatus) error {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return &model.InvalidTransitionError{OrderID: orderID, From: o.Status, To: to}
}

func (s *Service) publish(ctx context.Context, eventType string, o model.Order) {
	if err := s.publisher.Publish(ctx, eventType, o); err != nil {
		s.logger.Warn("publish order event failed",
			zap.Error(err),
			zap.String("event", eventType),
			zap.String("order_id", o.ID.String()),
		)
	}
}
