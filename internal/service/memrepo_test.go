package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/mmo-shop/internal/model"
	"github.com/mmeshcher/mmo-shop/internal/repository"
)

// memRepo повторяет семантику PostgresRepository в памяти: CAS по статусу и атомарное одобрение.
type memRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]model.Order
	items  map[uuid.UUID][]model.OrderItem
	units  []model.InventoryUnit
	nextID int64

	createErr error
	// beforeExpire вызывается до захвата блокировки в ExpireOrder.
	beforeExpire func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders: map[uuid.UUID]model.Order{},
		items:  map[uuid.UUID][]model.OrderItem{},
	}
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) CountAvailable(ctx context.Context, productID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countAvailableLocked(productID), nil
}

func (r *memRepo) countAvailableLocked(productID int64) int {
	n := 0
	for _, u := range r.units {
		if u.ProductID == productID && u.Status == model.UnitStatusAvailable {
			n++
		}
	}
	return n
}

func (r *memRepo) CreateOrder(ctx context.Context, o model.Order, items []model.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.orders {
		if existing.Code == o.Code {
			return repository.ErrOrderCodeTaken
		}
	}
	r.orders[o.ID] = o
	r.items[o.ID] = append([]model.OrderItem(nil), items...)
	return nil
}

func (r *memRepo) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (r *memRepo) GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.OrderItem(nil), r.items[orderID]...), nil
}

func (r *memRepo) sorted(filter func(model.Order) bool) []model.Order {
	var res []model.Order
	for _, o := range r.orders {
		if filter(o) {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res
}

func (r *memRepo) ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(o model.Order) bool { return o.BuyerID == buyerID }), nil
}

func (r *memRepo) ListOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(o model.Order) bool {
		if filter.Status != "" && o.Status != filter.Status {
			return false
		}
		if filter.Query == "" {
			return true
		}
		return strings.Contains(strings.ToUpper(o.Code), strings.ToUpper(filter.Query)) ||
			strings.EqualFold(o.BuyerID.String(), filter.Query)
	}), nil
}

func (r *memRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus, note *string) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, &model.InvalidTransitionError{OrderID: id, From: from, To: to}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if note != nil {
		o.AdminNote = *note
	}
	r.orders[id] = o
	return true, nil
}

func (r *memRepo) ExpireOrder(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	if r.beforeExpire != nil {
		r.beforeExpire()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok || o.Status != model.OrderStatusPendingPayment || o.ExpiresAt.After(now) {
		return false, nil
	}
	o.Status = model.OrderStatusCancelled
	o.AdminNote = model.AutoCancelNote
	r.orders[id] = o
	return true, nil
}

func (r *memRepo) ExpireOverdue(ctx context.Context, now time.Time) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for id, o := range r.orders {
		if o.Status == model.OrderStatusPendingPayment && !o.ExpiresAt.After(now) {
			o.Status = model.OrderStatusCancelled
			o.AdminNote = model.AutoCancelNote
			r.orders[id] = o
			res = append(res, o)
		}
	}
	return res, nil
}

func (r *memRepo) ApproveOrder(ctx context.Context, id uuid.UUID) ([]model.InventoryUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if o.Status != model.OrderStatusWaitingApproval {
		return nil, &model.InvalidTransitionError{OrderID: id, From: o.Status, To: model.OrderStatusCompleted}
	}

	// Сначала проверяем все позиции, затем применяем изменения.
	picked := map[int]bool{}
	for _, it := range r.items[id] {
		var got []int
		for i, u := range r.units {
			if len(got) == it.Quantity {
				break
			}
			if u.ProductID == it.ProductID && u.Status == model.UnitStatusAvailable && !picked[i] {
				got = append(got, i)
			}
		}
		if len(got) < it.Quantity {
			return nil, &model.InsufficientStockError{ProductID: it.ProductID, Requested: it.Quantity, Available: len(got)}
		}
		for _, i := range got {
			picked[i] = true
		}
	}

	now := time.Now().UTC()
	var delivered []model.InventoryUnit
	for i := range r.units {
		if !picked[i] {
			continue
		}
		oid := id
		r.units[i].Status = model.UnitStatusDelivered
		r.units[i].OrderID = &oid
		r.units[i].DeliveredAt = &now
		delivered = append(delivered, r.units[i])
	}

	o.Status = model.OrderStatusCompleted
	r.orders[id] = o
	return delivered, nil
}

func (r *memRepo) ImportUnits(ctx context.Context, productID int64, contents []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range contents {
		r.nextID++
		r.units = append(r.units, model.InventoryUnit{
			ID:        r.nextID,
			ProductID: productID,
			Content:   c,
			Status:    model.UnitStatusAvailable,
			CreatedAt: time.Now().UTC(),
		})
	}
	return len(contents), nil
}

func (r *memRepo) UnitsByOrder(ctx context.Context, orderID uuid.UUID) ([]model.InventoryUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.InventoryUnit
	for _, u := range r.units {
		if u.OrderID != nil && *u.OrderID == orderID {
			res = append(res, u)
		}
	}
	return res, nil
}

func (r *memRepo) deliveredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, u := range r.units {
		if u.Status == model.UnitStatusDelivered {
			n++
		}
	}
	return n
}
