package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mmeshcher/mmo-shop/internal/model"
)

func setupRepo(t *testing.T) *PostgresRepository {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mmoshop"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgC.Terminate(context.Background())
	})

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	repo, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})

	return repo
}

func newPendingOrder(code string, expiresAt time.Time, lines ...model.CartLine) (model.Order, []model.OrderItem) {
	id := uuid.New()
	items := make([]model.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, model.NewOrderItem(id, l.ProductID, l.Quantity, l.UnitPrice))
	}
	return model.Order{
		ID:          id,
		Code:        code,
		BuyerID:     uuid.New(),
		TotalAmount: model.SumSubtotals(items),
		Status:      model.OrderStatusPendingPayment,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}, items
}

func TestPostgresRepository(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	price := decimal.NewFromInt(25000)

	t.Run("create and read order", func(t *testing.T) {
		o, items := newPendingOrder("MMO-CREATE", time.Now().Add(5*time.Minute),
			model.CartLine{ProductID: 1, Quantity: 2, UnitPrice: price},
			model.CartLine{ProductID: 2, Quantity: 1, UnitPrice: decimal.NewFromInt(1000)},
		)
		require.NoError(t, repo.CreateOrder(ctx, o, items))

		got, err := repo.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.Code, got.Code)
		assert.Equal(t, model.OrderStatusPendingPayment, got.Status)
		assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(51000)), "total = %s", got.TotalAmount)

		gotItems, err := repo.GetOrderItems(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, gotItems, 2)
		assert.True(t, model.SumSubtotals(gotItems).Equal(got.TotalAmount))

		list, err := repo.ListOrdersByBuyer(ctx, o.BuyerID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("duplicate code is rejected atomically", func(t *testing.T) {
		first, items := newPendingOrder("MMO-DUP001", time.Now().Add(time.Minute),
			model.CartLine{ProductID: 1, Quantity: 1, UnitPrice: price})
		require.NoError(t, repo.CreateOrder(ctx, first, items))

		second, items2 := newPendingOrder("MMO-DUP001", time.Now().Add(time.Minute),
			model.CartLine{ProductID: 1, Quantity: 1, UnitPrice: price})
		err := repo.CreateOrder(ctx, second, items2)
		assert.ErrorIs(t, err, ErrOrderCodeTaken)

		_, err = repo.GetOrder(ctx, second.ID)
		assert.ErrorIs(t, err, ErrOrderNotFound)
		leftovers, err := repo.GetOrderItems(ctx, second.ID)
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("import and count", func(t *testing.T) {
		n, err := repo.ImportUnits(ctx, 100, []string{"a@gmail.com|pass1", "b@gmail.com|pass2"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		available, err := repo.CountAvailable(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, 2, available)
	})

	t.Run("transition is compare-and-set", func(t *testing.T) {
		o, items := newPendingOrder("MMO-CAS001", time.Now().Add(time.Minute),
			model.CartLine{ProductID: 1, Quantity: 1, UnitPrice: price})
		require.NoError(t, repo.CreateOrder(ctx, o, items))

		ok, err := repo.TransitionStatus(ctx, o.ID, model.OrderStatusPendingPayment, model.OrderStatusWaitingApproval, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.TransitionStatus(ctx, o.ID, model.OrderStatusPendingPayment, model.OrderStatusWaitingApproval, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("transition outside lifecycle is refused", func(t *testing.T) {
		o, items := newPendingOrder("MMO-SKIP01", time.Now().Add(time.Minute),
			model.CartLine{ProductID: 1, Quantity: 1, UnitPrice: price})
		require.NoError(t, repo.CreateOrder(ctx, o, items))

		ok, err := repo.TransitionStatus(ctx, o.ID, model.OrderStatusPendingPayment, model.OrderStatusCompleted, nil)
		assert.False(t, ok)
		var te *model.InvalidTransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, model.OrderStatusPendingPayment, te.From)

		got, err := repo.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPendingPayment, got.Status)
	})

	t.Run("admin listing filters by code and buyer", func(t *testing.T) {
		o, items := newPendingOrder("MMO-FIND42", time.Now().Add(time.Minute),
			model.CartLine{ProductID: 1, Quantity: 1, UnitPrice: price})
		require.NoError(t, repo.CreateOrder(ctx, o, items))

		byCode, err := repo.ListOrders(ctx, model.OrderFilter{Query: "find4"})
		require.NoError(t, err)
		require.Len(t, byCode, 1)
		assert.Equal(t, o.ID, byCode[0].ID)

		byBuyer, err := repo.ListOrders(ctx, model.OrderFilter{Query: o.BuyerID.String()})
		require.NoError(t, err)
		require.Len(t, byBuyer, 1)
		assert.Equal(t, o.Code, byBuyer[0].Code)

		none, err := repo.ListOrders(ctx, model.OrderFilter{Status: model.OrderStatusCompleted, Query: "FIND42"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("sweep cancels only overdue pending orders", func(t *testing.T) {
		now := time.Now().UTC()
		overdue, items := newPendingOrder("MMO-SWEEP1", now.Add(-time.Second),
			model.CartLine{ProductID: 1, Quantity: 1, UnitPrice: price})
		require.NoError(t, repo.CreateOrder(ctx, overdue, items))

		confirmed, items2 := newPendingOrder("MMO-SWEEP2", now.Add(-time.Second),
			model.CartLine{ProductID: 1, Quantity: 1, UnitPrice: price})
		require.NoError(t, repo.CreateOrder(ctx, confirmed, items2))
		_, err := repo.TransitionStatus(ctx, confirmed.ID, model.OrderStatusPendingPayment, model.OrderStatusWaitingApproval, nil)
		require.NoError(t, err)

		cancelled, err := repo.ExpireOverdue(ctx, now)
		require.NoError(t, err)

		ids := map[uuid.UUID]bool{}
		for _, o := range cancelled {
			ids[o.ID] = true
		}
		assert.True(t, ids[overdue.ID])
		assert.False(t, ids[confirmed.ID])

		got, err := repo.GetOrder(ctx, overdue.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusCancelled, got.Status)
		assert.Equal(t, model.AutoCancelNote, got.AdminNote)

		again, err := repo.ExpireOrder(ctx, overdue.ID, now)
		require.NoError(t, err)
		assert.False(t, again)
	})

	t.Run("approve is all or nothing", func(t *testing.T) {
		_, err := repo.ImportUnits(ctx, 200, []string{"fb-1"})
		require.NoError(t, err)

		o, items := newPendingOrder("MMO-APPRV1", time.Now().Add(time.Minute),
			model.CartLine{ProductID: 200, Quantity: 1, UnitPrice: price},
			model.CartLine{ProductID: 201, Quantity: 1, UnitPrice: price},
		)
		require.NoError(t, repo.CreateOrder(ctx, o, items))
		_, err = repo.TransitionStatus(ctx, o.ID, model.OrderStatusPendingPayment, model.OrderStatusWaitingApproval, nil)
		require.NoError(t, err)

		_, err = repo.ApproveOrder(ctx, o.ID)
		var stockErr *model.InsufficientStockError
		require.True(t, errors.As(err, &stockErr), "err = %v", err)
		assert.Equal(t, int64(201), stockErr.ProductID)

		available, err := repo.CountAvailable(ctx, 200)
		require.NoError(t, err)
		assert.Equal(t, 1, available)
		got, err := repo.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusWaitingApproval, got.Status)

		_, err = repo.ImportUnits(ctx, 201, []string{"tt-1"})
		require.NoError(t, err)

		units, err := repo.ApproveOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Len(t, units, 2)

		bound, err := repo.UnitsByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, bound, 2)
		for _, u := range bound {
			assert.Equal(t, model.UnitStatusDelivered, u.Status)
			require.NotNil(t, u.OrderID)
			assert.Equal(t, o.ID, *u.OrderID)
		}

		_, err = repo.ApproveOrder(ctx, o.ID)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("concurrent approvals never oversell", func(t *testing.T) {
		_, err := repo.ImportUnits(ctx, 300, []string{"only-one"})
		require.NoError(t, err)

		var ids []uuid.UUID
		for _, code := range []string{"MMO-RACE01", "MMO-RACE02"} {
			o, items := newPendingOrder(code, time.Now().Add(time.Minute),
				model.CartLine{ProductID: 300, Quantity: 1, UnitPrice: price})
			require.NoError(t, repo.CreateOrder(ctx, o, items))
			_, err := repo.TransitionStatus(ctx, o.ID, model.OrderStatusPendingPayment, model.OrderStatusWaitingApproval, nil)
			require.NoError(t, err)
			ids = append(ids, o.ID)
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for _, id := range ids {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				if _, err := repo.ApproveOrder(ctx, id); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(id)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		available, err := repo.CountAvailable(ctx, 300)
		require.NoError(t, err)
		assert.Equal(t, 0, available)
	})
}
