// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/mmo-shop/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ с указанным идентификатором не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderCodeTaken возвращается, если сгенерированный код заказа уже занят.
	ErrOrderCodeTaken = errors.New("order code already taken")
)

const orderColumns = `id, order_code, buyer_id, total_amount, status, expires_at, admin_note, created_at`

// PostgresRepository предоставляет доступ к заказам и складу в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CountAvailable возвращает число единиц товара в статусе AVAILABLE.
func (r *PostgresRepository) CountAvailable(ctx context.Context, productID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM inventory WHERE product_id = $1 AND status = $2`,
		productID, string(model.UnitStatusAvailable),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available: %w", err)
	}
	return n, nil
}

// CreateOrder сохраняет заголовок заказа и его позиции в одной транзакции.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.Order, items []model.OrderItem) error {
	return r.withRetry(ctx, func() error {
		return r.createOrder(ctx, o, items)
	})
}

func (r *PostgresRepository) createOrder(ctx context.Context, o model.Order, items []model.OrderItem) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, order_code, buyer_id, total_amount, status, expires_at, admin_note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.Code, o.BuyerID, o.TotalAmount, string(o.Status), o.ExpiresAt, o.AdminNote, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrOrderCodeTaken, o.Code)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal) VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.ProductID, it.Quantity, it.UnitPrice, it.Subtotal,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.Code, &o.BuyerID, &o.TotalAmount, &status, &o.ExpiresAt, &o.AdminNote, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrderItems возвращает позиции заказа.
func (r *PostgresRepository) GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, product_id, quantity, unit_price, subtotal
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func (r *PostgresRepository) queryOrders(ctx context.Context, sql string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// ListOrdersByBuyer возвращает заказы покупателя, начиная с новых.
func (r *PostgresRepository) ListOrdersByBuyer(ctx context.Context, buyerID uuid.UUID) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`,
		buyerID,
	)
}

// ListOrders возвращает заказы по фильтру, начиная с новых.
// Query сравнивается с кодом заказа по подстроке без учёта регистра и с buyer_id на точное совпадение.
func (r *PostgresRepository) ListOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Query != "" {
		args = append(args, filter.Query)
		conds = append(conds, fmt.Sprintf("(order_code ILIKE '%%' || $%[1]d::text || '%%' OR buyer_id::text = lower($%[1]d::text))", len(args)))
	}

	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		sql += ` WHERE ` + strings.Join(conds, " AND ")
	}
	return r.queryOrders(ctx, sql+` ORDER BY created_at DESC`, args...)
}

// TransitionStatus переводит заказ из статуса from в статус to, только если текущий статус равен from.
// note, если не nil, записывается в admin_note. Возвращает false, если статус не совпал,
// и InvalidTransitionError, если переход from -> to не предусмотрен жизненным циклом.
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus, note *string) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, &model.InvalidTransitionError{OrderID: id, From: from, To: to}
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $3, admin_note = COALESCE($4, admin_note), updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), note,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// ExpireOrder отменяет заказ, если он всё ещё ожидает оплаты и срок оплаты истёк к моменту now.
func (r *PostgresRepository) ExpireOrder(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2, admin_note = $3, updated_at = now()
		 WHERE id = $1 AND status = $4 AND expires_at <= $5`,
		id, string(model.OrderStatusCancelled), model.AutoCancelNote, string(model.OrderStatusPendingPayment), now,
	)
	if err != nil {
		return false, fmt.Errorf("expire order: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// ExpireOverdue отменяет все просроченные заказы, ожидающие оплаты, и возвращает их.
func (r *PostgresRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]model.Order, error) {
	var res []model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		res, err = r.queryOrders(ctx,
			`UPDATE orders
			 SET status = $1, admin_note = $2, updated_at = now()
			 WHERE status = $3 AND expires_at <= $4
			 RETURNING `+orderColumns,
			string(model.OrderStatusCancelled), model.AutoCancelNote, string(model.OrderStatusPendingPayment), now,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("expire overdue orders: %w", err)
	}
	return res, nil
}

// ApproveOrder в одной транзакции выделяет аккаунты под все позиции заказа и переводит его в COMPLETED.
// При нехватке аккаунтов по любой позиции изменения не сохраняются.
func (r *PostgresRepository) ApproveOrder(ctx context.Context, id uuid.UUID) ([]model.InventoryUnit, error) {
	var units []model.InventoryUnit
	err := r.withRetry(ctx, func() error {
		var err error
		units, err = r.approveOrder(ctx, id)
		return err
	})
	return units, err
}

func (r *PostgresRepository) approveOrder(ctx context.Context, id uuid.UUID) ([]model.InventoryUnit, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем строку заказа: параллельное одобрение того же заказа ждёт и видит уже новый статус.
	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order for update: %w", err)
	}

	if model.OrderStatus(status) != model.OrderStatusWaitingApproval {
		return nil, &model.InvalidTransitionError{OrderID: id, From: model.OrderStatus(status), To: model.OrderStatusCompleted}
	}

	rows, err := tx.Query(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id = $1 ORDER BY product_id`, id)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	type line struct {
		productID int64
		qty       int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.qty); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	var delivered []model.InventoryUnit
	for _, l := range lines {
		units, err := allocate(ctx, tx, id, l.productID, l.qty)
		if err != nil {
			return nil, err
		}
		delivered = append(delivered, units...)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(model.OrderStatusCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("complete order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return delivered, nil
}

// allocate выбирает qty доступных аккаунтов товара, помечает их DELIVERED и привязывает к заказу.
// Рекомендательная блокировка по товару сериализует выделение между транзакциями.
func allocate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, productID int64, qty int) ([]model.InventoryUnit, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, productID); err != nil {
		return nil, fmt.Errorf("lock product %d: %w", productID, err)
	}

	rows, err := tx.Query(ctx,
		`SELECT id, content, created_at
		 FROM inventory
		 WHERE product_id = $1 AND status = $2
		 ORDER BY id
		 LIMIT $3
		 FOR UPDATE`,
		productID, string(model.UnitStatusAvailable), qty,
	)
	if err != nil {
		return nil, fmt.Errorf("select available units: %w", err)
	}

	var (
		units []model.InventoryUnit
		ids   []int64
	)
	for rows.Next() {
		u := model.InventoryUnit{ProductID: productID, Status: model.UnitStatusDelivered}
		if err := rows.Scan(&u.ID, &u.Content, &u.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, u)
		ids = append(ids, u.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(units) < qty {
		return nil, &model.InsufficientStockError{ProductID: productID, Requested: qty, Available: len(units)}
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE inventory
		 SET status = $1, order_id = $2, delivered_at = now()
		 WHERE id = ANY($3) AND status = $4`,
		string(model.UnitStatusDelivered), orderID, ids, string(model.UnitStatusAvailable),
	)
	if err != nil {
		return nil, fmt.Errorf("deliver units: %w", err)
	}
	if int(cmdTag.RowsAffected()) != qty {
		return nil, &model.InsufficientStockError{ProductID: productID, Requested: qty, Available: int(cmdTag.RowsAffected())}
	}

	deliveredAt := time.Now().UTC()
	for i := range units {
		oid := orderID
		units[i].OrderID = &oid
		units[i].DeliveredAt = &deliveredAt
	}

	return units, nil
}

// ImportUnits добавляет на склад новые аккаунты товара и возвращает число добавленных.
func (r *PostgresRepository) ImportUnits(ctx context.Context, productID int64, contents []string) (int, error) {
	rows := make([][]any, 0, len(contents))
	for _, c := range contents {
		rows = append(rows, []any{productID, c, string(model.UnitStatusAvailable)})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"inventory"},
		[]string{"product_id", "content", "status"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("import units: %w", err)
	}
	return int(n), nil
}

// UnitsByOrder возвращает аккаунты, выданные по заказу.
func (r *PostgresRepository) UnitsByOrder(ctx context.Context, orderID uuid.UUID) ([]model.InventoryUnit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, content, status, order_id, created_at, delivered_at
		 FROM inventory
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select units: %w", err)
	}
	defer rows.Close()

	var res []model.InventoryUnit
	for rows.Next() {
		var (
			u      model.InventoryUnit
			status string
		)
		if err := rows.Scan(&u.ID, &u.ProductID, &u.Content, &status, &u.OrderID, &u.CreatedAt, &u.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		u.Status = model.UnitStatus(status)
		res = append(res, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
