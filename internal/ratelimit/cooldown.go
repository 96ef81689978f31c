// Package ratelimit ограничивает частоту повторных проверок оплаты.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTooManyAttempts возвращается, если попытка сделана до истечения паузы.
var ErrTooManyAttempts = errors.New("too many attempts, retry later")

// KeyConfirmCooldown задаёт ключ паузы между проверками оплаты заказа: confirm:cooldown:{order_id}.
const KeyConfirmCooldown = "confirm:cooldown:%s"

// Cooldown разрешает не более одной попытки на ключ в течение заданного интервала.
type Cooldown interface {
	Acquire(ctx context.Context, key string) error
}

// NopCooldown не ограничивает попытки.
type NopCooldown struct{}

// Acquire всегда разрешает попытку.
func (NopCooldown) Acquire(context.Context, string) error { return nil }

// RedisCooldown хранит паузы в Redis, поэтому ограничение общее для всех экземпляров сервиса.
type RedisCooldown struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient создаёт клиента Redis по адресу.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})
}

// NewRedisCooldown создаёт ограничитель с паузой ttl.
func NewRedisCooldown(rdb *redis.Client, ttl time.Duration) *RedisCooldown {
	return &RedisCooldown{rdb: rdb, ttl: ttl}
}

// Acquire резервирует попытку по ключу или возвращает ErrTooManyAttempts.
func (c *RedisCooldown) Acquire(ctx context.Context, orderID string) error {
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf(KeyConfirmCooldown, orderID), "1", c.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire cooldown: %w", err)
	}
	if !ok {
		return ErrTooManyAttempts
	}
	return nil
}
