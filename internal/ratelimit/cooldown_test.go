package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNopCooldown(t *testing.T) {
	var c Cooldown = NopCooldown{}
	for i := 0; i < 3; i++ {
		assert.NoError(t, c.Acquire(context.Background(), "order"))
	}
}

func TestRedisCooldown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = redisC.Terminate(context.Background())
	})

	endpoint, err := redisC.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := NewRedisClient(endpoint)
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	c := NewRedisCooldown(rdb, 300*time.Millisecond)

	require.NoError(t, c.Acquire(ctx, "order-1"))
	assert.ErrorIs(t, c.Acquire(ctx, "order-1"), ErrTooManyAttempts)
	assert.NoError(t, c.Acquire(ctx, "order-2"))

	time.Sleep(400 * time.Millisecond)
	assert.NoError(t, c.Acquire(ctx, "order-1"))
}
