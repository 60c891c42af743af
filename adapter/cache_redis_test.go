package adapter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Mirrors the container-lifecycle pattern of the teacher's MongoDB
// integration tests (registry/store/mongo/mongo_test.go), applied to
// Redis since SPEC_FULL.md's Domain Stack wires go-redis as the durable
// idempotency cache.

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipRedisTests     bool
)

func setupRedis() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		fmt.Printf("Docker not available, Redis tests will be skipped: %v\n", containerErr)
		skipRedisTests = true
		return
	}

	host, err := testRedisContainer.Host(ctx)
	if err != nil {
		fmt.Printf("Failed to get container host: %v\n", err)
		skipRedisTests = true
		return
	}
	port, err := testRedisContainer.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Printf("Failed to get container port: %v\n", err)
		skipRedisTests = true
		return
	}

	testRedisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err := testRedisClient.Ping(ctx).Err(); err != nil {
		fmt.Printf("Failed to ping Redis: %v\n", err)
		skipRedisTests = true
		return
	}
}

func getRedisCache(t *testing.T, ttl time.Duration) *RedisCache {
	t.Helper()
	if testRedisClient == nil && !skipRedisTests {
		setupRedis()
	}
	if skipRedisTests {
		t.Skip("Docker not available, skipping Redis cache test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	return NewRedisCache(testRedisClient, ttl)
}

func TestRedisCache_MissThenPutThenHit(t *testing.T) {
	t.Parallel()
	c := getRedisCache(t, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "key-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Put(ctx, "key-1", cachedResult{Result: Result{OK: true, Output: map[string]any{"ok": true}}}))

	got, ok, err := c.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, true, got.Result.Output["ok"])
}

func TestRedisCache_EntryExpiresAfterTTL(t *testing.T) {
	t.Parallel()
	c := getRedisCache(t, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "key-1", cachedResult{Result: Result{OK: true}}))
	_, ok, err := c.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(200 * time.Millisecond)

	_, ok, err = c.Get(ctx, "key-1")
	require.NoError(t, err)
	require.False(t, ok, "entry must expire once its ttl elapses")
}

func TestRedisCache_KeysAreNamespacedByPrefix(t *testing.T) {
	t.Parallel()
	c := getRedisCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "shared-key", cachedResult{Result: Result{OK: true, Output: map[string]any{"v": float64(1)}}}))

	raw, err := testRedisClient.Get(ctx, "idempotency:shared-key").Result()
	require.NoError(t, err)
	require.Contains(t, raw, "\"OK\":true")
}
