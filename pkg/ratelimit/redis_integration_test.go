//go:build integration

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisWindow_Integration_SharedBound(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	// Two limiters on the same key behave like two processes sharing a budget.
	cfg := Config{Name: "pubchem", PerSecond: 4}
	first, err := NewRedisWindow(redisClient, cfg, testLogger)
	if err != nil {
		t.Fatalf("NewRedisWindow() error = %v", err)
	}
	second, err := NewRedisWindow(redisClient, cfg, testLogger)
	if err != nil {
		t.Fatalf("NewRedisWindow() error = %v", err)
	}

	var mu sync.Mutex
	var grants []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		limiter := first
		if i%2 == 1 {
			limiter = second
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				if err := limiter.Acquire(context.Background()); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				mu.Lock()
				grants = append(grants, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(grants) != 12 {
		t.Fatalf("got %d grants, want 12", len(grants))
	}

	// 12 permits at 4/s need at least two full windows.
	span := grants[len(grants)-1].Sub(grants[0])
	if span < 1900*time.Millisecond {
		t.Errorf("12 permits at 4/s spanned %v, want >= ~2s", span)
	}

	count, err := redisClient.ZCard(context.Background(), RedisKeyPrefix+"pubchem").Result()
	if err != nil {
		t.Fatalf("ZCard() error = %v", err)
	}
	if count > 4 {
		t.Errorf("window holds %d members, want <= 4", count)
	}
}

func TestRedisWindow_Integration_Cancel(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	limiter, err := NewRedisWindow(redisClient, Config{Name: "kegg", PerSecond: 1}, testLogger)
	if err != nil {
		t.Fatalf("NewRedisWindow() error = %v", err)
	}

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(ctx); err == nil {
		t.Error("Acquire() error = nil, want deadline exceeded")
	}
}
