package handler

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sharegate/sharegate/pkg/testutil"
)

func newRateLimitTestApp(t *testing.T, limiter *RateLimiter, keyHeader string) *fiber.App {
	t.Helper()

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if keyHeader != "" {
			c.Request().Header.Set("X-Rate-Key", keyHeader)
		}
		return c.Next()
	})
	app.Use(limiter.Middleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func requestStatus(t *testing.T, app *fiber.App) int {
	t.Helper()

	req := httptest.NewRequest("GET", "/", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func rateKeyHeader(c *fiber.Ctx) string { return c.Get("X-Rate-Key") }

func TestSQLLimiter_PersistsAcrossInstances(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	limiter1 := NewRateLimiter("verify-test", NewSQLLimiter(db, "verify-test", 2, time.Minute), nil, rateKeyHeader)
	app1 := newRateLimitTestApp(t, limiter1, "k1")

	if got := requestStatus(t, app1); got != fiber.StatusOK {
		t.Fatalf("request 1 status=%d, want %d", got, fiber.StatusOK)
	}
	if got := requestStatus(t, app1); got != fiber.StatusOK {
		t.Fatalf("request 2 status=%d, want %d", got, fiber.StatusOK)
	}
	if got := requestStatus(t, app1); got != fiber.StatusTooManyRequests {
		t.Fatalf("request 3 status=%d, want %d", got, fiber.StatusTooManyRequests)
	}

	limiter2 := NewRateLimiter("verify-test", NewSQLLimiter(db, "verify-test", 2, time.Minute), nil, rateKeyHeader)
	app2 := newRateLimitTestApp(t, limiter2, "k1")
	if got := requestStatus(t, app2); got != fiber.StatusTooManyRequests {
		t.Fatalf("request after limiter restart status=%d, want %d", got, fiber.StatusTooManyRequests)
	}

	app3 := newRateLimitTestApp(t, limiter2, "k2")
	if got := requestStatus(t, app3); got != fiber.StatusOK {
		t.Fatalf("other key status=%d, want %d", got, fiber.StatusOK)
	}
}

func TestSQLLimiter_ResetsAfterWindow(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	store := NewSQLLimiter(db, "window-test", 1, time.Minute)
	ctx := context.Background()
	base := time.Now()

	if ok, err := store.Allow(ctx, "k", base); err != nil || !ok {
		t.Fatalf("first request: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Allow(ctx, "k", base.Add(30*time.Second)); err != nil || ok {
		t.Fatalf("second request inside window: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Allow(ctx, "k", base.Add(61*time.Second)); err != nil || !ok {
		t.Fatalf("request after window: ok=%v err=%v", ok, err)
	}

	pruned, err := PruneRateLimitCounters(ctx, db, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("PruneRateLimitCounters: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected one pruned counter, got %d", pruned)
	}
}

type stubLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (s *stubLimiter) Allow(context.Context, string, time.Time) (bool, error) {
	s.calls++
	return s.allowed, s.err
}

func TestRateLimiter_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := &stubLimiter{err: errors.New("redis down")}
	fallback := &stubLimiter{allowed: false}
	app := newRateLimitTestApp(t, NewRateLimiter("fallback-test", primary, fallback, nil), "")

	if got := requestStatus(t, app); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected fallback decision to apply, got %d", got)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("expected one call each, got primary=%d fallback=%d", primary.calls, fallback.calls)
	}
}

func TestRateLimiter_FailsOpenWhenEveryStoreFails(t *testing.T) {
	primary := &stubLimiter{err: errors.New("redis down")}
	fallback := &stubLimiter{err: errors.New("database locked")}
	app := newRateLimitTestApp(t, NewRateLimiter("open-test", primary, fallback, nil), "")

	if got := requestStatus(t, app); got != fiber.StatusOK {
		t.Fatalf("expected request to pass when limiting is unavailable, got %d", got)
	}
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	scope := "test-" + time.Now().Format("150405.000000000")
	limiter := NewRedisLimiter(client, scope, 3, time.Minute)
	defer client.Del(ctx, limiter.prefix+"k", limiter.prefix+"k:seq")

	base := time.Now()
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "k", base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if ok, err := limiter.Allow(ctx, "k", base.Add(10*time.Second)); err != nil || ok {
		t.Fatalf("4th request inside window: ok=%v err=%v", ok, err)
	}
	// The first entry slides out of the window.
	if ok, err := limiter.Allow(ctx, "k", base.Add(time.Minute+500*time.Millisecond)); err != nil || !ok {
		t.Fatalf("request after first entry expired: ok=%v err=%v", ok, err)
	}
}
