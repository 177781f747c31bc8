package limiter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func testLimiter(t *testing.T, l Limiter, limit int) {
	ctx := context.Background()
	for i := 0; i < limit; i++ {
		ok, err := l.Allow(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if ok, _ := l.Allow(ctx, "alice"); ok {
		t.Fatal("event over the limit should be rejected")
	}
	if ok, _ := l.Allow(ctx, "bob"); !ok {
		t.Fatal("keys are limited independently")
	}
}

func TestInmemLimiter(t *testing.T) {
	l := NewInmemLimiter(3, time.Minute)
	now := time.Now()
	l.SetClock(func() time.Time { return now })

	testLimiter(t, l, 3)

	now = now.Add(time.Minute)
	if ok, _ := l.Allow(context.Background(), "alice"); !ok {
		t.Fatal("a new window should allow events again")
	}
}

func TestInmemLimiterCanceled(t *testing.T) {
	l := NewInmemLimiter(3, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Allow(ctx, "alice"); err == nil {
		t.Fatal("canceled context should fail")
	}
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	testLimiter(t, NewRedisLimiter(rdb, uuid.NewString(), 3, time.Minute), 3)
}
