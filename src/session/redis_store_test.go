package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Linkolnn/Icore/src/common"
)

func initRedisStore(t *testing.T, ttl time.Duration) *RedisStore {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	store, err := NewRedisStore(url, ttl)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Client().FlushDB(context.Background()).Err(); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestRedisStore(t *testing.T) {
	store := initRedisStore(t, DefaultTTL)
	defer store.Close()

	testStore(t, store)
}

func TestRedisStoreTTL(t *testing.T) {
	store := initRedisStore(t, time.Second)
	defer store.Close()

	ctx := context.Background()
	s := NewCallSession("call1", "chat1", Audio, "alice", []string{"bob"}, time.Now().UTC())
	store.SetSession(ctx, s)
	store.AppendICECandidate(ctx, "call1", "alice", []byte("cand"))

	time.Sleep(1500 * time.Millisecond)

	if _, err := store.GetSession(ctx, "call1"); !common.Is(err, common.NotFound) {
		t.Fatalf("session should have expired, got %v", err)
	}
	if ice, _ := store.ICECandidates(ctx, "call1", "alice"); len(ice) != 0 {
		t.Fatal("ICE queue should have expired")
	}
}
