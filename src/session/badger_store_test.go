package session

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/Linkolnn/Icore/src/common"
)

func initBadgerStore(t *testing.T, ttl time.Duration) (*BadgerStore, func()) {
	dir, err := ioutil.TempDir("", "icore-badger")
	if err != nil {
		t.Fatal(err)
	}

	store, err := NewBadgerStore(dir, ttl, common.NewTestEntry(t, "badger"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}

	return store, func() {
		store.Close()
		os.RemoveAll(dir)
	}
}

func TestBadgerStore(t *testing.T) {
	store, cleanup := initBadgerStore(t, DefaultTTL)
	defer cleanup()

	testStore(t, store)
}

func TestBadgerStoreReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "icore-badger")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	store, err := NewBadgerStore(dir, DefaultTTL, common.NewTestEntry(t, "badger"))
	if err != nil {
		t.Fatal(err)
	}
	s := NewCallSession("call1", "chat1", Audio, "alice", []string{"bob"}, time.Now().UTC())
	if err := store.SetSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	store.AppendICECandidate(ctx, "call1", "alice", []byte("c1"))
	store.Close()

	store, err = NewBadgerStore(dir, DefaultTTL, common.NewTestEntry(t, "badger"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.AppendICECandidate(ctx, "call1", "alice", []byte("c2"))

	if _, err := store.GetSession(ctx, "call1"); err != nil {
		t.Fatalf("session should survive a restart: %v", err)
	}
	ice, err := store.ICECandidates(ctx, "call1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(ice) != 2 || string(ice[0]) != "c1" || string(ice[1]) != "c2" {
		t.Fatalf("ICE order should survive a restart: %q", ice)
	}
}

func TestBadgerStoreTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for badger expiry")
	}

	store, cleanup := initBadgerStore(t, time.Second)
	defer cleanup()

	ctx := context.Background()
	s := NewCallSession("call1", "chat1", Audio, "alice", []string{"bob"}, time.Now().UTC())
	store.SetSession(ctx, s)
	store.AppendICECandidate(ctx, "call1", "alice", []byte("cand"))
	store.AddChatCall(ctx, "chat1", "call1")

	time.Sleep(2100 * time.Millisecond)

	if _, err := store.GetSession(ctx, "call1"); !common.Is(err, common.NotFound) {
		t.Fatalf("session should have expired, got %v", err)
	}
	if ice, _ := store.ICECandidates(ctx, "call1", "alice"); len(ice) != 0 {
		t.Fatal("ICE queue should have expired")
	}
	if calls, _ := store.ChatCalls(ctx, "chat1"); len(calls) != 0 {
		t.Fatal("chat index should have expired")
	}
}
