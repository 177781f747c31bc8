package session

import (
	"bytes"
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/Linkolnn/Icore/src/common"
)

// testStore runs the behaviour shared by every Store implementation.
func testStore(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Session", func(t *testing.T) {
		if _, err := store.GetSession(ctx, "missing"); !common.Is(err, common.NotFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}

		s := NewCallSession("call1", "chat1", Audio, "alice", []string{"bob"}, now)
		if err := store.SetSession(ctx, s); err != nil {
			t.Fatal(err)
		}

		res, err := store.GetSession(ctx, "call1")
		if err != nil {
			t.Fatal(err)
		}
		if res.CallID != "call1" || len(res.Participants) != 2 {
			t.Fatalf("unexpected session %+v", res)
		}

		res.Join("bob", now)
		if err := store.SetSession(ctx, res); err != nil {
			t.Fatal(err)
		}
		res, err = store.GetSession(ctx, "call1")
		if err != nil {
			t.Fatal(err)
		}
		if res.Participant("bob").Status != Joining {
			t.Fatalf("update not persisted: %+v", res.Participant("bob"))
		}
	})

	t.Run("SDP", func(t *testing.T) {
		offer := []byte("v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\n")
		if err := store.SetSDP(ctx, "call1", "alice", Offer, offer); err != nil {
			t.Fatal(err)
		}

		res, err := store.GetSDP(ctx, "call1", "alice", Offer)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(res, offer) {
			t.Fatalf("SDP should be byte-identical, got %q", res)
		}

		if _, err := store.GetSDP(ctx, "call1", "alice", Answer); !common.Is(err, common.NotFound) {
			t.Fatalf("expected NotFound for missing answer, got %v", err)
		}
	})

	t.Run("ICE", func(t *testing.T) {
		candidates := [][]byte{}
		for _, c := range []string{"c1", "c2", "c3", "c4", "c5"} {
			cand := []byte(`{"candidate":"` + c + `"}`)
			candidates = append(candidates, cand)
			if err := store.AppendICECandidate(ctx, "call1", "alice", cand); err != nil {
				t.Fatal(err)
			}
		}

		res, err := store.ICECandidates(ctx, "call1", "alice")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(res, candidates) {
			t.Fatalf("ICE queue order not preserved: %q", res)
		}

		empty, err := store.ICECandidates(ctx, "call1", "bob")
		if err != nil {
			t.Fatal(err)
		}
		if len(empty) != 0 {
			t.Fatalf("expected empty queue, got %d", len(empty))
		}
	})

	t.Run("DeleteSignaling", func(t *testing.T) {
		if err := store.SetSDP(ctx, "call1", "bob", Answer, []byte("answer")); err != nil {
			t.Fatal(err)
		}
		if err := store.DeleteSignaling(ctx, "call1", []string{"alice", "bob"}); err != nil {
			t.Fatal(err)
		}
		if _, err := store.GetSDP(ctx, "call1", "alice", Offer); !common.Is(err, common.NotFound) {
			t.Fatalf("offer should be deleted, got %v", err)
		}
		if _, err := store.GetSDP(ctx, "call1", "bob", Answer); !common.Is(err, common.NotFound) {
			t.Fatalf("answer should be deleted, got %v", err)
		}
		ice, err := store.ICECandidates(ctx, "call1", "alice")
		if err != nil {
			t.Fatal(err)
		}
		if len(ice) != 0 {
			t.Fatalf("ICE queue should be deleted, got %d", len(ice))
		}
		if _, err := store.GetSession(ctx, "call1"); err != nil {
			t.Fatalf("session should survive signaling cleanup: %v", err)
		}
	})

	t.Run("ChatCalls", func(t *testing.T) {
		store.AddChatCall(ctx, "chat1", "callB")
		store.AddChatCall(ctx, "chat1", "callA")
		store.AddChatCall(ctx, "chat1", "callA")

		res, err := store.ChatCalls(ctx, "chat1")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(res, []string{"callA", "callB"}) {
			t.Fatalf("unexpected chat calls %v", res)
		}

		if err := store.RemoveChatCall(ctx, "chat1", "callA"); err != nil {
			t.Fatal(err)
		}
		res, err = store.ChatCalls(ctx, "chat1")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(res, []string{"callB"}) {
			t.Fatalf("unexpected chat calls %v", res)
		}
	})

	t.Run("UserCall", func(t *testing.T) {
		if _, err := store.UserCall(ctx, "alice"); !common.Is(err, common.NotFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}
		if err := store.SetUserCall(ctx, "alice", "call2"); err != nil {
			t.Fatal(err)
		}

		// a stale clear for another call must not remove the index
		if err := store.ClearUserCall(ctx, "alice", "call1"); err != nil {
			t.Fatal(err)
		}
		res, err := store.UserCall(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if res != "call2" {
			t.Fatalf("expected call2, got %s", res)
		}

		if err := store.ClearUserCall(ctx, "alice", "call2"); err != nil {
			t.Fatal(err)
		}
		if _, err := store.UserCall(ctx, "alice"); !common.Is(err, common.NotFound) {
			t.Fatalf("expected NotFound after clear, got %v", err)
		}
		if err := store.ClearUserCall(ctx, "nobody", "call2"); err != nil {
			t.Fatalf("clearing an absent index should not fail: %v", err)
		}
	})
}
