package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/registry"
)

type testSink struct {
	sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func (s *testSink) Send(frame []byte) error {
	s.Lock()
	defer s.Unlock()
	if s.full {
		return errors.New("send buffer full")
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *testSink) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

func (s *testSink) events(t *testing.T) []string {
	s.Lock()
	defer s.Unlock()
	res := []string{}
	for _, f := range s.frames {
		var frame struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(f, &frame); err != nil {
			t.Fatal(err)
		}
		res = append(res, frame.Event)
	}
	return res
}

func TestHub(t *testing.T) {
	reg := registry.NewRegistry(nil, common.NewTestEntry(t, "registry"))
	hub := NewHub(reg, common.NewTestEntry(t, "hub"))

	aliceSink, bobSink, carolSink := &testSink{}, &testSink{}, &testSink{}
	alice := reg.Register("alice", aliceSink)
	bob := reg.Register("bob", bobSink)
	reg.Register("carol", carolSink)

	reg.JoinRoom(alice, registry.ChatRoom("c1"))
	reg.JoinRoom(bob, registry.ChatRoom("c1"))

	if err := hub.BroadcastToRoom(registry.ChatRoom("c1"), "typing:start", map[string]string{"chatId": "c1"}, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := hub.BroadcastToUser("carol", "chat:created", map[string]string{"id": "c2"}); err != nil {
		t.Fatal(err)
	}

	if len(aliceSink.events(t)) != 0 {
		t.Fatal("excluded user should receive nothing")
	}
	if ev := bobSink.events(t); len(ev) != 1 || ev[0] != "typing:start" {
		t.Fatalf("bob should receive typing:start, got %v", ev)
	}
	if ev := carolSink.events(t); len(ev) != 1 || ev[0] != "chat:created" {
		t.Fatalf("carol should receive chat:created, got %v", ev)
	}
}

func TestHubClosesSlowConnections(t *testing.T) {
	reg := registry.NewRegistry(nil, common.NewTestEntry(t, "registry"))
	hub := NewHub(reg, common.NewTestEntry(t, "hub"))

	slow := &testSink{full: true}
	reg.Register("alice", slow)

	hub.BroadcastToUser("alice", "message:new", nil)

	if !slow.closed {
		t.Fatal("a connection that cannot accept a frame should be closed")
	}
}

func TestHubOrder(t *testing.T) {
	reg := registry.NewRegistry(nil, common.NewTestEntry(t, "registry"))
	hub := NewHub(reg, common.NewTestEntry(t, "hub"))

	sinks := []*testSink{{}, {}, {}}
	for _, s := range sinks {
		conn := reg.Register("u", s)
		reg.JoinRoom(conn, "room")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.BroadcastToRoom("room", "tick", nil)
		}()
	}
	wg.Wait()

	for _, s := range sinks {
		s.Lock()
		n := len(s.frames)
		s.Unlock()
		if n != 20 {
			t.Fatalf("every connection should receive 20 frames, got %d", n)
		}
	}
}

func TestMulti(t *testing.T) {
	r1, r2 := NewRecorder(), NewRecorder()
	m := Multi{r1, r2}

	m.BroadcastToRoom("chat-c1", "message:new", "hello", "alice")
	m.BroadcastToUser("bob", "message:new", "hello")

	for _, r := range []*Recorder{r1, r2} {
		if len(r.Deliveries()) != 2 {
			t.Fatalf("expected 2 deliveries, got %d", len(r.Deliveries()))
		}
		room := r.To("chat-c1", "message:new")
		if len(room) != 1 || len(room[0].Exclude) != 1 || room[0].Exclude[0] != "alice" {
			t.Fatalf("unexpected room delivery %+v", room)
		}
		if len(r.ToUser("bob", "message:new")) != 1 {
			t.Fatal("bob should receive one delivery")
		}
	}
}

func TestHubReached(t *testing.T) {
	reg := registry.NewRegistry(nil, common.NewTestEntry(t, "registry"))
	hub := NewHub(reg, common.NewTestEntry(t, "hub"))

	alice := reg.Register("alice", &testSink{})
	bob := reg.Register("bob", &testSink{full: true})
	carol := reg.Register("carol", &testSink{})
	reg.Register("dave", &testSink{})
	for _, c := range []*registry.Connection{alice, bob, carol} {
		reg.JoinRoom(c, "room")
	}

	reached, err := hub.BroadcastToRoomReached("room", "message:new", nil, "carol")
	if err != nil {
		t.Fatal(err)
	}
	if len(reached) != 1 {
		t.Fatalf("only alice should be reached, got %v", reached)
	}
	if _, ok := reached["alice"]; !ok {
		t.Fatalf("alice should be reached, got %v", reached)
	}
}

func TestMultiReached(t *testing.T) {
	reg := registry.NewRegistry(nil, common.NewTestEntry(t, "registry"))
	hub := NewHub(reg, common.NewTestEntry(t, "hub"))
	rec := NewRecorder()

	reg.JoinRoom(reg.Register("alice", &testSink{}), "room")

	reached, err := ToRoomReached(Multi{hub, rec}, "room", "message:new", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reached["alice"]; !ok || len(reached) != 1 {
		t.Fatalf("alice should be reached through the hub, got %v", reached)
	}
	if len(rec.To("room", "message:new")) != 1 {
		t.Fatal("the recorder should still see the delivery")
	}

	reached, err = ToRoomReached(rec, "room", "message:new", nil)
	if err != nil || len(reached) != 0 {
		t.Fatalf("a recorder without registry reaches nobody, got %v %v", reached, err)
	}
}

func TestEncodeFrame(t *testing.T) {
	frame, err := EncodeFrame("call:offer", map[string]interface{}{
		"callId": "k1",
		"offer":  json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Event string `json:"event"`
		Data  struct {
			CallID string          `json:"callId"`
			Offer  json.RawMessage `json:"offer"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Event != "call:offer" || decoded.Data.CallID != "k1" {
		t.Fatalf("unexpected frame %s", frame)
	}
	if string(decoded.Data.Offer) != `{"type":"offer","sdp":"v=0\r\n"}` {
		t.Fatalf("offer should pass through, got %s", decoded.Data.Offer)
	}
}
