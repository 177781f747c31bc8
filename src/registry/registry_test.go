package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/token"
)

type testSink struct {
	sync.Mutex
	frames [][]byte
	closed bool
}

func (s *testSink) Send(frame []byte) error {
	s.Lock()
	defer s.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *testSink) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	return NewRegistry(token.NewAccessValidator("auth", nil), common.NewTestEntry(t, "registry"))
}

func TestConnect(t *testing.T) {
	r := newTestRegistry(t)

	signed, err := token.SignAccessToken("auth", "alice", time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	conn, err := r.Connect(signed, &testSink{})
	if err != nil {
		t.Fatal(err)
	}
	if conn.UserID != "alice" || conn.ID == "" {
		t.Fatalf("unexpected connection %+v", conn)
	}
	if !r.IsUserInRoom("alice", UserRoom("alice")) {
		t.Fatal("connection should join the personal channel")
	}

	if _, err := r.Connect("garbage", &testSink{}); !common.Is(err, common.Authorization) {
		t.Fatalf("invalid token should be rejected, got %v", err)
	}
	if s := r.Stats(); s.Connections != 1 {
		t.Fatalf("rejected connections should not be registered, got %d", s.Connections)
	}
}

func TestJoinLeaveIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	conn := r.Register("alice", &testSink{})

	if !r.JoinRoom(conn, ChatRoom("c1")) {
		t.Fatal("first join should return true")
	}
	if r.JoinRoom(conn, ChatRoom("c1")) {
		t.Fatal("second join should be a no-op")
	}
	if len(r.RoomConnections(ChatRoom("c1"))) != 1 {
		t.Fatal("room should hold one connection")
	}

	if !r.LeaveRoom(conn, ChatRoom("c1")) {
		t.Fatal("first leave should return true")
	}
	if r.LeaveRoom(conn, ChatRoom("c1")) {
		t.Fatal("second leave should be a no-op")
	}
	if r.IsUserInRoom("alice", ChatRoom("c1")) {
		t.Fatal("alice should not be in the room")
	}
}

func TestMultiDevice(t *testing.T) {
	r := newTestRegistry(t)
	phone := r.Register("alice", &testSink{})
	laptop := r.Register("alice", &testSink{})

	r.JoinRoom(phone, ChatRoom("c1"))

	if !r.IsUserInRoom("alice", ChatRoom("c1")) {
		t.Fatal("alice is in the room through her phone")
	}
	if len(r.UserConnections("alice")) != 2 {
		t.Fatal("alice should have two connections")
	}

	if r.Disconnect(laptop) {
		t.Fatal("laptop is not the last connection")
	}
	if !r.IsUserInRoom("alice", ChatRoom("c1")) {
		t.Fatal("disconnecting the laptop should not affect the phone")
	}

	if !r.Disconnect(phone) {
		t.Fatal("phone is the last connection")
	}
	if r.IsUserInRoom("alice", ChatRoom("c1")) || r.IsUserInRoom("alice", UserRoom("alice")) {
		t.Fatal("alice should not be in any room")
	}
	if r.Disconnect(phone) {
		t.Fatal("disconnecting twice should be a no-op")
	}

	s := r.Stats()
	if s.Connections != 0 || s.Users != 0 || s.Rooms != 0 {
		t.Fatalf("registry should be empty, got %+v", s)
	}

	if r.JoinRoom(phone, ChatRoom("c2")) {
		t.Fatal("a disconnected connection cannot join rooms")
	}
}

func TestUsersInRoom(t *testing.T) {
	r := newTestRegistry(t)
	a1 := r.Register("alice", &testSink{})
	a2 := r.Register("alice", &testSink{})
	b := r.Register("bob", &testSink{})
	r.Register("carol", &testSink{})

	r.JoinRoom(a1, ChatRoom("c1"))
	r.JoinRoom(a2, ChatRoom("c1"))
	r.JoinRoom(b, ChatRoom("c1"))

	users := r.UsersInRoom(ChatRoom("c1"))
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %v", users)
	}
	if _, ok := users["alice"]; !ok {
		t.Fatal("alice should be present")
	}
	if _, ok := users["carol"]; ok {
		t.Fatal("carol should not be present")
	}
}

func TestEvictRoom(t *testing.T) {
	r := newTestRegistry(t)
	a := r.Register("alice", &testSink{})
	b := r.Register("bob", &testSink{})
	r.JoinRoom(a, CallRoom("k1"))
	r.JoinRoom(b, CallRoom("k1"))

	evicted := r.EvictRoom(CallRoom("k1"))
	if len(evicted) != 2 {
		t.Fatalf("expected 2 evicted connections, got %d", len(evicted))
	}
	if len(r.RoomConnections(CallRoom("k1"))) != 0 {
		t.Fatal("room should be empty")
	}
	for _, room := range r.RoomsOf(a) {
		if room == CallRoom("k1") {
			t.Fatal("evicted connection should not keep the membership")
		}
	}
	if !r.IsUserInRoom("alice", UserRoom("alice")) {
		t.Fatal("eviction should not touch other rooms")
	}
}

func TestCallOfRoom(t *testing.T) {
	if id, ok := CallOfRoom(CallRoom("k1")); !ok || id != "k1" {
		t.Fatalf("expected call k1, got %q %v", id, ok)
	}
	for _, room := range []string{ChatRoom("k1"), UserRoom("k1"), "k1"} {
		if _, ok := CallOfRoom(room); ok {
			t.Fatalf("%s should not be a call room", room)
		}
	}
}

func TestConcurrentMembership(t *testing.T) {
	r := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := r.Register("alice", &testSink{})
			r.JoinRoom(conn, ChatRoom("c1"))
			r.IsUserInRoom("alice", ChatRoom("c1"))
			r.LeaveRoom(conn, ChatRoom("c1"))
			r.Disconnect(conn)
		}()
	}
	wg.Wait()

	if s := r.Stats(); s.Connections != 0 || s.Rooms != 0 {
		t.Fatalf("registry should be empty, got %+v", s)
	}
}

func TestClose(t *testing.T) {
	r := newTestRegistry(t)
	sink := &testSink{}
	r.Register("alice", sink)

	r.Close()

	if !sink.closed {
		t.Fatal("Close should close every sink")
	}
}
