package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Linkolnn/Icore/src/broadcast"
	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/persistence"
	"github.com/Linkolnn/Icore/src/registry"
	"github.com/Linkolnn/Icore/src/session"
	"github.com/Linkolnn/Icore/src/token"
	"github.com/pion/webrtc/v2"
)

var (
	testOffer     = json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`)
	testAnswer    = json.RawMessage(`{"type":"answer","sdp":"v=0\r\no=- 3 4 IN IP4 127.0.0.1\r\n"}`)
	testCandidate = json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`)
)

type nopSink struct{}

func (nopSink) Send([]byte) error { return nil }
func (nopSink) Close() error      { return nil }

type testEnv struct {
	orch   *Orchestrator
	store  *session.InmemStore
	chats  *persistence.InmemService
	reg    *registry.Registry
	rec    *broadcast.Recorder
	tokens *token.CallTokens
	conns  map[string]*registry.Connection
}

func initEnv(t *testing.T) *testEnv {
	logger := common.NewTestEntry(t, "signal")

	chats := persistence.NewInmemService()
	for id, members := range map[string][]string{
		"c1": {"alice", "bob"},
		"c2": {"bob", "carol"},
	} {
		_, err := chats.CreateChat(context.Background(), &persistence.Chat{
			ID:           id,
			Type:         persistence.Group,
			Name:         id,
			Participants: persistence.NormalizeParticipants(members, members[0], time.Now()),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	env := &testEnv{
		store:  session.NewInmemStore(session.DefaultTTL),
		chats:  chats,
		reg:    registry.NewRegistry(nil, logger),
		rec:    broadcast.NewRecorder(),
		tokens: token.NewCallTokens("call-secret", time.Hour, nil),
		conns:  make(map[string]*registry.Connection),
	}
	for _, u := range []string{"alice", "bob", "carol"} {
		env.conns[u] = env.reg.Register(u, nopSink{})
	}

	env.orch = NewOrchestrator(Config{
		Store:        env.store,
		Chats:        chats,
		Tokens:       env.tokens,
		Rooms:        env.reg,
		Broadcaster:  env.rec,
		ICEServers:   []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		StoreTimeout: time.Second,
		Logger:       logger,
	})
	return env
}

func (e *testEnv) session(t *testing.T, callID string) *session.CallSession {
	sess, err := e.store.GetSession(context.Background(), callID)
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

// initiate starts an audio call by alice in c1.
func (e *testEnv) initiate(t *testing.T) *Initiated {
	res, err := e.orch.Initiate(context.Background(), e.conns["alice"], "c1", session.Audio)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// connect makes bob join and answer alice.
func (e *testEnv) connect(t *testing.T, callID string) {
	ctx := context.Background()
	if _, err := e.orch.Join(ctx, e.conns["bob"], callID, ""); err != nil {
		t.Fatal(err)
	}
	if err := e.orch.Answer(ctx, "bob", callID, "alice", testAnswer); err != nil {
		t.Fatal(err)
	}
}

func TestInitiate(t *testing.T) {
	env := initEnv(t)
	res := env.initiate(t)

	sess := env.session(t, res.CallID)
	if sess.Status != session.Pending {
		t.Fatalf("expected pending, got %s", sess.Status)
	}
	if p := sess.Participant("alice"); p.Status != session.Connected {
		t.Fatalf("initiator should be connected, got %s", p.Status)
	}
	if p := sess.Participant("bob"); p.Status != session.Invited {
		t.Fatalf("member should be invited, got %s", p.Status)
	}

	incoming := env.rec.ToUser("bob", EventIncoming)
	if len(incoming) != 1 {
		t.Fatalf("expected one call:incoming, got %d", len(incoming))
	}
	payload := incoming[0].Payload.(Incoming)
	if payload.CallID != res.CallID || payload.InitiatorID != "alice" || len(payload.ICEServers) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	claims, err := env.tokens.VerifyFor(payload.Token, res.CallID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if claims.Permissions != token.DefaultPermissions() {
		t.Fatalf("unexpected permissions %+v", claims.Permissions)
	}
	if len(env.rec.ToUser("alice", EventIncoming)) != 0 {
		t.Fatal("initiator should not be invited")
	}

	claims, err = env.tokens.VerifyFor(res.Token, res.CallID, "alice")
	if err != nil || !claims.Permissions.CanInitiate {
		t.Fatalf("initiator token should allow initiating: %+v %v", claims, err)
	}

	if !env.reg.IsUserInRoom("alice", registry.CallRoom(res.CallID)) {
		t.Fatal("initiator should be in the call room")
	}
	calls, _ := env.store.ChatCalls(context.Background(), "c1")
	if len(calls) != 1 || calls[0] != res.CallID {
		t.Fatalf("unexpected chat calls %v", calls)
	}
}

func TestInitiateErrors(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()

	if _, err := env.orch.Initiate(ctx, env.conns["alice"], "c1", "hologram"); !common.Is(err, common.Validation) {
		t.Fatalf("expected Validation, got %v", err)
	}
	if _, err := env.orch.Initiate(ctx, env.conns["carol"], "c1", session.Audio); !common.Is(err, common.Authorization) {
		t.Fatalf("expected Authorization, got %v", err)
	}
	if _, err := env.orch.Initiate(ctx, env.conns["alice"], "nope", session.Audio); !common.Is(err, common.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	first := env.initiate(t)
	if _, err := env.orch.Initiate(ctx, env.conns["alice"], "c1", session.Video); !common.Is(err, common.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}

	// Invited is not in a call.
	if _, err := env.orch.Initiate(ctx, env.conns["bob"], "c2", session.Audio); err != nil {
		t.Fatalf("invited users may start another call: %v", err)
	}

	if err := env.orch.Leave(ctx, "alice", first.CallID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.orch.Initiate(ctx, env.conns["alice"], "c1", session.Audio); err != nil {
		t.Fatalf("leaving should free the initiator: %v", err)
	}
}

type failingTokens struct {
	*token.CallTokens
}

func (failingTokens) Issue(userID, callID, chatID string, perms token.Permissions) (string, error) {
	return "", common.NewErrMsg("Token", common.Unavailable, callID, "signer down")
}

func TestInitiateTokenFailure(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()

	broken := NewOrchestrator(Config{
		Store:        env.store,
		Chats:        env.chats,
		Tokens:       failingTokens{env.tokens},
		Rooms:        env.reg,
		Broadcaster:  env.rec,
		StoreTimeout: time.Second,
		Logger:       common.NewTestEntry(t, "signal"),
	})
	if _, err := broken.Initiate(ctx, env.conns["alice"], "c1", session.Audio); !common.Is(err, common.Unavailable) {
		t.Fatalf("expected Unavailable, got %v", err)
	}

	if _, err := env.store.UserCall(ctx, "alice"); !common.Is(err, common.NotFound) {
		t.Fatalf("initiator should not keep a call, got %v", err)
	}
	calls, err := env.store.ChatCalls(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 0 {
		t.Fatalf("chat should not index a failed call: %v", calls)
	}
	if len(env.rec.ToUser("bob", EventIncoming)) != 0 {
		t.Fatal("nobody should be invited to a failed call")
	}

	if _, err := env.orch.Initiate(ctx, env.conns["alice"], "c1", session.Audio); err != nil {
		t.Fatalf("a failed start should not block the initiator: %v", err)
	}
}

func TestJoinAnswer(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)
	invite := env.rec.ToUser("bob", EventIncoming)[0].Payload.(Incoming)

	joined, err := env.orch.Join(ctx, env.conns["bob"], res.CallID, invite.Token)
	if err != nil {
		t.Fatal(err)
	}
	if p := joined.Session.Participant("bob"); p.Status != session.Joining || p.JoinedAt == nil {
		t.Fatalf("unexpected participant %+v", p)
	}
	if joined.Session.Status != session.Pending {
		t.Fatalf("joining does not activate, got %s", joined.Session.Status)
	}

	events := env.rec.To(registry.CallRoom(res.CallID), EventParticipantJoined)
	if len(events) != 1 || events[0].Exclude[0] != "bob" {
		t.Fatalf("unexpected participant-joined %+v", events)
	}
	if !env.reg.IsUserInRoom("bob", registry.CallRoom(res.CallID)) {
		t.Fatal("bob should be in the call room")
	}

	if err := env.orch.Answer(ctx, "bob", res.CallID, "alice", testAnswer); err != nil {
		t.Fatal(err)
	}
	sess := env.session(t, res.CallID)
	if sess.Participant("bob").Status != session.Connected || sess.Status != session.Active {
		t.Fatalf("expected bob connected and call active: %s %s", sess.Participant("bob").Status, sess.Status)
	}

	answers := env.rec.ToUser("alice", EventAnswer)
	if len(answers) != 1 {
		t.Fatalf("expected one answer, got %d", len(answers))
	}
	if got := answers[0].Payload.(AnswerEvent); got.FromUserID != "bob" || !bytes.Equal(got.Answer, testAnswer) {
		t.Fatalf("answer should be forwarded verbatim: %+v", got)
	}
	stored, err := env.store.GetSDP(ctx, res.CallID, "bob", session.Answer)
	if err != nil || !bytes.Equal(stored, testAnswer) {
		t.Fatalf("stored answer mismatch: %s %v", stored, err)
	}
}

func TestJoinErrors(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)

	if _, err := env.orch.Join(ctx, env.conns["bob"], "nope", ""); !common.Is(err, common.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := env.orch.Join(ctx, env.conns["carol"], res.CallID, ""); !common.Is(err, common.Authorization) {
		t.Fatalf("expected Authorization, got %v", err)
	}
	if _, err := env.orch.Join(ctx, env.conns["bob"], res.CallID, res.Token); !common.Is(err, common.Authorization) {
		t.Fatalf("a token of another user should be rejected, got %v", err)
	}

	expired := token.NewCallTokens("call-secret", time.Minute, func() time.Time { return time.Now().Add(-time.Hour) })
	old, _ := expired.Issue("bob", res.CallID, "c1", token.DefaultPermissions())
	if _, err := env.orch.Join(ctx, env.conns["bob"], res.CallID, old); !common.Is(err, common.Expired) {
		t.Fatalf("expected Expired, got %v", err)
	}

	noJoin, _ := env.tokens.Issue("bob", res.CallID, "c1", token.Permissions{})
	if _, err := env.orch.Join(ctx, env.conns["bob"], res.CallID, noJoin); !common.Is(err, common.Authorization) {
		t.Fatalf("expected Authorization, got %v", err)
	}

	if err := env.orch.End(ctx, "alice", res.CallID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.orch.Join(ctx, env.conns["bob"], res.CallID, ""); !common.Is(err, common.NotFound) {
		t.Fatalf("joining an ended call should be NotFound, got %v", err)
	}
}

func TestJoinConflict(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()

	res := env.initiate(t)
	env.connect(t, res.CallID)

	other, err := env.orch.Initiate(ctx, env.conns["carol"], "c2", session.Audio)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.orch.Join(ctx, env.conns["bob"], other.CallID, ""); !common.Is(err, common.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}

	// Rejoining the same call is accepted.
	if _, err := env.orch.Join(ctx, env.conns["bob"], res.CallID, ""); err != nil {
		t.Fatal(err)
	}
}

func TestLeaveEndsCall(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)
	env.connect(t, res.CallID)

	if err := env.orch.Offer(ctx, "alice", res.CallID, "bob", testOffer); err != nil {
		t.Fatal(err)
	}
	if err := env.orch.ICECandidate(ctx, "alice", res.CallID, "bob", testCandidate); err != nil {
		t.Fatal(err)
	}

	if err := env.orch.Leave(ctx, "bob", res.CallID); err != nil {
		t.Fatal(err)
	}
	sess := env.session(t, res.CallID)
	if sess.Status != session.Active || sess.Participant("bob").Status != session.Disconnected {
		t.Fatalf("one participant left: %s %s", sess.Status, sess.Participant("bob").Status)
	}
	if env.reg.IsUserInRoom("bob", registry.CallRoom(res.CallID)) {
		t.Fatal("bob should have left the call room")
	}
	if n := len(env.rec.To(registry.CallRoom(res.CallID), EventParticipantLeft)); n != 1 {
		t.Fatalf("expected one participant-left, got %d", n)
	}

	// Leaving twice is a no-op.
	if err := env.orch.Leave(ctx, "bob", res.CallID); err != nil {
		t.Fatal(err)
	}
	if n := len(env.rec.To(registry.CallRoom(res.CallID), EventParticipantLeft)); n != 1 {
		t.Fatalf("second leave should not notify, got %d", n)
	}

	if err := env.orch.Leave(ctx, "alice", res.CallID); err != nil {
		t.Fatal(err)
	}

	sess = env.session(t, res.CallID)
	if sess.Status != session.Ended || sess.EndedAt == nil {
		t.Fatalf("expected ended tombstone, got %s", sess.Status)
	}
	ended := env.rec.To(registry.CallRoom(res.CallID), EventEnded)
	if len(ended) != 1 || ended[0].Payload.(Ended).Reason != ReasonAllParticipantsLeft {
		t.Fatalf("unexpected call:ended %+v", ended)
	}

	for _, u := range []string{"alice", "bob"} {
		for _, kind := range []session.SDPKind{session.Offer, session.Answer} {
			if _, err := env.store.GetSDP(ctx, res.CallID, u, kind); !common.Is(err, common.NotFound) {
				t.Fatalf("%s %s should be deleted, got %v", u, kind, err)
			}
		}
		if c, _ := env.store.ICECandidates(ctx, res.CallID, u); len(c) != 0 {
			t.Fatalf("ice queue of %s should be deleted", u)
		}
		if _, err := env.store.UserCall(ctx, u); !common.Is(err, common.NotFound) {
			t.Fatalf("user index of %s should be cleared, got %v", u, err)
		}
	}
	if calls, _ := env.store.ChatCalls(ctx, "c1"); len(calls) != 0 {
		t.Fatalf("chat index should be empty, got %v", calls)
	}

	if err := env.orch.Leave(ctx, "alice", "nope"); err != nil {
		t.Fatalf("leaving a missing call is a no-op, got %v", err)
	}
}

func TestEnd(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)
	env.connect(t, res.CallID)

	if err := env.orch.End(ctx, "bob", res.CallID); !common.Is(err, common.Authorization) {
		t.Fatalf("expected Authorization, got %v", err)
	}
	if len(env.rec.To(registry.CallRoom(res.CallID), EventEnded)) != 0 {
		t.Fatal("authorization failures are not broadcast")
	}

	if err := env.orch.End(ctx, "alice", res.CallID); err != nil {
		t.Fatal(err)
	}
	sess := env.session(t, res.CallID)
	if sess.Status != session.Ended {
		t.Fatalf("expected ended, got %s", sess.Status)
	}
	for _, p := range sess.Participants {
		if p.Status != session.Disconnected {
			t.Fatalf("%s should be disconnected, got %s", p.UserID, p.Status)
		}
	}
	ended := env.rec.To(registry.CallRoom(res.CallID), EventEnded)
	if len(ended) != 1 || ended[0].Payload.(Ended).Reason != ReasonEndedByInitiator {
		t.Fatalf("unexpected call:ended %+v", ended)
	}
	if n := len(env.reg.RoomConnections(registry.CallRoom(res.CallID))); n != 0 {
		t.Fatalf("call room should be empty, got %d", n)
	}

	if err := env.orch.End(ctx, "alice", res.CallID); err != nil {
		t.Fatalf("ending twice is a no-op, got %v", err)
	}
	if err := env.orch.End(ctx, "alice", "nope"); !common.Is(err, common.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRelay(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)
	env.connect(t, res.CallID)

	if err := env.orch.Offer(ctx, "alice", res.CallID, "bob", testAnswer); !common.Is(err, common.Validation) {
		t.Fatalf("an answer is not an offer, got %v", err)
	}
	if err := env.orch.Offer(ctx, "alice", res.CallID, "bob", json.RawMessage(`{"type":"offer"`)); !common.Is(err, common.Validation) {
		t.Fatalf("expected Validation, got %v", err)
	}
	if err := env.orch.ICECandidate(ctx, "alice", res.CallID, "bob", json.RawMessage(`{}`)); !common.Is(err, common.Validation) {
		t.Fatalf("expected Validation, got %v", err)
	}
	if err := env.orch.Offer(ctx, "carol", res.CallID, "bob", testOffer); !common.Is(err, common.Authorization) {
		t.Fatalf("expected Authorization, got %v", err)
	}

	if err := env.orch.Offer(ctx, "alice", res.CallID, "bob", testOffer); err != nil {
		t.Fatal(err)
	}
	offers := env.rec.ToUser("bob", EventOffer)
	if len(offers) != 1 || !bytes.Equal(offers[0].Payload.(OfferEvent).Offer, testOffer) {
		t.Fatalf("offer should be forwarded verbatim: %+v", offers)
	}

	candidates := []json.RawMessage{
		json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 1 typ host"}`),
		json.RawMessage(`{"candidate":"candidate:2 1 udp 1 10.0.0.2 2 typ host"}`),
		json.RawMessage(`{"candidate":"candidate:3 1 udp 1 10.0.0.3 3 typ host"}`),
	}
	for _, c := range candidates {
		if err := env.orch.ICECandidate(ctx, "alice", res.CallID, "bob", c); err != nil {
			t.Fatal(err)
		}
	}
	queue, err := env.store.ICECandidates(ctx, res.CallID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != len(candidates) {
		t.Fatalf("expected %d candidates, got %d", len(candidates), len(queue))
	}
	for i := range candidates {
		if !bytes.Equal(queue[i], candidates[i]) {
			t.Fatalf("candidate %d out of order: %s", i, queue[i])
		}
	}
	if n := len(env.rec.ToUser("bob", EventICECandidate)); n != 3 {
		t.Fatalf("expected 3 forwarded candidates, got %d", n)
	}

	// A target that left is a no-op target.
	env.orch.Leave(ctx, "bob", res.CallID)
	env.rec.Reset()
	if err := env.orch.Offer(ctx, "alice", res.CallID, "bob", testOffer); err != nil {
		t.Fatal(err)
	}
	if len(env.rec.ToUser("bob", EventOffer)) != 0 {
		t.Fatal("nothing should be relayed to a participant that left")
	}
}

func TestMedia(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)
	env.connect(t, res.CallID)

	if err := env.orch.ToggleMedia(ctx, "bob", res.CallID, session.Audio, false); err != nil {
		t.Fatal(err)
	}
	if err := env.orch.ToggleMedia(ctx, "bob", res.CallID, session.Video, true); err != nil {
		t.Fatal(err)
	}
	if err := env.orch.ScreenShareStart(ctx, "bob", res.CallID); err != nil {
		t.Fatal(err)
	}

	p := env.session(t, res.CallID).Participant("bob")
	if !p.IsMuted || !p.IsVideoOn || !p.IsScreenSharing {
		t.Fatalf("unexpected media flags %+v", p)
	}

	toggled := env.rec.To(registry.CallRoom(res.CallID), EventMediaToggled)
	if len(toggled) != 2 || toggled[0].Exclude[0] != "bob" {
		t.Fatalf("unexpected media-toggled %+v", toggled)
	}
	if len(env.rec.ToUser("alice", EventMediaToggled)) != 0 {
		t.Fatal("media events never reach personal channels")
	}

	if err := env.orch.ScreenShareStop(ctx, "bob", res.CallID); err != nil {
		t.Fatal(err)
	}
	if env.session(t, res.CallID).Participant("bob").IsScreenSharing {
		t.Fatal("screen share should be stopped")
	}

	if err := env.orch.ToggleMedia(ctx, "bob", res.CallID, "smell", true); !common.Is(err, common.Validation) {
		t.Fatalf("expected Validation, got %v", err)
	}
	if err := env.orch.ToggleMedia(ctx, "bob", "nope", session.Audio, true); err != nil {
		t.Fatalf("toggling on a missing call is a no-op, got %v", err)
	}
	if err := env.orch.ToggleMedia(ctx, "carol", res.CallID, session.Audio, true); err != nil {
		t.Fatalf("toggling outside the call is a no-op, got %v", err)
	}
}

func TestScreenSharePermission(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)

	restricted, _ := env.tokens.Issue("bob", res.CallID, "c1", token.Permissions{CanJoin: true})
	if _, err := env.orch.Join(ctx, env.conns["bob"], res.CallID, restricted); err != nil {
		t.Fatal(err)
	}
	if err := env.orch.ScreenShareStart(ctx, "bob", res.CallID); !common.Is(err, common.Authorization) {
		t.Fatalf("expected Authorization, got %v", err)
	}
	if err := env.orch.ScreenShareStart(ctx, "alice", res.CallID); err != nil {
		t.Fatal(err)
	}
}

func TestDisconnectUser(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)
	env.connect(t, res.CallID)

	if err := env.orch.DisconnectUser(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if p := env.session(t, res.CallID).Participant("bob"); p.Status != session.Disconnected {
		t.Fatalf("bob should be disconnected, got %s", p.Status)
	}
	if err := env.orch.DisconnectUser(ctx, "carol"); err != nil {
		t.Fatalf("users without a call are ignored, got %v", err)
	}

	// Reconnect after leaving.
	if _, err := env.orch.Join(ctx, env.conns["bob"], res.CallID, ""); err != nil {
		t.Fatal(err)
	}
	if p := env.session(t, res.CallID).Participant("bob"); p.Status != session.Joining || p.LeftAt != nil {
		t.Fatalf("bob should be joining again, got %+v", p)
	}
}

func TestRefreshToken(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)

	refreshed, err := env.orch.RefreshToken(ctx, "alice", res.Token)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := env.tokens.VerifyFor(refreshed.Token, res.CallID, "alice")
	if err != nil || claims.Permissions != token.InitiatorPermissions() {
		t.Fatalf("unexpected refreshed token %+v %v", claims, err)
	}

	if _, err := env.orch.RefreshToken(ctx, "bob", res.Token); !common.Is(err, common.Authorization) {
		t.Fatalf("expected Authorization, got %v", err)
	}

	env.orch.End(ctx, "alice", res.CallID)
	if _, err := env.orch.RefreshToken(ctx, "alice", res.Token); !common.Is(err, common.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestActiveCalls(t *testing.T) {
	env := initEnv(t)
	ctx := context.Background()
	res := env.initiate(t)

	calls, err := env.orch.ActiveCalls(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0].CallID != res.CallID {
		t.Fatalf("unexpected active calls %+v", calls)
	}

	env.orch.End(ctx, "alice", res.CallID)
	calls, _ = env.orch.ActiveCalls(ctx, "c1")
	if len(calls) != 0 {
		t.Fatalf("ended calls are not active, got %d", len(calls))
	}
	if sess, err := env.orch.Session(ctx, res.CallID); err != nil || sess.Status != session.Ended {
		t.Fatalf("ended session should remain readable: %+v %v", sess, err)
	}
}
