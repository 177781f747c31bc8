// Package signal implements the call state machine. It authorizes users
// against chat membership and call tokens, keeps call sessions in a
// session.Store, and relays SDP offers, answers and ICE candidates between
// participants. Media never passes through it.
package signal

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/Linkolnn/Icore/src/broadcast"
	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/persistence"
	"github.com/Linkolnn/Icore/src/registry"
	"github.com/Linkolnn/Icore/src/session"
	"github.com/Linkolnn/Icore/src/token"
	"github.com/pion/webrtc/v2"
	"github.com/sirupsen/logrus"
)

// Rooms is the part of the connection registry the orchestrator needs to
// manage call rooms.
type Rooms interface {
	JoinRoom(conn *registry.Connection, roomID string) bool
	LeaveRoom(conn *registry.Connection, roomID string) bool
	UserConnections(userID string) []*registry.Connection
	EvictRoom(roomID string) []*registry.Connection
}

// Tokens issues and checks call tokens.
type Tokens interface {
	Issue(userID, callID, chatID string, perms token.Permissions) (string, error)
	Verify(raw string) (*token.CallClaims, error)
	VerifyFor(raw, callID, userID string) (*token.CallClaims, error)
	Refresh(raw string) (string, *token.CallClaims, error)
}

// Orchestrator runs the call state machine. Mutations of a session are
// serialized per call id. Operations touching the active call of a user are
// serialized per user id first, then per call id, never the other way
// around.
type Orchestrator struct {
	store       session.Store
	chats       persistence.Service
	tokens      Tokens
	rooms       Rooms
	broadcaster broadcast.Broadcaster
	iceServers  []webrtc.ICEServer

	locks   *common.KeyedMutex
	timeout time.Duration
	now     func() time.Time

	// permissions presented with call:join, per call and user
	permsLock sync.Mutex
	perms     map[string]token.Permissions

	logger *logrus.Entry
}

// Config groups the collaborators of an Orchestrator.
type Config struct {
	Store        session.Store
	Chats        persistence.Service
	Tokens       Tokens
	Rooms        Rooms
	Broadcaster  broadcast.Broadcaster
	ICEServers   []webrtc.ICEServer
	StoreTimeout time.Duration
	Logger       *logrus.Entry
}

// NewOrchestrator ...
func NewOrchestrator(conf Config) *Orchestrator {
	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Orchestrator{
		store:       conf.Store,
		chats:       conf.Chats,
		tokens:      conf.Tokens,
		rooms:       conf.Rooms,
		broadcaster: conf.Broadcaster,
		iceServers:  conf.ICEServers,
		locks:       common.NewKeyedMutex(),
		timeout:     conf.StoreTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		perms:       make(map[string]token.Permissions),
		logger:      logger,
	}
}

// ICEServers returns the ICE server list handed to clients.
func (o *Orchestrator) ICEServers() []webrtc.ICEServer {
	return o.iceServers
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func (o *Orchestrator) lockCall(callID string) func() {
	return o.locks.Lock("call:" + callID)
}

func (o *Orchestrator) lockUser(userID string) func() {
	return o.locks.Lock("user:" + userID)
}

func permsKey(callID, userID string) string {
	return callID + "/" + userID
}

func (o *Orchestrator) setPermissions(callID, userID string, p token.Permissions) {
	o.permsLock.Lock()
	defer o.permsLock.Unlock()
	o.perms[permsKey(callID, userID)] = p
}

func (o *Orchestrator) permissions(callID, userID string) (token.Permissions, bool) {
	o.permsLock.Lock()
	defer o.permsLock.Unlock()
	p, ok := o.perms[permsKey(callID, userID)]
	return p, ok
}

func (o *Orchestrator) dropPermissions(callID string, userIDs []string) {
	o.permsLock.Lock()
	defer o.permsLock.Unlock()
	for _, u := range userIDs {
		delete(o.perms, permsKey(callID, u))
	}
}

// liveSession returns a session that is not ended. Ended sessions are
// reported as NotFound, like expired ones.
func (o *Orchestrator) liveSession(ctx context.Context, callID string) (*session.CallSession, error) {
	if callID == "" {
		return nil, common.NewErrMsg("Call", common.Validation, "", "callId is required")
	}
	sess, err := o.store.GetSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, common.NewErrMsg("Call", common.NotFound, callID, "call has ended")
	}
	return sess, nil
}

// activeCall returns the id of the call in which the user is currently
// joining or connected, or "" when there is none. Stale index entries are
// cleared on the way.
func (o *Orchestrator) activeCall(ctx context.Context, userID string) (string, error) {
	callID, err := o.store.UserCall(ctx, userID)
	if common.Is(err, common.NotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	sess, err := o.store.GetSession(ctx, callID)
	if err != nil && !common.Is(err, common.NotFound) {
		return "", err
	}
	if err == nil && !sess.Ended() {
		if p := sess.Participant(userID); p != nil && p.Status.Live() {
			return callID, nil
		}
	}

	if err := o.store.ClearUserCall(ctx, userID, callID); err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("Clear stale call index")
	}
	return "", nil
}

// cleanup removes the signaling records and index entries of an ended
// session. The session record itself stays until it expires. Failures are
// logged; every record expires on its own.
func (o *Orchestrator) cleanup(ctx context.Context, sess *session.CallSession) {
	logger := o.logger.WithField("call_id", sess.CallID)
	users := sess.UserIDs()

	if err := o.store.DeleteSignaling(ctx, sess.CallID, users); err != nil {
		logger.WithError(err).Warn("Delete signaling records")
	}
	if err := o.store.RemoveChatCall(ctx, sess.ChatID, sess.CallID); err != nil {
		logger.WithError(err).Warn("Remove chat call")
	}
	for _, u := range users {
		if err := o.store.ClearUserCall(ctx, u, sess.CallID); err != nil {
			logger.WithError(err).WithField("user_id", u).Warn("Clear user call")
		}
	}
	o.dropPermissions(sess.CallID, users)

	logger.Debug("Call cleaned up")
}

func (o *Orchestrator) toRoom(callID, event string, payload interface{}, exclude ...string) {
	err := o.broadcaster.BroadcastToRoom(registry.CallRoom(callID), event, payload, exclude...)
	if err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"call_id": callID,
			"event":   event,
		}).Warn("Broadcast to call room")
	}
}

func (o *Orchestrator) toUser(userID, event string, payload interface{}) {
	if err := o.broadcaster.BroadcastToUser(userID, event, payload); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"event":   event,
		}).Warn("Broadcast to user")
	}
}

func validateSDP(raw json.RawMessage, want webrtc.SDPType) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return common.NewErrMsg("SDP", common.Validation, want.String(), "malformed session description")
	}
	if desc.Type != want {
		return common.NewErrMsg("SDP", common.Validation, want.String(), "unexpected session description type "+desc.Type.String())
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return common.NewErrMsg("SDP", common.Validation, want.String(), "sdp is required")
	}
	return nil
}

func validateCandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return common.NewErrMsg("ICE", common.Validation, "", "malformed ice candidate")
	}
	if strings.TrimSpace(init.Candidate) == "" {
		return common.NewErrMsg("ICE", common.Validation, "", "candidate is required")
	}
	return nil
}
