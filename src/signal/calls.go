package signal

import (
	"context"
	"fmt"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/registry"
	"github.com/Linkolnn/Icore/src/session"
	"github.com/Linkolnn/Icore/src/token"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Initiate starts a call in a chat. The initiator is connected right away
// and every other member is invited through their personal channel with a
// call token of their own. conn joins the call room.
func (o *Orchestrator) Initiate(ctx context.Context, conn *registry.Connection, chatID string, callType session.CallType) (*Initiated, error) {
	userID := conn.UserID
	if chatID == "" {
		return nil, common.NewErrMsg("Call", common.Validation, "", "chatId is required")
	}
	if !callType.Valid() {
		return nil, common.NewErrMsg("Call", common.Validation, chatID, "unknown call type")
	}

	unlock := o.lockUser(userID)
	defer unlock()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	chat, err := o.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	member, ok := chat.Participant(userID)
	if !ok {
		return nil, common.NewErrMsg("Call", common.Authorization, chatID, "not a chat participant")
	}
	if !member.Permissions.CanStartCall {
		return nil, common.NewErrMsg("Call", common.Authorization, chatID, "not allowed to start calls")
	}

	current, err := o.activeCall(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current != "" {
		return nil, common.NewErrMsg("Call", common.Conflict, current, "already in another call")
	}

	callID := uuid.NewString()
	sess := session.NewCallSession(callID, chatID, callType, userID, chat.UserIDs(), o.now())

	unlockCall := o.lockCall(callID)
	defer unlockCall()

	if err := o.store.SetSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create call session: %w", err)
	}
	if err := o.store.AddChatCall(ctx, chatID, callID); err != nil {
		o.abandon(ctx, sess)
		return nil, fmt.Errorf("index chat call: %w", err)
	}
	if err := o.store.SetUserCall(ctx, userID, callID); err != nil {
		o.abandon(ctx, sess)
		return nil, fmt.Errorf("index user call: %w", err)
	}

	initiatorToken, err := o.tokens.Issue(userID, callID, chatID, token.InitiatorPermissions())
	if err != nil {
		o.abandon(ctx, sess)
		return nil, err
	}
	o.setPermissions(callID, userID, token.InitiatorPermissions())

	o.rooms.JoinRoom(conn, registry.CallRoom(callID))

	for _, p := range sess.Participants {
		if p.Status != session.Invited {
			continue
		}
		invite, err := o.tokens.Issue(p.UserID, callID, chatID, token.DefaultPermissions())
		if err != nil {
			o.logger.WithError(err).WithField("user_id", p.UserID).Error("Issue call token")
			continue
		}
		o.toUser(p.UserID, EventIncoming, Incoming{
			CallID:      callID,
			ChatID:      chatID,
			Type:        callType,
			InitiatorID: userID,
			Token:       invite,
			ICEServers:  o.iceServers,
		})
	}

	o.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"chat_id": chatID,
		"type":    callType,
	}).Debug("Call initiated")

	return &Initiated{
		CallID:     callID,
		Token:      initiatorToken,
		ICEServers: o.iceServers,
		Session:    sess,
	}, nil
}

// abandon ends a call that failed to start. Nobody was invited yet.
func (o *Orchestrator) abandon(ctx context.Context, sess *session.CallSession) {
	sess.End(o.now())
	if err := o.store.SetSession(ctx, sess); err != nil {
		o.logger.WithError(err).WithField("call_id", sess.CallID).Warn("End abandoned call")
	}
	o.cleanup(ctx, sess)
}

// Join adds the user of conn to a call, or brings them back after they
// left. Users added to the chat after the call started are inserted. A call
// token is optional; when present it must be bound to this call and user
// and allow joining.
func (o *Orchestrator) Join(ctx context.Context, conn *registry.Connection, callID, callToken string) (*Joined, error) {
	userID := conn.UserID

	unlockUser := o.lockUser(userID)
	defer unlockUser()
	unlock := o.lockCall(callID)
	defer unlock()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	sess, err := o.liveSession(ctx, callID)
	if err != nil {
		return nil, err
	}

	ok, err := o.chats.IsParticipant(ctx, sess.ChatID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NewErrMsg("Call", common.Authorization, callID, "not authorized for this call")
	}

	if callToken != "" {
		claims, err := o.tokens.VerifyFor(callToken, callID, userID)
		if err != nil {
			return nil, err
		}
		if !claims.Permissions.CanJoin {
			return nil, common.NewErrMsg("Call", common.Authorization, callID, "call token does not allow joining")
		}
		o.setPermissions(callID, userID, claims.Permissions)
	}

	current, err := o.activeCall(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current != "" && current != callID {
		return nil, common.NewErrMsg("Call", common.Conflict, current, "already in another call")
	}

	sess.Join(userID, o.now())
	sess.Recompute(o.now())
	if err := o.store.SetSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("join call: %w", err)
	}
	if err := o.store.SetUserCall(ctx, userID, callID); err != nil {
		return nil, fmt.Errorf("index user call: %w", err)
	}

	o.rooms.JoinRoom(conn, registry.CallRoom(callID))
	o.toRoom(callID, EventParticipantJoined, ParticipantEvent{CallID: callID, UserID: userID}, userID)

	return &Joined{
		CallID:     callID,
		Session:    sess,
		ICEServers: o.iceServers,
	}, nil
}

// Leave disconnects a user from a call. Leaving is accepted whatever the
// state of the call: a missing session or a user that already left is a
// no-op. When nobody is connected or joining anymore, the call ends.
func (o *Orchestrator) Leave(ctx context.Context, userID, callID string) error {
	unlock := o.lockCall(callID)
	defer unlock()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	room := registry.CallRoom(callID)
	for _, c := range o.rooms.UserConnections(userID) {
		o.rooms.LeaveRoom(c, room)
	}

	sess, err := o.liveSession(ctx, callID)
	if common.Is(err, common.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if !sess.Leave(userID, o.now()) {
		return nil
	}
	sess.Recompute(o.now())
	if err := o.store.SetSession(ctx, sess); err != nil {
		return fmt.Errorf("leave call: %w", err)
	}
	if err := o.store.ClearUserCall(ctx, userID, callID); err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("Clear user call")
	}

	o.toRoom(callID, EventParticipantLeft, ParticipantEvent{CallID: callID, UserID: userID})

	if sess.Ended() {
		o.cleanup(ctx, sess)
		o.toRoom(callID, EventEnded, Ended{CallID: callID, Reason: ReasonAllParticipantsLeft})
		o.rooms.EvictRoom(room)
	}

	return nil
}

// End terminates a call. Only the initiator may end a call for everyone.
func (o *Orchestrator) End(ctx context.Context, userID, callID string) error {
	unlock := o.lockCall(callID)
	defer unlock()

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	sess, err := o.store.GetSession(ctx, callID)
	if err != nil {
		return err
	}
	if sess.InitiatorID != userID {
		return common.NewErrMsg("Call", common.Authorization, callID, "not authorized to end call")
	}
	if sess.Ended() {
		return nil
	}

	sess.End(o.now())
	if err := o.store.SetSession(ctx, sess); err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	o.cleanup(ctx, sess)

	o.toRoom(callID, EventEnded, Ended{CallID: callID, Reason: ReasonEndedByInitiator})
	o.rooms.EvictRoom(registry.CallRoom(callID))

	o.logger.WithField("call_id", callID).Debug("Call ended by initiator")

	return nil
}

// DisconnectUser is called when the last connection of a user closes. It
// leaves the active call of the user, if any.
func (o *Orchestrator) DisconnectUser(ctx context.Context, userID string) error {
	lookup, cancel := o.withTimeout(ctx)
	callID, err := o.store.UserCall(lookup, userID)
	cancel()
	if common.Is(err, common.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return o.Leave(ctx, userID, callID)
}

// RefreshToken re-issues the call token of a user for a call that has not
// ended.
func (o *Orchestrator) RefreshToken(ctx context.Context, userID, callToken string) (*Refreshed, error) {
	claims, err := o.tokens.Verify(callToken)
	if err != nil {
		return nil, err
	}
	if claims.UserID != userID {
		return nil, common.NewErrMsg("Call", common.Authorization, claims.CallID, "call token is bound to another user")
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	if _, err := o.liveSession(ctx, claims.CallID); err != nil {
		return nil, err
	}

	fresh, _, err := o.tokens.Refresh(callToken)
	if err != nil {
		return nil, err
	}
	return &Refreshed{CallID: claims.CallID, Token: fresh}, nil
}

// Session returns a call session, ended or not, until it expires.
func (o *Orchestrator) Session(ctx context.Context, callID string) (*session.CallSession, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	return o.store.GetSession(ctx, callID)
}

// ActiveCalls returns the sessions of a chat that have not ended.
func (o *Orchestrator) ActiveCalls(ctx context.Context, chatID string) ([]*session.CallSession, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	ids, err := o.store.ChatCalls(ctx, chatID)
	if err != nil {
		return nil, err
	}

	res := []*session.CallSession{}
	for _, id := range ids {
		sess, err := o.store.GetSession(ctx, id)
		if common.Is(err, common.NotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !sess.Ended() {
			res = append(res, sess)
		}
	}
	return res, nil
}
