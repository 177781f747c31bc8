package ws

import (
	"context"
	"encoding/json"

	"github.com/Linkolnn/Icore/src/chat"
	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/persistence"
	"github.com/Linkolnn/Icore/src/registry"
	"github.com/Linkolnn/Icore/src/session"
)

// handler runs one inbound event on behalf of the user of conn. The result
// is merged into the acknowledgement.
type handler func(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error)

type chatRequest struct {
	ChatID string `json:"chatId"`
}

type editRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

type deleteRequest struct {
	MessageID string `json:"messageId"`
}

type initiateRequest struct {
	ChatID string           `json:"chatId"`
	Type   session.CallType `json:"type"`
}

type callRequest struct {
	CallID string `json:"callId"`
	Token  string `json:"token,omitempty"`
}

type signalRequest struct {
	CallID       string          `json:"callId"`
	TargetUserID string          `json:"targetUserId"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

type mediaRequest struct {
	CallID  string           `json:"callId"`
	Type    session.CallType `json:"type"`
	Enabled bool             `json:"enabled"`
}

type refreshRequest struct {
	Token string `json:"token"`
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return common.NewErrMsg("Frame", common.Validation, "", "data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return common.NewErrMsg("Frame", common.Validation, "", "malformed data")
	}
	return nil
}

func decodeChat(data json.RawMessage) (chatRequest, error) {
	var req chatRequest
	if err := decode(data, &req); err != nil {
		return req, err
	}
	if req.ChatID == "" {
		return req, common.NewErrMsg("Frame", common.Validation, "", "chatId is required")
	}
	return req, nil
}

func decodeCall(data json.RawMessage) (callRequest, error) {
	var req callRequest
	if err := decode(data, &req); err != nil {
		return req, err
	}
	if req.CallID == "" {
		return req, common.NewErrMsg("Frame", common.Validation, "", "callId is required")
	}
	return req, nil
}

func (g *Gateway) routes() map[string]handler {
	return map[string]handler{
		"chat:join":               g.chatJoin,
		"chat:leave":              g.chatLeave,
		"chat:read":               g.chatRead,
		"chat:create":             g.chatCreate,
		"message:send":            g.messageSend,
		"message:edit":            g.messageEdit,
		"message:delete":          g.messageDelete,
		"messages:read":           g.messagesRead,
		"typing:start":            g.typing(true),
		"typing:stop":             g.typing(false),
		"call:initiate":           g.callInitiate,
		"call:join":               g.callJoin,
		"call:offer":              g.callOffer,
		"call:answer":             g.callAnswer,
		"call:ice-candidate":      g.callICECandidate,
		"call:toggle-media":       g.callToggleMedia,
		"call:screen-share-start": g.callScreenShare(true),
		"call:screen-share-stop":  g.callScreenShare(false),
		"call:leave":              g.callLeave,
		"call:end":                g.callEnd,
		"call:refresh-token":      g.callRefreshToken,
	}
}

func (g *Gateway) chatJoin(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	req, err := decodeChat(data)
	if err != nil {
		return nil, err
	}
	if err := g.chats.CanAccess(ctx, req.ChatID, conn.UserID); err != nil {
		return nil, err
	}
	g.registry.JoinRoom(conn, registry.ChatRoom(req.ChatID))
	return req, nil
}

func (g *Gateway) chatLeave(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	req, err := decodeChat(data)
	if err != nil {
		return nil, err
	}
	g.registry.LeaveRoom(conn, registry.ChatRoom(req.ChatID))
	return req, nil
}

func (g *Gateway) chatRead(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	req, err := decodeChat(data)
	if err != nil {
		return nil, err
	}
	if err := g.chats.CanAccess(ctx, req.ChatID, conn.UserID); err != nil {
		return nil, err
	}
	return req, g.chats.Tracker().Reset(ctx, req.ChatID, conn.UserID)
}

func (g *Gateway) chatCreate(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req chat.NewChat
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	created, err := g.chats.CreateChat(ctx, conn.UserID, req)
	if err != nil {
		return nil, err
	}
	return struct {
		Chat *persistence.Chat `json:"chat"`
	}{created}, nil
}

func (g *Gateway) messageSend(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req chat.NewMessage
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if g.limiter != nil {
		ok, err := g.limiter.Allow(ctx, conn.UserID)
		if err != nil {
			g.logger.WithError(err).Warn("Rate limiter unavailable")
		} else if !ok {
			return nil, common.NewErrMsg("Message", common.RateLimited, req.ChatID, "too many messages")
		}
	}
	msg, err := g.chats.SendMessage(ctx, conn.UserID, req)
	if err != nil {
		return nil, err
	}
	return struct {
		Message *persistence.Message `json:"message"`
	}{msg}, nil
}

func (g *Gateway) messageEdit(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req editRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	msg, err := g.chats.EditMessage(ctx, conn.UserID, req.MessageID, req.Text)
	if err != nil {
		return nil, err
	}
	return struct {
		Message *persistence.Message `json:"message"`
	}{msg}, nil
}

func (g *Gateway) messageDelete(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req deleteRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if _, err := g.chats.DeleteMessage(ctx, conn.UserID, req.MessageID); err != nil {
		return nil, err
	}
	return req, nil
}

func (g *Gateway) messagesRead(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	req, err := decodeChat(data)
	if err != nil {
		return nil, err
	}
	ids, err := g.chats.Tracker().MarkMessagesRead(ctx, req.ChatID, conn.UserID)
	if err != nil {
		return nil, err
	}
	return struct {
		UpdatedCount int      `json:"updatedCount"`
		MessageIDs   []string `json:"messageIds"`
	}{len(ids), ids}, nil
}

func (g *Gateway) typing(started bool) handler {
	return func(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
		req, err := decodeChat(data)
		if err != nil {
			return nil, err
		}
		return nil, g.chats.Typing(ctx, req.ChatID, conn.UserID, started)
	}
}

func (g *Gateway) callInitiate(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req initiateRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return g.calls.Initiate(ctx, conn, req.ChatID, req.Type)
}

func (g *Gateway) callJoin(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	req, err := decodeCall(data)
	if err != nil {
		return nil, err
	}
	return g.calls.Join(ctx, conn, req.CallID, req.Token)
}

func (g *Gateway) callOffer(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req signalRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, g.calls.Offer(ctx, conn.UserID, req.CallID, req.TargetUserID, req.Offer)
}

func (g *Gateway) callAnswer(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req signalRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, g.calls.Answer(ctx, conn.UserID, req.CallID, req.TargetUserID, req.Answer)
}

func (g *Gateway) callICECandidate(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req signalRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, g.calls.ICECandidate(ctx, conn.UserID, req.CallID, req.TargetUserID, req.Candidate)
}

func (g *Gateway) callToggleMedia(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req mediaRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return nil, g.calls.ToggleMedia(ctx, conn.UserID, req.CallID, req.Type, req.Enabled)
}

func (g *Gateway) callScreenShare(start bool) handler {
	return func(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
		req, err := decodeCall(data)
		if err != nil {
			return nil, err
		}
		if start {
			return nil, g.calls.ScreenShareStart(ctx, conn.UserID, req.CallID)
		}
		return nil, g.calls.ScreenShareStop(ctx, conn.UserID, req.CallID)
	}
}

func (g *Gateway) callLeave(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	req, err := decodeCall(data)
	if err != nil {
		return nil, err
	}
	return nil, g.calls.Leave(ctx, conn.UserID, req.CallID)
}

func (g *Gateway) callEnd(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	req, err := decodeCall(data)
	if err != nil {
		return nil, err
	}
	return nil, g.calls.End(ctx, conn.UserID, req.CallID)
}

func (g *Gateway) callRefreshToken(ctx context.Context, conn *registry.Connection, data json.RawMessage) (interface{}, error) {
	var req refreshRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	return g.calls.RefreshToken(ctx, conn.UserID, req.Token)
}
