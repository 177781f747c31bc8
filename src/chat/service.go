package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/persistence"
	"github.com/Linkolnn/Icore/src/unread"
	"github.com/sirupsen/logrus"
)

const (
	// MaxMessageLength is the maximum number of characters in a message.
	MaxMessageLength = 10000
	// MaxChatNameLength is the maximum number of characters in a chat name.
	MaxChatNameLength = 100
)

// NewMessage is an inbound message:send request.
type NewMessage struct {
	ChatID    string                 `json:"chatId"`
	Text      string                 `json:"text"`
	ReplyTo   string                 `json:"replyTo,omitempty"`
	Forwarded *persistence.Forwarded `json:"forwarded,omitempty"`
}

// NewChat is an inbound chat:create request. The creator is added to the
// participants and becomes the owner.
type NewChat struct {
	Type           persistence.ChatType `json:"type"`
	Name           string               `json:"name,omitempty"`
	ParticipantIDs []string             `json:"participantIds"`
}

// Service runs the message workflows. Persisting a message and broadcasting
// it are serialized per chat, so the room sees messages in write order.
type Service struct {
	persistence persistence.Service
	router      *Router
	tracker     *unread.Tracker
	locks       *common.KeyedMutex
	timeout     time.Duration
	now         func() time.Time
	logger      *logrus.Entry
}

// NewService ...
func NewService(svc persistence.Service, router *Router, tracker *unread.Tracker, timeout time.Duration, logger *logrus.Entry) *Service {
	return &Service{
		persistence: svc,
		router:      router,
		tracker:     tracker,
		locks:       common.NewKeyedMutex(),
		timeout:     timeout,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// Router returns the fan-out router used by the Service.
func (s *Service) Router() *Router {
	return s.router
}

// Tracker returns the unread tracker used by the Service.
func (s *Service) Tracker() *unread.Tracker {
	return s.tracker
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// CanAccess returns nil if the user is a participant of the chat, and an
// Authorization error otherwise.
func (s *Service) CanAccess(ctx context.Context, chatID, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.persistence.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return common.NewErrMsg("Chat", common.Authorization, chatID, "not a participant")
	}
	return nil
}

// SendMessage stores a message, updates the chat preview and the unread
// counters, and delivers message:new.
func (s *Service) SendMessage(ctx context.Context, senderID string, in NewMessage) (*persistence.Message, error) {
	text := strings.TrimSpace(in.Text)
	if in.ChatID == "" {
		return nil, common.NewErrMsg("Message", common.Validation, "", "chatId is required")
	}
	if text == "" {
		return nil, common.NewErrMsg("Message", common.Validation, in.ChatID, "text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, common.NewErrMsg("Message", common.Validation, in.ChatID,
			fmt.Sprintf("text must not exceed %d characters", MaxMessageLength))
	}
	if in.Forwarded != nil && in.Forwarded.FromUserID == "" {
		return nil, common.NewErrMsg("Message", common.Validation, in.ChatID, "forwarded.from is required")
	}

	unlock := s.locks.Lock(in.ChatID)
	defer unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.persistence.GetChat(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if _, ok := chat.Participant(senderID); !ok {
		return nil, common.NewErrMsg("Chat", common.Authorization, in.ChatID, "not a participant")
	}

	msg, err := s.persistence.AppendMessage(ctx, &persistence.Message{
		ChatID:    in.ChatID,
		SenderID:  senderID,
		Text:      text,
		Type:      "text",
		Status:    persistence.Sent,
		ReplyTo:   in.ReplyTo,
		Forwarded: in.Forwarded,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if err := s.persistence.UpdateLastMessage(ctx, in.ChatID, msg); err != nil {
		s.logger.WithError(err).WithField("chat_id", in.ChatID).Warn("Update last message")
	}
	if _, err := s.tracker.Increment(ctx, in.ChatID, senderID); err != nil {
		s.logger.WithError(err).WithField("chat_id", in.ChatID).Warn("Increment unread")
	}

	// The message is stored; a partial fan-out is logged by the router and
	// not reported as a failed send.
	s.router.SendNewMessage(in.ChatID, chat.UserIDs(), msg)

	return msg, nil
}

// EditMessage replaces the text of a message. Only the sender may edit.
func (s *Service) EditMessage(ctx context.Context, userID, messageID, text string) (*persistence.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, common.NewErrMsg("Message", common.Validation, messageID, "text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, common.NewErrMsg("Message", common.Validation, messageID,
			fmt.Sprintf("text must not exceed %d characters", MaxMessageLength))
	}

	msg, err := s.ownMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(msg.ChatID)
	defer unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	edited, err := s.persistence.EditMessage(ctx, messageID, text, s.now())
	if err != nil {
		return nil, err
	}
	participants, err := s.persistence.GetChatParticipants(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}

	s.router.SendMessageEdited(msg.ChatID, participants, edited)

	return edited, nil
}

// DeleteMessage soft-deletes a message. Only the sender may delete. When the
// message was the last message of the chat, the preview falls back to the
// newest remaining message.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) (*persistence.Message, error) {
	msg, err := s.ownMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(msg.ChatID)
	defer unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.persistence.GetChat(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}
	deleted, err := s.persistence.DeleteMessage(ctx, messageID, s.now())
	if err != nil {
		return nil, err
	}

	var newLast *persistence.Message
	if chat.LastMessage != nil && chat.LastMessage.ID == messageID {
		newLast, err = s.persistence.LatestMessage(ctx, msg.ChatID)
		if err != nil && !common.Is(err, common.NotFound) {
			return nil, err
		}
		if err := s.persistence.UpdateLastMessage(ctx, msg.ChatID, newLast); err != nil {
			s.logger.WithError(err).WithField("chat_id", msg.ChatID).Warn("Update last message")
		}
	}

	s.router.SendMessageDeleted(msg.ChatID, chat.UserIDs(), messageID, newLast)

	return deleted, nil
}

// CreateChat stores a chat owned by creatorID and notifies every participant.
func (s *Service) CreateChat(ctx context.Context, creatorID string, in NewChat) (*persistence.Chat, error) {
	if !in.Type.Valid() {
		return nil, common.NewErrMsg("Chat", common.Validation, "", "unknown chat type")
	}
	name := strings.TrimSpace(in.Name)
	if utf8.RuneCountInString(name) > MaxChatNameLength {
		return nil, common.NewErrMsg("Chat", common.Validation, "",
			fmt.Sprintf("name must not exceed %d characters", MaxChatNameLength))
	}

	participants := persistence.NormalizeParticipants(
		append([]string{creatorID}, in.ParticipantIDs...), creatorID, s.now())
	if in.Type == persistence.Personal && len(participants) != 2 {
		return nil, common.NewErrMsg("Chat", common.Validation, "", "a personal chat has exactly two participants")
	}
	if in.Type != persistence.Personal && name == "" {
		return nil, common.NewErrMsg("Chat", common.Validation, "", "name is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := s.persistence.CreateChat(ctx, &persistence.Chat{
		Type:         in.Type,
		Name:         name,
		Participants: participants,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.router.SendChatCreated(chat)

	return chat, nil
}

// Typing relays a typing indicator to the chat room.
func (s *Service) Typing(ctx context.Context, chatID, userID string, started bool) error {
	if err := s.CanAccess(ctx, chatID, userID); err != nil {
		return err
	}
	return s.router.SendTyping(chatID, userID, started)
}

func (s *Service) ownMessage(ctx context.Context, userID, messageID string) (*persistence.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	msg, err := s.persistence.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, common.NewErr("Message", common.NotFound, messageID)
	}
	if msg.SenderID != userID {
		return nil, common.NewErrMsg("Message", common.Authorization, messageID, "only the sender may change a message")
	}
	return msg, nil
}
