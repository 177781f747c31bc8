// Package chat delivers chat events to the rooms and personal channels of
// the participants, and runs the message write workflow.
package chat

import (
	"errors"

	"github.com/Linkolnn/Icore/src/broadcast"
	"github.com/Linkolnn/Icore/src/persistence"
	"github.com/Linkolnn/Icore/src/registry"
	"github.com/sirupsen/logrus"
)

// Outbound chat events.
const (
	EventMessageNew     = "message:new"
	EventMessageEdited  = "message:edited"
	EventMessageDeleted = "message:deleted"
	EventMessagesRead   = "messages:read"
	EventChatCreated    = "chat:created"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
)

// MessageDeleted is the payload of EventMessageDeleted. NewLastMessage is set
// when the deleted message was the last message of the chat.
type MessageDeleted struct {
	MessageID      string               `json:"messageId"`
	ChatID         string               `json:"chatId"`
	NewLastMessage *persistence.Message `json:"newLastMessage,omitempty"`
}

// MessagesRead is the payload of EventMessagesRead.
type MessagesRead struct {
	ChatID     string   `json:"chatId"`
	ReadBy     string   `json:"readBy"`
	MessageIDs []string `json:"messageIds"`
}

// Typing is the payload of EventTypingStart and EventTypingStop.
type Typing struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// Router fans chat events out to chat rooms and personal channels.
type Router struct {
	broadcaster broadcast.Broadcaster
	logger      *logrus.Entry
}

// NewRouter ...
func NewRouter(broadcaster broadcast.Broadcaster, logger *logrus.Entry) *Router {
	return &Router{
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// SendNewMessage broadcasts a message once to the chat room, and to the
// personal channel of every participant the room delivery did not reach. A
// user joining the room during the delivery gets a personal copy as well.
func (r *Router) SendNewMessage(chatID string, participants []string, msg *persistence.Message) error {
	reached, err := broadcast.ToRoomReached(r.broadcaster, registry.ChatRoom(chatID), EventMessageNew, msg)

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, userID := range participants {
		if _, ok := reached[userID]; ok {
			continue
		}
		if err := r.broadcaster.BroadcastToUser(userID, EventMessageNew, msg); err != nil {
			errs = append(errs, err)
		}
	}

	return r.joinErrors(chatID, EventMessageNew, errs)
}

// SendMessageEdited broadcasts an edited message to the chat room and to the
// personal channel of every participant.
func (r *Router) SendMessageEdited(chatID string, participants []string, msg *persistence.Message) error {
	return r.roomAndEveryone(chatID, participants, EventMessageEdited, msg)
}

// SendMessageDeleted broadcasts a deletion to the chat room and to the
// personal channel of every participant.
func (r *Router) SendMessageDeleted(chatID string, participants []string, messageID string, newLast *persistence.Message) error {
	return r.roomAndEveryone(chatID, participants, EventMessageDeleted, MessageDeleted{
		MessageID:      messageID,
		ChatID:         chatID,
		NewLastMessage: newLast,
	})
}

// SendChatCreated notifies the personal channel of every participant of a
// new chat.
func (r *Router) SendChatCreated(chat *persistence.Chat) error {
	var errs []error
	for _, userID := range chat.UserIDs() {
		if err := r.broadcaster.BroadcastToUser(userID, EventChatCreated, chat); err != nil {
			errs = append(errs, err)
		}
	}
	return r.joinErrors(chat.ID, EventChatCreated, errs)
}

// SendTyping notifies the chat room, except the typing user.
func (r *Router) SendTyping(chatID, userID string, started bool) error {
	event := EventTypingStop
	if started {
		event = EventTypingStart
	}
	return r.broadcaster.BroadcastToRoom(registry.ChatRoom(chatID), event, Typing{
		ChatID: chatID,
		UserID: userID,
	}, userID)
}

// SendMessagesRead sends one batched read receipt to the chat room.
func (r *Router) SendMessagesRead(chatID, readBy string, messageIDs []string) error {
	return r.broadcaster.BroadcastToRoom(registry.ChatRoom(chatID), EventMessagesRead, MessagesRead{
		ChatID:     chatID,
		ReadBy:     readBy,
		MessageIDs: messageIDs,
	})
}

func (r *Router) roomAndEveryone(chatID string, participants []string, event string, payload interface{}) error {
	var errs []error
	if err := r.broadcaster.BroadcastToRoom(registry.ChatRoom(chatID), event, payload); err != nil {
		errs = append(errs, err)
	}
	for _, userID := range participants {
		if err := r.broadcaster.BroadcastToUser(userID, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return r.joinErrors(chatID, event, errs)
}

func (r *Router) joinErrors(chatID, event string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	r.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"event":   event,
	}).WithError(err).Warn("Fan-out incomplete")
	return err
}
