// Package persistence defines the Persistence Service consumed by the
// realtime core: chats, messages and unread counters. The service is assumed
// to be strongly consistent per document. InmemService is a reference
// implementation; package sqlite provides a durable one.
package persistence

import (
	"context"
	"time"
)

// ChatType is the kind of a chat.
type ChatType string

const (
	// Personal is a one-to-one chat.
	Personal ChatType = "personal"
	// Group is a multi-user chat.
	Group ChatType = "group"
	// Channel is a broadcast chat.
	Channel ChatType = "channel"
)

// Valid returns true for known chat types.
func (t ChatType) Valid() bool {
	return t == Personal || t == Group || t == Channel
}

// PerReaderReceipts returns true if read receipts are tracked per reader
// rather than with a single message status.
func (t ChatType) PerReaderReceipts() bool {
	return t != Personal
}

// Role is the role of a participant within a chat.
type Role string

const (
	// Owner created the chat.
	Owner Role = "owner"
	// Admin manages the chat.
	Admin Role = "admin"
	// Member is a regular participant.
	Member Role = "member"
)

// Permissions of a chat participant.
type Permissions struct {
	CanAddMembers     bool `json:"canAddMembers"`
	CanRemoveMembers  bool `json:"canRemoveMembers"`
	CanEditInfo       bool `json:"canEditInfo"`
	CanDeleteMessages bool `json:"canDeleteMessages"`
	CanPinMessages    bool `json:"canPinMessages"`
	CanStartCall      bool `json:"canStartCall"`
}

// Participant is a member of a chat. Chats of every type use this one
// representation.
type Participant struct {
	UserID      string      `json:"userId"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
	JoinedAt    time.Time   `json:"joinedAt"`
}

// NewParticipant returns a participant with the default permissions of a
// role.
func NewParticipant(userID string, role Role, joinedAt time.Time) Participant {
	p := Participant{
		UserID:   userID,
		Role:     role,
		JoinedAt: joinedAt,
		Permissions: Permissions{
			CanStartCall: true,
		},
	}
	if role == Owner || role == Admin {
		p.Permissions.CanAddMembers = true
		p.Permissions.CanRemoveMembers = true
		p.Permissions.CanEditInfo = true
		p.Permissions.CanDeleteMessages = true
		p.Permissions.CanPinMessages = true
	}
	return p
}

// NormalizeParticipants turns a plain list of user ids into participants.
// ownerID, if present in the list, becomes the owner; duplicates are dropped.
func NormalizeParticipants(userIDs []string, ownerID string, joinedAt time.Time) []Participant {
	seen := make(map[string]struct{}, len(userIDs))
	res := make([]Participant, 0, len(userIDs))
	for _, u := range userIDs {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		role := Member
		if u == ownerID {
			role = Owner
		}
		res = append(res, NewParticipant(u, role, joinedAt))
	}
	return res
}

// Chat is a conversation.
type Chat struct {
	ID           string         `json:"id"`
	Type         ChatType       `json:"type"`
	Name         string         `json:"name,omitempty"`
	Participants []Participant  `json:"participants"`
	LastMessage  *Message       `json:"lastMessage,omitempty"`
	UnreadCount  map[string]int `json:"unreadCount,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Participant returns the participant with the given user id.
func (c *Chat) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// UserIDs returns the ids of the participants in order.
func (c *Chat) UserIDs() []string {
	res := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		res[i] = p.UserID
	}
	return res
}

// MessageStatus is the delivery status of a message in a personal chat.
type MessageStatus string

const (
	// Sent messages were stored.
	Sent MessageStatus = "sent"
	// Delivered messages reached a device of the recipient.
	Delivered MessageStatus = "delivered"
	// Read messages were seen by the recipient.
	Read MessageStatus = "read"
)

// ReadReceipt records that a user read a message.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Forwarded describes the origin of a forwarded message.
type Forwarded struct {
	FromUserID        string `json:"from"`
	FromName          string `json:"fromName,omitempty"`
	OriginalChatID    string `json:"originalChatId,omitempty"`
	OriginalMessageID string `json:"originalMessageId,omitempty"`
}

// Message is a chat message.
type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chatId"`
	SenderID  string        `json:"senderId"`
	Text      string        `json:"text"`
	Type      string        `json:"type"`
	Status    MessageStatus `json:"status"`
	ReadBy    []ReadReceipt `json:"readBy,omitempty"`
	ReplyTo   string        `json:"replyTo,omitempty"`
	Forwarded *Forwarded    `json:"forwarded,omitempty"`
	EditedAt  *time.Time    `json:"editedAt,omitempty"`
	IsDeleted bool          `json:"isDeleted"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ReadByUser returns true if the user is in the read set of the message.
func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Service is the Persistence Service. Absent records return NotFound
// *common.Err values.
type Service interface {
	// GetChat returns a chat with its participants and last message.
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	// GetChatParticipants returns the user ids of the participants of a chat.
	GetChatParticipants(ctx context.Context, chatID string) ([]string, error)
	// IsParticipant returns true if the user belongs to the chat.
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	// CreateChat stores a new chat. An empty id is generated.
	CreateChat(ctx context.Context, chat *Chat) (*Chat, error)
	// AppendMessage stores a new message. An empty id is generated.
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	// GetMessage returns a message, deleted or not.
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	// EditMessage replaces the text of a message.
	EditMessage(ctx context.Context, messageID, text string, at time.Time) (*Message, error)
	// DeleteMessage soft-deletes a message.
	DeleteMessage(ctx context.Context, messageID string, at time.Time) (*Message, error)
	// UpdateLastMessage sets the last message of a chat. A nil message
	// clears it.
	UpdateLastMessage(ctx context.Context, chatID string, msg *Message) error
	// LatestMessage returns the newest message of a chat that is not deleted.
	LatestMessage(ctx context.Context, chatID string) (*Message, error)
	// IncrementUnread adds one to the counter of every participant but the
	// sender, and returns the new counters.
	IncrementUnread(ctx context.Context, chatID, senderID string) (map[string]int, error)
	// ResetUnread sets the counter of a user to zero.
	ResetUnread(ctx context.Context, chatID, userID string) error
	// UnreadCounts returns the counters of a chat. Missing counters are
	// omitted.
	UnreadCounts(ctx context.Context, chatID string) (map[string]int, error)
	// MarkMessagesRead marks as read every message of the chat not sent by
	// userID and not read by them yet, and returns their ids. With perReader,
	// the user is added to each read set; otherwise the status becomes read.
	MarkMessagesRead(ctx context.Context, chatID, userID string, at time.Time, perReader bool) ([]string, error)
	// Close releases the backend.
	Close() error
}
