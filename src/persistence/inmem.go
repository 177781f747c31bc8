package persistence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/google/uuid"
)

// InmemService implements Service with in-memory maps. Values are copied in
// and out so callers never share state with the service.
type InmemService struct {
	sync.RWMutex
	chats        map[string]*Chat
	messages     map[string]*Message
	chatMessages map[string][]string // chatID -> message ids in insertion order
	unread       map[string]map[string]int
}

// NewInmemService ...
func NewInmemService() *InmemService {
	return &InmemService{
		chats:        make(map[string]*Chat),
		messages:     make(map[string]*Message),
		chatMessages: make(map[string][]string),
		unread:       make(map[string]map[string]int),
	}
}

func copyMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	if m.Forwarded != nil {
		f := *m.Forwarded
		c.Forwarded = &f
	}
	if m.EditedAt != nil {
		e := *m.EditedAt
		c.EditedAt = &e
	}
	return &c
}

func (s *InmemService) copyChat(c *Chat) *Chat {
	res := *c
	res.Participants = append([]Participant(nil), c.Participants...)
	res.LastMessage = copyMessage(c.LastMessage)
	res.UnreadCount = make(map[string]int)
	for u, n := range s.unread[c.ID] {
		res.UnreadCount[u] = n
	}
	return &res
}

func (s *InmemService) getChat(chatID string) (*Chat, error) {
	c, ok := s.chats[chatID]
	if !ok {
		return nil, common.NewErr("Chat", common.NotFound, chatID)
	}
	return c, nil
}

// GetChat implements the Service interface.
func (s *InmemService) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Chat", common.Unavailable, chatID, err.Error())
	}
	s.RLock()
	defer s.RUnlock()
	c, err := s.getChat(chatID)
	if err != nil {
		return nil, err
	}
	return s.copyChat(c), nil
}

// GetChatParticipants implements the Service interface.
func (s *InmemService) GetChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	c, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return c.UserIDs(), nil
}

// IsParticipant implements the Service interface.
func (s *InmemService) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	c, err := s.GetChat(ctx, chatID)
	if err != nil {
		return false, err
	}
	_, ok := c.Participant(userID)
	return ok, nil
}

// CreateChat implements the Service interface.
func (s *InmemService) CreateChat(ctx context.Context, chat *Chat) (*Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Chat", common.Unavailable, chat.ID, err.Error())
	}
	if !chat.Type.Valid() {
		return nil, common.NewErrMsg("Chat", common.Validation, chat.ID, "unknown chat type")
	}
	if len(chat.Participants) == 0 {
		return nil, common.NewErrMsg("Chat", common.Validation, chat.ID, "a chat needs participants")
	}

	s.Lock()
	defer s.Unlock()

	c := *chat
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := s.chats[c.ID]; ok {
		return nil, common.NewErr("Chat", common.Conflict, c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Participants = append([]Participant(nil), chat.Participants...)
	c.LastMessage = nil
	c.UnreadCount = nil
	s.chats[c.ID] = &c

	return s.copyChat(&c), nil
}

// AppendMessage implements the Service interface.
func (s *InmemService) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Message", common.Unavailable, msg.ID, err.Error())
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil, common.NewErrMsg("Message", common.Validation, msg.ID, "text is required")
	}

	s.Lock()
	defer s.Unlock()

	if _, err := s.getChat(msg.ChatID); err != nil {
		return nil, err
	}

	m := copyMessage(msg)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, ok := s.messages[m.ID]; ok {
		return nil, common.NewErr("Message", common.Conflict, m.ID)
	}
	if m.Type == "" {
		m.Type = "text"
	}
	if m.Status == "" {
		m.Status = Sent
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.ID] = m
	s.chatMessages[m.ChatID] = append(s.chatMessages[m.ChatID], m.ID)

	return copyMessage(m), nil
}

// GetMessage implements the Service interface.
func (s *InmemService) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Message", common.Unavailable, messageID, err.Error())
	}
	s.RLock()
	defer s.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, common.NewErr("Message", common.NotFound, messageID)
	}
	return copyMessage(m), nil
}

// EditMessage implements the Service interface.
func (s *InmemService) EditMessage(ctx context.Context, messageID, text string, at time.Time) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Message", common.Unavailable, messageID, err.Error())
	}
	s.Lock()
	defer s.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.IsDeleted {
		return nil, common.NewErr("Message", common.NotFound, messageID)
	}
	editedAt := at
	m.Text = text
	m.EditedAt = &editedAt
	if c, ok := s.chats[m.ChatID]; ok && c.LastMessage != nil && c.LastMessage.ID == m.ID {
		c.LastMessage = copyMessage(m)
	}
	return copyMessage(m), nil
}

// DeleteMessage implements the Service interface.
func (s *InmemService) DeleteMessage(ctx context.Context, messageID string, at time.Time) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Message", common.Unavailable, messageID, err.Error())
	}
	s.Lock()
	defer s.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.IsDeleted {
		return nil, common.NewErr("Message", common.NotFound, messageID)
	}
	m.IsDeleted = true
	return copyMessage(m), nil
}

// UpdateLastMessage implements the Service interface.
func (s *InmemService) UpdateLastMessage(ctx context.Context, chatID string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return common.NewErrMsg("Chat", common.Unavailable, chatID, err.Error())
	}
	s.Lock()
	defer s.Unlock()
	c, err := s.getChat(chatID)
	if err != nil {
		return err
	}
	c.LastMessage = copyMessage(msg)
	return nil
}

// LatestMessage implements the Service interface.
func (s *InmemService) LatestMessage(ctx context.Context, chatID string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Message", common.Unavailable, chatID, err.Error())
	}
	s.RLock()
	defer s.RUnlock()
	ids := s.chatMessages[chatID]
	for i := len(ids) - 1; i >= 0; i-- {
		if m := s.messages[ids[i]]; !m.IsDeleted {
			return copyMessage(m), nil
		}
	}
	return nil, common.NewErr("Message", common.NotFound, chatID)
}

// IncrementUnread implements the Service interface.
func (s *InmemService) IncrementUnread(ctx context.Context, chatID, senderID string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Unread", common.Unavailable, chatID, err.Error())
	}
	s.Lock()
	defer s.Unlock()
	c, err := s.getChat(chatID)
	if err != nil {
		return nil, err
	}
	counters := s.unread[chatID]
	if counters == nil {
		counters = make(map[string]int)
		s.unread[chatID] = counters
	}
	for _, p := range c.Participants {
		if p.UserID != senderID {
			counters[p.UserID]++
		}
	}
	res := make(map[string]int, len(counters))
	for u, n := range counters {
		res[u] = n
	}
	return res, nil
}

// ResetUnread implements the Service interface.
func (s *InmemService) ResetUnread(ctx context.Context, chatID, userID string) error {
	if err := ctx.Err(); err != nil {
		return common.NewErrMsg("Unread", common.Unavailable, chatID, err.Error())
	}
	s.Lock()
	defer s.Unlock()
	if _, err := s.getChat(chatID); err != nil {
		return err
	}
	counters := s.unread[chatID]
	if counters == nil {
		counters = make(map[string]int)
		s.unread[chatID] = counters
	}
	counters[userID] = 0
	return nil
}

// UnreadCounts implements the Service interface.
func (s *InmemService) UnreadCounts(ctx context.Context, chatID string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Unread", common.Unavailable, chatID, err.Error())
	}
	s.RLock()
	defer s.RUnlock()
	res := make(map[string]int)
	for u, n := range s.unread[chatID] {
		res[u] = n
	}
	return res, nil
}

// MarkMessagesRead implements the Service interface.
func (s *InmemService) MarkMessagesRead(ctx context.Context, chatID, userID string, at time.Time, perReader bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewErrMsg("Message", common.Unavailable, chatID, err.Error())
	}
	s.Lock()
	defer s.Unlock()

	res := []string{}
	for _, id := range s.chatMessages[chatID] {
		m := s.messages[id]
		if m.SenderID == userID || m.IsDeleted {
			continue
		}
		if perReader {
			if m.ReadByUser(userID) {
				continue
			}
			m.ReadBy = append(m.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
		} else {
			if m.Status == Read {
				continue
			}
			m.Status = Read
		}
		res = append(res, id)
	}
	return res, nil
}

// Close implements the Service interface.
func (s *InmemService) Close() error {
	return nil
}
