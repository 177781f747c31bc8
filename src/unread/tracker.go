// Package unread keeps per-chat per-user unread counters and per-message
// read receipts consistent under concurrent senders.
package unread

import (
	"context"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/persistence"
	"github.com/sirupsen/logrus"
)

// Notifier delivers one batched read receipt to a chat.
type Notifier interface {
	SendMessagesRead(chatID, readBy string, messageIDs []string) error
}

// Tracker maintains unread counters and read receipts. Counter updates are
// serialized per chat; different chats proceed in parallel.
type Tracker struct {
	svc      persistence.Service
	notifier Notifier
	locks    *common.KeyedMutex
	timeout  time.Duration
	now      func() time.Time
	logger   *logrus.Entry
}

// NewTracker creates a Tracker. timeout bounds every call to the
// Persistence Service.
func NewTracker(svc persistence.Service, notifier Notifier, timeout time.Duration, logger *logrus.Entry) *Tracker {
	return &Tracker{
		svc:      svc,
		notifier: notifier,
		locks:    common.NewKeyedMutex(),
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

func (t *Tracker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

// Increment adds one to the counter of every participant but the sender.
// A chat that cannot be found yet is logged and skipped.
func (t *Tracker) Increment(ctx context.Context, chatID, senderID string) (map[string]int, error) {
	unlock := t.locks.Lock(chatID)
	defer unlock()

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	counts, err := t.svc.IncrementUnread(ctx, chatID, senderID)
	if common.Is(err, common.NotFound) {
		t.logger.WithField("chat_id", chatID).Warn("Increment unread on missing chat")
		return map[string]int{}, nil
	}
	return counts, err
}

// Reset sets the counter of a user to zero.
func (t *Tracker) Reset(ctx context.Context, chatID, userID string) error {
	unlock := t.locks.Lock(chatID)
	defer unlock()

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	err := t.svc.ResetUnread(ctx, chatID, userID)
	if common.Is(err, common.NotFound) {
		t.logger.WithField("chat_id", chatID).Warn("Reset unread on missing chat")
		return nil
	}
	return err
}

// Counts returns the counters of a chat. Missing counters read as zero.
func (t *Tracker) Counts(ctx context.Context, chatID string) (map[string]int, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	counts, err := t.svc.UnreadCounts(ctx, chatID)
	if common.Is(err, common.NotFound) {
		return map[string]int{}, nil
	}
	return counts, err
}

// MarkMessagesRead marks every unread message of the chat not sent by userID
// as read, and sends one read receipt for the whole batch when at least one
// message was affected. In personal chats the message status
// becomes read; in other chats the user joins the read set of each message.
func (t *Tracker) MarkMessagesRead(ctx context.Context, chatID, userID string) ([]string, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	chat, err := t.svc.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if _, ok := chat.Participant(userID); !ok {
		return nil, common.NewErrMsg("Chat", common.Authorization, chatID, "not a participant")
	}

	ids, err := t.svc.MarkMessagesRead(ctx, chatID, userID, t.now(), chat.Type.PerReaderReceipts())
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		if err := t.notifier.SendMessagesRead(chatID, userID, ids); err != nil {
			t.logger.WithError(err).WithField("chat_id", chatID).Warn("Broadcast messages:read")
		}
	}

	return ids, nil
}
