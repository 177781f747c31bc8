package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"
)

// BadgerStore implements the Store interface with an embedded Badger
// database. TTLs are enforced by Badger itself. ICE queues and chat indexes,
// which Badger has no native type for, are stored as one key per element
// under a common prefix.
type BadgerStore struct {
	db   *badger.DB
	path string
	ttl  time.Duration
	seq  uint64
}

// NewBadgerStore opens, or creates, a Badger database in path.
func NewBadgerStore(path string, ttl time.Duration, logger *logrus.Entry) (*BadgerStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false)
	if logger != nil {
		opts = opts.WithLogger(logger.WithField("component", "badger"))
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
		ttl:  ttl,
		seq:  uint64(time.Now().UnixNano()),
	}, nil
}

// StorePath returns the filepath of the underlying database.
func (s *BadgerStore) StorePath() string {
	return s.path
}

// GetSession implements the Store interface.
func (s *BadgerStore) GetSession(ctx context.Context, callID string) (*CallSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Session", callID, err)
	}
	data, err := s.dbGet(sessionKey(callID))
	if err != nil {
		return nil, mapError(err, "Session", callID)
	}
	return decodeSession(callID, data)
}

// SetSession implements the Store interface.
func (s *BadgerStore) SetSession(ctx context.Context, session *CallSession) error {
	if err := ctx.Err(); err != nil {
		return unavailable("Session", session.CallID, err)
	}
	data, err := encodeSession(session)
	if err != nil {
		return err
	}
	return mapError(s.dbSet(sessionKey(session.CallID), data), "Session", session.CallID)
}

// SetSDP implements the Store interface.
func (s *BadgerStore) SetSDP(ctx context.Context, callID, userID string, kind SDPKind, sdp []byte) error {
	key := sdpKey(callID, userID, kind)
	if err := ctx.Err(); err != nil {
		return unavailable("SDP", key, err)
	}
	return mapError(s.dbSet(key, sdp), "SDP", key)
}

// GetSDP implements the Store interface.
func (s *BadgerStore) GetSDP(ctx context.Context, callID, userID string, kind SDPKind) ([]byte, error) {
	key := sdpKey(callID, userID, kind)
	if err := ctx.Err(); err != nil {
		return nil, unavailable("SDP", key, err)
	}
	data, err := s.dbGet(key)
	if err != nil {
		return nil, mapError(err, "SDP", key)
	}
	return data, nil
}

// AppendICECandidate implements the Store interface. Elements are keyed by a
// sequence number seeded from the clock, so the order survives restarts.
func (s *BadgerStore) AppendICECandidate(ctx context.Context, callID, userID string, candidate []byte) error {
	prefix := iceKey(callID, userID)
	if err := ctx.Err(); err != nil {
		return unavailable("ICE", prefix, err)
	}
	key := fmt.Sprintf("%s:%020d", prefix, atomic.AddUint64(&s.seq, 1))
	return mapError(s.dbSet(key, candidate), "ICE", prefix)
}

// ICECandidates implements the Store interface.
func (s *BadgerStore) ICECandidates(ctx context.Context, callID, userID string) ([][]byte, error) {
	prefix := iceKey(callID, userID)
	if err := ctx.Err(); err != nil {
		return nil, unavailable("ICE", prefix, err)
	}
	res := [][]byte{}
	err := s.dbScan(prefix+":", func(_ string, value []byte) {
		res = append(res, value)
	})
	if err != nil {
		return nil, mapError(err, "ICE", prefix)
	}
	return res, nil
}

// DeleteSignaling implements the Store interface.
func (s *BadgerStore) DeleteSignaling(ctx context.Context, callID string, userIDs []string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("Signaling", callID, err)
	}

	keys := []string{}
	for _, u := range userIDs {
		keys = append(keys, sdpKey(callID, u, Offer), sdpKey(callID, u, Answer))
		err := s.dbScan(iceKey(callID, u)+":", func(key string, _ []byte) {
			keys = append(keys, key)
		})
		if err != nil {
			return mapError(err, "Signaling", callID)
		}
	}

	return mapError(s.dbDelete(keys), "Signaling", callID)
}

// AddChatCall implements the Store interface.
func (s *BadgerStore) AddChatCall(ctx context.Context, chatID, callID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ChatCalls", chatID, err)
	}
	key := chatCallsKey(chatID) + ":" + callID
	return mapError(s.dbSet(key, []byte(callID)), "ChatCalls", chatID)
}

// RemoveChatCall implements the Store interface.
func (s *BadgerStore) RemoveChatCall(ctx context.Context, chatID, callID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ChatCalls", chatID, err)
	}
	key := chatCallsKey(chatID) + ":" + callID
	return mapError(s.dbDelete([]string{key}), "ChatCalls", chatID)
}

// ChatCalls implements the Store interface.
func (s *BadgerStore) ChatCalls(ctx context.Context, chatID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("ChatCalls", chatID, err)
	}
	res := []string{}
	err := s.dbScan(chatCallsKey(chatID)+":", func(_ string, value []byte) {
		res = append(res, string(value))
	})
	if err != nil {
		return nil, mapError(err, "ChatCalls", chatID)
	}
	sort.Strings(res)
	return res, nil
}

// SetUserCall implements the Store interface.
func (s *BadgerStore) SetUserCall(ctx context.Context, userID, callID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("UserCall", userID, err)
	}
	return mapError(s.dbSet(userCallKey(userID), []byte(callID)), "UserCall", userID)
}

// UserCall implements the Store interface.
func (s *BadgerStore) UserCall(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("UserCall", userID, err)
	}
	data, err := s.dbGet(userCallKey(userID))
	if err != nil {
		return "", mapError(err, "UserCall", userID)
	}
	return string(data), nil
}

// ClearUserCall implements the Store interface. The comparison and the
// deletion happen in the same transaction.
func (s *BadgerStore) ClearUserCall(ctx context.Context, userID, callID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("UserCall", userID, err)
	}
	key := []byte(userCallKey(userID))
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(current) != callID {
			return nil
		}
		return txn.Delete(key)
	})
	if err != nil && !isDBKeyNotFound(err) {
		return mapError(err, "UserCall", userID)
	}
	return nil
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//DB Methods

func (s *BadgerStore) dbGet(key string) ([]byte, error) {
	var res []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		res, err = item.ValueCopy(nil)
		return err
	})
	return res, err
}

func (s *BadgerStore) dbSet(key string, value []byte) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(s.ttl)); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *BadgerStore) dbDelete(keys []string) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	for _, k := range keys {
		if err := tx.Delete([]byte(k)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// dbScan calls f for every live key starting with prefix, in key order.
func (s *BadgerStore) dbScan(prefix string, f func(key string, value []byte)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			f(string(item.KeyCopy(nil)), value)
		}
		return nil
	})
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound ||
		(err != nil && strings.Contains(err.Error(), badger.ErrKeyNotFound.Error()))
}

func mapError(err error, name, key string) error {
	if err == nil {
		return nil
	}
	if _, ok := common.TypeOf(err); ok {
		return err
	}
	if isDBKeyNotFound(err) {
		return notFound(name, key)
	}
	return unavailable(name, key, err)
}
