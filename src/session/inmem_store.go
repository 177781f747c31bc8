package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

type inmemEntry struct {
	value     []byte
	list      [][]byte
	set       map[string]struct{}
	expiresAt time.Time
}

// InmemStore implements the Store interface with in-memory maps. Expired
// entries are dropped lazily when they are accessed.
type InmemStore struct {
	sync.Mutex
	entries map[string]*inmemEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewInmemStore creates a new InmemStore where every record lives for ttl.
func NewInmemStore(ttl time.Duration) *InmemStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InmemStore{
		entries: make(map[string]*inmemEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the function used to read the current time.
func (s *InmemStore) SetClock(now func() time.Time) {
	s.Lock()
	defer s.Unlock()
	s.now = now
}

// Len returns the number of live entries.
func (s *InmemStore) Len() int {
	s.Lock()
	defer s.Unlock()
	n := 0
	for k := range s.entries {
		if s.get(k) != nil {
			n++
		}
	}
	return n
}

// get returns the entry under key, or nil if absent or expired. Callers must
// hold the lock.
func (s *InmemStore) get(key string) *inmemEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *InmemStore) getOrCreate(key string) *inmemEntry {
	e := s.get(key)
	if e == nil {
		e = &inmemEntry{}
		s.entries[key] = e
	}
	e.expiresAt = s.now().Add(s.ttl)
	return e
}

func (s *InmemStore) setValue(key string, value []byte) {
	e := s.getOrCreate(key)
	e.value = append([]byte(nil), value...)
}

// GetSession implements the Store interface.
func (s *InmemStore) GetSession(ctx context.Context, callID string) (*CallSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("Session", callID, err)
	}
	s.Lock()
	e := s.get(sessionKey(callID))
	var data []byte
	if e != nil {
		data = e.value
	}
	s.Unlock()

	if data == nil {
		return nil, notFound("Session", callID)
	}
	return decodeSession(callID, data)
}

// SetSession implements the Store interface.
func (s *InmemStore) SetSession(ctx context.Context, session *CallSession) error {
	if err := ctx.Err(); err != nil {
		return unavailable("Session", session.CallID, err)
	}
	data, err := encodeSession(session)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	s.setValue(sessionKey(session.CallID), data)
	return nil
}

// SetSDP implements the Store interface.
func (s *InmemStore) SetSDP(ctx context.Context, callID, userID string, kind SDPKind, sdp []byte) error {
	key := sdpKey(callID, userID, kind)
	if err := ctx.Err(); err != nil {
		return unavailable("SDP", key, err)
	}
	s.Lock()
	defer s.Unlock()
	s.setValue(key, sdp)
	return nil
}

// GetSDP implements the Store interface.
func (s *InmemStore) GetSDP(ctx context.Context, callID, userID string, kind SDPKind) ([]byte, error) {
	key := sdpKey(callID, userID, kind)
	if err := ctx.Err(); err != nil {
		return nil, unavailable("SDP", key, err)
	}
	s.Lock()
	defer s.Unlock()
	e := s.get(key)
	if e == nil {
		return nil, notFound("SDP", key)
	}
	return append([]byte(nil), e.value...), nil
}

// AppendICECandidate implements the Store interface.
func (s *InmemStore) AppendICECandidate(ctx context.Context, callID, userID string, candidate []byte) error {
	key := iceKey(callID, userID)
	if err := ctx.Err(); err != nil {
		return unavailable("ICE", key, err)
	}
	s.Lock()
	defer s.Unlock()
	e := s.getOrCreate(key)
	e.list = append(e.list, append([]byte(nil), candidate...))
	return nil
}

// ICECandidates implements the Store interface.
func (s *InmemStore) ICECandidates(ctx context.Context, callID, userID string) ([][]byte, error) {
	key := iceKey(callID, userID)
	if err := ctx.Err(); err != nil {
		return nil, unavailable("ICE", key, err)
	}
	s.Lock()
	defer s.Unlock()
	res := [][]byte{}
	if e := s.get(key); e != nil {
		for _, c := range e.list {
			res = append(res, append([]byte(nil), c...))
		}
	}
	return res, nil
}

// DeleteSignaling implements the Store interface.
func (s *InmemStore) DeleteSignaling(ctx context.Context, callID string, userIDs []string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("Signaling", callID, err)
	}
	s.Lock()
	defer s.Unlock()
	for _, u := range userIDs {
		delete(s.entries, sdpKey(callID, u, Offer))
		delete(s.entries, sdpKey(callID, u, Answer))
		delete(s.entries, iceKey(callID, u))
	}
	return nil
}

// AddChatCall implements the Store interface.
func (s *InmemStore) AddChatCall(ctx context.Context, chatID, callID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ChatCalls", chatID, err)
	}
	s.Lock()
	defer s.Unlock()
	e := s.getOrCreate(chatCallsKey(chatID))
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	e.set[callID] = struct{}{}
	return nil
}

// RemoveChatCall implements the Store interface.
func (s *InmemStore) RemoveChatCall(ctx context.Context, chatID, callID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ChatCalls", chatID, err)
	}
	s.Lock()
	defer s.Unlock()
	key := chatCallsKey(chatID)
	if e := s.get(key); e != nil {
		delete(e.set, callID)
		if len(e.set) == 0 {
			delete(s.entries, key)
		}
	}
	return nil
}

// ChatCalls implements the Store interface.
func (s *InmemStore) ChatCalls(ctx context.Context, chatID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("ChatCalls", chatID, err)
	}
	s.Lock()
	defer s.Unlock()
	res := []string{}
	if e := s.get(chatCallsKey(chatID)); e != nil {
		for c := range e.set {
			res = append(res, c)
		}
	}
	sort.Strings(res)
	return res, nil
}

// SetUserCall implements the Store interface.
func (s *InmemStore) SetUserCall(ctx context.Context, userID, callID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("UserCall", userID, err)
	}
	s.Lock()
	defer s.Unlock()
	s.setValue(userCallKey(userID), []byte(callID))
	return nil
}

// UserCall implements the Store interface.
func (s *InmemStore) UserCall(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable("UserCall", userID, err)
	}
	s.Lock()
	defer s.Unlock()
	e := s.get(userCallKey(userID))
	if e == nil {
		return "", notFound("UserCall", userID)
	}
	return string(e.value), nil
}

// ClearUserCall implements the Store interface.
func (s *InmemStore) ClearUserCall(ctx context.Context, userID, callID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("UserCall", userID, err)
	}
	s.Lock()
	defer s.Unlock()
	key := userCallKey(userID)
	if e := s.get(key); e != nil && string(e.value) == callID {
		delete(s.entries, key)
	}
	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
