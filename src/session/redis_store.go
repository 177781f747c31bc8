package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// clearIfEqual deletes KEYS[1] only when it still holds ARGV[1].
var clearIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements the Store interface on Redis, so that several nodes
// can share call state. Lists back ICE queues and sets back chat indexes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the Redis server at url and checks that it
// answers.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisStoreFromClient(c, ttl), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// Client returns the underlying go-redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// GetSession implements the Store interface.
func (s *RedisStore) GetSession(ctx context.Context, callID string) (*CallSession, error) {
	data, err := s.client.Get(ctx, sessionKey(callID)).Bytes()
	if err != nil {
		return nil, mapRedisError(err, "Session", callID)
	}
	return decodeSession(callID, data)
}

// SetSession implements the Store interface.
func (s *RedisStore) SetSession(ctx context.Context, session *CallSession) error {
	data, err := encodeSession(session)
	if err != nil {
		return err
	}
	err = s.client.Set(ctx, sessionKey(session.CallID), data, s.ttl).Err()
	return mapRedisError(err, "Session", session.CallID)
}

// SetSDP implements the Store interface.
func (s *RedisStore) SetSDP(ctx context.Context, callID, userID string, kind SDPKind, sdp []byte) error {
	key := sdpKey(callID, userID, kind)
	return mapRedisError(s.client.Set(ctx, key, sdp, s.ttl).Err(), "SDP", key)
}

// GetSDP implements the Store interface.
func (s *RedisStore) GetSDP(ctx context.Context, callID, userID string, kind SDPKind) ([]byte, error) {
	key := sdpKey(callID, userID, kind)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, mapRedisError(err, "SDP", key)
	}
	return data, nil
}

// AppendICECandidate implements the Store interface.
func (s *RedisStore) AppendICECandidate(ctx context.Context, callID, userID string, candidate []byte) error {
	key := iceKey(callID, userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, candidate)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return mapRedisError(err, "ICE", key)
}

// ICECandidates implements the Store interface.
func (s *RedisStore) ICECandidates(ctx context.Context, callID, userID string) ([][]byte, error) {
	key := iceKey(callID, userID)
	values, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, mapRedisError(err, "ICE", key)
	}
	res := make([][]byte, len(values))
	for i, v := range values {
		res[i] = []byte(v)
	}
	return res, nil
}

// DeleteSignaling implements the Store interface.
func (s *RedisStore) DeleteSignaling(ctx context.Context, callID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, 3*len(userIDs))
	for _, u := range userIDs {
		keys = append(keys, sdpKey(callID, u, Offer), sdpKey(callID, u, Answer), iceKey(callID, u))
	}
	return mapRedisError(s.client.Del(ctx, keys...).Err(), "Signaling", callID)
}

// AddChatCall implements the Store interface.
func (s *RedisStore) AddChatCall(ctx context.Context, chatID, callID string) error {
	key := chatCallsKey(chatID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, callID)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return mapRedisError(err, "ChatCalls", chatID)
}

// RemoveChatCall implements the Store interface.
func (s *RedisStore) RemoveChatCall(ctx context.Context, chatID, callID string) error {
	err := s.client.SRem(ctx, chatCallsKey(chatID), callID).Err()
	return mapRedisError(err, "ChatCalls", chatID)
}

// ChatCalls implements the Store interface.
func (s *RedisStore) ChatCalls(ctx context.Context, chatID string) ([]string, error) {
	res, err := s.client.SMembers(ctx, chatCallsKey(chatID)).Result()
	if err != nil {
		return nil, mapRedisError(err, "ChatCalls", chatID)
	}
	sort.Strings(res)
	return res, nil
}

// SetUserCall implements the Store interface.
func (s *RedisStore) SetUserCall(ctx context.Context, userID, callID string) error {
	err := s.client.Set(ctx, userCallKey(userID), callID, s.ttl).Err()
	return mapRedisError(err, "UserCall", userID)
}

// UserCall implements the Store interface.
func (s *RedisStore) UserCall(ctx context.Context, userID string) (string, error) {
	res, err := s.client.Get(ctx, userCallKey(userID)).Result()
	if err != nil {
		return "", mapRedisError(err, "UserCall", userID)
	}
	return res, nil
}

// ClearUserCall implements the Store interface.
func (s *RedisStore) ClearUserCall(ctx context.Context, userID, callID string) error {
	err := clearIfEqual.Run(ctx, s.client, []string{userCallKey(userID)}, callID).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return mapRedisError(err, "UserCall", userID)
}

// Close implements the Store interface.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func mapRedisError(err error, name, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return notFound(name, key)
	}
	return unavailable(name, key, err)
}
