package session

import (
	"context"
	"fmt"
	"time"

	"github.com/Linkolnn/Icore/src/common"
)

// DefaultTTL is the lifetime of every record in the store.
const DefaultTTL = 12 * time.Hour

// Store is an interface for backend stores of call state. Every method honours
// the context deadline and returns *common.Err values: NotFound for absent or
// expired records, Unavailable when the backend fails.
type Store interface {
	// GetSession returns a call session by id.
	GetSession(ctx context.Context, callID string) (*CallSession, error)
	// SetSession writes a session and refreshes its TTL.
	SetSession(ctx context.Context, session *CallSession) error
	// SetSDP stores the offer or answer of a participant.
	SetSDP(ctx context.Context, callID, userID string, kind SDPKind, sdp []byte) error
	// GetSDP returns the offer or answer of a participant, byte for byte.
	GetSDP(ctx context.Context, callID, userID string, kind SDPKind) ([]byte, error)
	// AppendICECandidate appends a candidate to the queue of a participant.
	AppendICECandidate(ctx context.Context, callID, userID string, candidate []byte) error
	// ICECandidates returns the queue of a participant in insertion order.
	ICECandidates(ctx context.Context, callID, userID string) ([][]byte, error)
	// DeleteSignaling removes the SDP records and ICE queues of the given
	// participants.
	DeleteSignaling(ctx context.Context, callID string, userIDs []string) error
	// AddChatCall adds a call to the active calls of a chat.
	AddChatCall(ctx context.Context, chatID, callID string) error
	// RemoveChatCall removes a call from the active calls of a chat.
	RemoveChatCall(ctx context.Context, chatID, callID string) error
	// ChatCalls returns the active calls of a chat.
	ChatCalls(ctx context.Context, chatID string) ([]string, error)
	// SetUserCall records the active call of a user.
	SetUserCall(ctx context.Context, userID, callID string) error
	// UserCall returns the active call of a user.
	UserCall(ctx context.Context, userID string) (string, error)
	// ClearUserCall removes the active call of a user, only if it still
	// points to callID.
	ClearUserCall(ctx context.Context, userID, callID string) error
	// Close releases the backend.
	Close() error
}

func sessionKey(callID string) string {
	return fmt.Sprintf("call:%s", callID)
}

func sdpKey(callID, userID string, kind SDPKind) string {
	return fmt.Sprintf("sdp:%s:%s:%s", callID, userID, kind)
}

func iceKey(callID, userID string) string {
	return fmt.Sprintf("ice:%s:%s", callID, userID)
}

func chatCallsKey(chatID string) string {
	return fmt.Sprintf("call:chat:%s", chatID)
}

func userCallKey(userID string) string {
	return fmt.Sprintf("call:user:%s", userID)
}

func notFound(subject, key string) error {
	return common.NewErr(subject, common.NotFound, key)
}

func unavailable(subject, key string, err error) error {
	return common.NewErrMsg(subject, common.Unavailable, key, err.Error())
}

func encodeSession(session *CallSession) ([]byte, error) {
	data, err := session.Marshal()
	if err != nil {
		return nil, common.NewErrMsg("Session", common.Validation, session.CallID, err.Error())
	}
	return data, nil
}

func decodeSession(callID string, data []byte) (*CallSession, error) {
	session := new(CallSession)
	if err := session.Unmarshal(data); err != nil {
		return nil, common.NewErrMsg("Session", common.Unavailable, callID, err.Error())
	}
	return session, nil
}
