package registry

import "strings"

// Room id prefixes.
const (
	UserRoomPrefix = "user-"
	ChatRoomPrefix = "chat-"
	CallRoomPrefix = "call-"
)

// UserRoom returns the personal channel of a user.
func UserRoom(userID string) string {
	return UserRoomPrefix + userID
}

// ChatRoom returns the room of a chat.
func ChatRoom(chatID string) string {
	return ChatRoomPrefix + chatID
}

// CallRoom returns the room of a call.
func CallRoom(callID string) string {
	return CallRoomPrefix + callID
}

// CallOfRoom returns the call id of a call room.
func CallOfRoom(roomID string) (string, bool) {
	if strings.HasPrefix(roomID, CallRoomPrefix) {
		return strings.TrimPrefix(roomID, CallRoomPrefix), true
	}
	return "", false
}
