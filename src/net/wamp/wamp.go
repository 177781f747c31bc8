// Package wamp mirrors every broadcast of the realtime core as a WAMP
// publication, so that sidecar processes (push notifications, audit) can
// follow chat and call activity without a socket per user.
//
// The Server embeds a nexus router. The Relay publishes through an in-process
// session of that router; a Subscriber connects either in-process or over a
// websocket. Room events are published on io.icore.room.<roomId>, personal
// channel events on io.icore.user.<userId>, with the event name as the only
// positional argument and the payload as keyword arguments.
package wamp

import "strings"

const (
	// RoomTopicPrefix prefixes the topics of room events.
	RoomTopicPrefix = "io.icore.room."
	// UserTopicPrefix prefixes the topics of personal channel events.
	UserTopicPrefix = "io.icore.user."
)

// RoomTopic returns the topic of a room.
func RoomTopic(roomID string) string {
	return RoomTopicPrefix + roomID
}

// UserTopic returns the topic of the personal channel of a user.
func UserTopic(userID string) string {
	return UserTopicPrefix + userID
}

// splitTopic returns the room or user id of a topic, and whether the topic is
// a user topic.
func splitTopic(topic string) (string, bool) {
	if strings.HasPrefix(topic, UserTopicPrefix) {
		return strings.TrimPrefix(topic, UserTopicPrefix), true
	}
	return strings.TrimPrefix(topic, RoomTopicPrefix), false
}
