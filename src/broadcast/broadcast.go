// Package broadcast delivers named events to rooms and personal channels.
//
// Components never reach for a global socket server: they receive a
// Broadcaster at construction. Hub delivers to the connections of the
// registry, the WAMP relay mirrors to sidecar subscribers, Multi combines
// them and Recorder captures deliveries in tests.
package broadcast

import (
	"encoding/json"
	"errors"
)

// Broadcaster delivers events to rooms and to the personal channel of users.
type Broadcaster interface {
	// BroadcastToRoom delivers an event to every connection in a room, except
	// those of excluded users.
	BroadcastToRoom(roomID, event string, payload interface{}, excludeUserIDs ...string) error
	// BroadcastToUser delivers an event to the personal channel of a user.
	BroadcastToUser(userID, event string, payload interface{}) error
}

// Reporter is implemented by Broadcasters that know which users a room
// delivery reached.
type Reporter interface {
	// BroadcastToRoomReached behaves like BroadcastToRoom and returns the users
	// that had at least one connection accept the frame.
	BroadcastToRoomReached(roomID, event string, payload interface{}, excludeUserIDs ...string) (map[string]struct{}, error)
}

// ToRoomReached delivers an event to a room and returns the users it reached.
// A Broadcaster that does not track connections reaches nobody.
func ToRoomReached(b Broadcaster, roomID, event string, payload interface{}, excludeUserIDs ...string) (map[string]struct{}, error) {
	if r, ok := b.(Reporter); ok {
		return r.BroadcastToRoomReached(roomID, event, payload, excludeUserIDs...)
	}
	return map[string]struct{}{}, b.BroadcastToRoom(roomID, event, payload, excludeUserIDs...)
}

// Frame is the envelope of every message exchanged with clients.
type Frame struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data"`
}

// EncodeFrame encodes an outbound event.
func EncodeFrame(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: payload})
}

// Multi fans every broadcast out to several Broadcasters. All of them are
// called even when one fails; the errors are joined.
type Multi []Broadcaster

// BroadcastToRoom implements the Broadcaster interface.
func (m Multi) BroadcastToRoom(roomID, event string, payload interface{}, excludeUserIDs ...string) error {
	var errs []error
	for _, b := range m {
		if err := b.BroadcastToRoom(roomID, event, payload, excludeUserIDs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BroadcastToRoomReached implements the Reporter interface. The reached set
// is the union of the sets of the members.
func (m Multi) BroadcastToRoomReached(roomID, event string, payload interface{}, excludeUserIDs ...string) (map[string]struct{}, error) {
	reached := make(map[string]struct{})
	var errs []error
	for _, b := range m {
		users, err := ToRoomReached(b, roomID, event, payload, excludeUserIDs...)
		if err != nil {
			errs = append(errs, err)
		}
		for u := range users {
			reached[u] = struct{}{}
		}
	}
	return reached, errors.Join(errs...)
}

// BroadcastToUser implements the Broadcaster interface.
func (m Multi) BroadcastToUser(userID, event string, payload interface{}) error {
	var errs []error
	for _, b := range m {
		if err := b.BroadcastToUser(userID, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
