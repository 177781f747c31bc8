package broadcast

import (
	"strings"
	"sync"

	"github.com/Linkolnn/Icore/src/registry"
)

// Delivery is one call recorded by a Recorder. Target is a room id; user
// broadcasts are recorded against the personal channel of the user.
type Delivery struct {
	Target  string
	Event   string
	Payload interface{}
	Exclude []string
}

// Recorder is a Broadcaster that remembers every delivery. With a registry,
// room deliveries report the users present in the room as reached.
type Recorder struct {
	sync.Mutex
	deliveries []Delivery
	registry   *registry.Registry
}

// NewRecorder ...
func NewRecorder() *Recorder {
	return &Recorder{}
}

// NewPresenceRecorder creates a Recorder whose room deliveries reach the
// users present in the room.
func NewPresenceRecorder(reg *registry.Registry) *Recorder {
	return &Recorder{registry: reg}
}

// BroadcastToRoomReached implements the Reporter interface.
func (r *Recorder) BroadcastToRoomReached(roomID, event string, payload interface{}, excludeUserIDs ...string) (map[string]struct{}, error) {
	reached := make(map[string]struct{})
	if r.registry != nil {
		for u := range r.registry.UsersInRoom(roomID) {
			if !excluded(u, excludeUserIDs) {
				reached[u] = struct{}{}
			}
		}
	}
	return reached, r.BroadcastToRoom(roomID, event, payload, excludeUserIDs...)
}

// BroadcastToRoom implements the Broadcaster interface.
func (r *Recorder) BroadcastToRoom(roomID, event string, payload interface{}, excludeUserIDs ...string) error {
	r.Lock()
	defer r.Unlock()
	r.deliveries = append(r.deliveries, Delivery{
		Target:  roomID,
		Event:   event,
		Payload: payload,
		Exclude: excludeUserIDs,
	})
	return nil
}

// BroadcastToUser implements the Broadcaster interface.
func (r *Recorder) BroadcastToUser(userID, event string, payload interface{}) error {
	return r.BroadcastToRoom(registry.UserRoom(userID), event, payload)
}

// Deliveries returns a copy of all recorded deliveries.
func (r *Recorder) Deliveries() []Delivery {
	r.Lock()
	defer r.Unlock()
	res := make([]Delivery, len(r.deliveries))
	copy(res, r.deliveries)
	return res
}

// To returns the deliveries of an event to a room. An empty event matches
// every event.
func (r *Recorder) To(roomID, event string) []Delivery {
	r.Lock()
	defer r.Unlock()
	res := []Delivery{}
	for _, d := range r.deliveries {
		if d.Target == roomID && (event == "" || d.Event == event) {
			res = append(res, d)
		}
	}
	return res
}

// ToUser returns the deliveries of an event to the personal channel of a
// user.
func (r *Recorder) ToUser(userID, event string) []Delivery {
	return r.To(registry.UserRoom(userID), event)
}

// Events returns the names of recorded events matching a prefix, in order.
func (r *Recorder) Events(prefix string) []string {
	r.Lock()
	defer r.Unlock()
	res := []string{}
	for _, d := range r.deliveries {
		if strings.HasPrefix(d.Event, prefix) {
			res = append(res, d.Event)
		}
	}
	return res
}

// Reset forgets every delivery.
func (r *Recorder) Reset() {
	r.Lock()
	defer r.Unlock()
	r.deliveries = nil
}
