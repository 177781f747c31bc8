package broadcast

import (
	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/registry"
	"github.com/sirupsen/logrus"
)

// Hub implements Broadcaster over the connections of a Registry. Deliveries
// to one room are serialized, so every connection of a room observes the
// same order. A connection that cannot accept a frame is closed rather than
// silently skipped; the client reconnects and resyncs.
type Hub struct {
	registry *registry.Registry
	locks    *common.KeyedMutex
	logger   *logrus.Entry
}

// NewHub creates a Hub.
func NewHub(reg *registry.Registry, logger *logrus.Entry) *Hub {
	return &Hub{
		registry: reg,
		locks:    common.NewKeyedMutex(),
		logger:   logger,
	}
}

// BroadcastToRoom implements the Broadcaster interface.
func (h *Hub) BroadcastToRoom(roomID, event string, payload interface{}, excludeUserIDs ...string) error {
	_, err := h.BroadcastToRoomReached(roomID, event, payload, excludeUserIDs...)
	return err
}

// BroadcastToRoomReached implements the Reporter interface. The recipients
// are the room connections at the time the room lock is taken.
func (h *Hub) BroadcastToRoomReached(roomID, event string, payload interface{}, excludeUserIDs ...string) (map[string]struct{}, error) {
	reached := make(map[string]struct{})

	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return reached, common.NewErrMsg("Frame", common.Validation, event, err.Error())
	}

	unlock := h.locks.Lock(roomID)
	defer unlock()

	for _, conn := range h.registry.RoomConnections(roomID) {
		if excluded(conn.UserID, excludeUserIDs) {
			continue
		}
		if err := conn.Send(frame); err == nil {
			reached[conn.UserID] = struct{}{}
		} else {
			h.logger.WithFields(logrus.Fields{
				"conn_id": conn.ID,
				"user_id": conn.UserID,
				"room":    roomID,
				"event":   event,
			}).WithError(err).Warn("Closing slow connection")
			conn.Close()
		}
	}

	return reached, nil
}

// BroadcastToUser implements the Broadcaster interface.
func (h *Hub) BroadcastToUser(userID, event string, payload interface{}) error {
	return h.BroadcastToRoom(registry.UserRoom(userID), event, payload)
}

func excluded(userID string, excludeUserIDs []string) bool {
	for _, u := range excludeUserIDs {
		if u == userID {
			return true
		}
	}
	return false
}
