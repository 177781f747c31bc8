package wamp

import (
	"encoding/json"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Relay is a broadcast.Broadcaster publishing every event on the router.
type Relay struct {
	client *client.Client
	logger *logrus.Entry
}

// NewRelay opens an in-process session on the router.
func NewRelay(r router.Router, realm string, logger *logrus.Entry) (*Relay, error) {
	cli, err := client.ConnectLocal(r, client.Config{
		Realm:  realm,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &Relay{
		client: cli,
		logger: logger,
	}, nil
}

// BroadcastToRoom implements the broadcast.Broadcaster interface. Subscribers
// get every room event; exclusions only apply to client connections.
func (r *Relay) BroadcastToRoom(roomID, event string, payload interface{}, excludeUserIDs ...string) error {
	return r.publish(RoomTopic(roomID), event, payload)
}

// BroadcastToUser implements the broadcast.Broadcaster interface.
func (r *Relay) BroadcastToUser(userID, event string, payload interface{}) error {
	return r.publish(UserTopic(userID), event, payload)
}

func (r *Relay) publish(topic, event string, payload interface{}) error {
	kwargs, err := toDict(payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(topic, nil, wamp.List{event}, kwargs); err != nil {
		r.logger.WithError(err).WithField("topic", topic).Warn("Publish")
		return err
	}
	return nil
}

// Close closes the session.
func (r *Relay) Close() error {
	return r.client.Close()
}

// toDict turns a payload into keyword arguments the way a websocket client
// would see it.
func toDict(payload interface{}) (wamp.Dict, error) {
	if payload == nil {
		return wamp.Dict{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var res wamp.Dict
	if err := json.Unmarshal(raw, &res); err != nil {
		return wamp.Dict{"value": json.RawMessage(raw)}, nil
	}
	return res, nil
}
