package wamp

import (
	"context"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/sirupsen/logrus"
)

// Event is one publication received by a Subscriber.
type Event struct {
	// Target is the room id, or the user id for personal channel events.
	Target  string
	User    bool
	Name    string
	Payload wamp.Dict
}

// Subscriber follows room and personal channel events.
type Subscriber struct {
	client *client.Client
	events chan Event
	logger *logrus.Entry
}

// NewSubscriber connects to a router over a websocket, e.g.
// ws://127.0.0.1:8081.
func NewSubscriber(url, realm string, buffer int, logger *logrus.Entry) (*Subscriber, error) {
	cli, err := client.ConnectNet(context.Background(), url, client.Config{
		Realm:  realm,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return newSubscriber(cli, buffer, logger), nil
}

// NewLocalSubscriber opens an in-process session on the router.
func NewLocalSubscriber(r router.Router, realm string, buffer int, logger *logrus.Entry) (*Subscriber, error) {
	cli, err := client.ConnectLocal(r, client.Config{
		Realm:  realm,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return newSubscriber(cli, buffer, logger), nil
}

func newSubscriber(cli *client.Client, buffer int, logger *logrus.Entry) *Subscriber {
	return &Subscriber{
		client: cli,
		events: make(chan Event, buffer),
		logger: logger,
	}
}

// SubscribeRooms subscribes to the events of every room.
func (s *Subscriber) SubscribeRooms() error {
	return s.client.Subscribe(RoomTopicPrefix, s.handler(RoomTopicPrefix), wamp.Dict{wamp.OptMatch: wamp.MatchPrefix})
}

// SubscribeUsers subscribes to the personal channel events of every user.
func (s *Subscriber) SubscribeUsers() error {
	return s.client.Subscribe(UserTopicPrefix, s.handler(UserTopicPrefix), wamp.Dict{wamp.OptMatch: wamp.MatchPrefix})
}

// SubscribeUser subscribes to the personal channel events of one user.
func (s *Subscriber) SubscribeUser(userID string) error {
	return s.client.Subscribe(UserTopic(userID), s.handler(UserTopic(userID)), nil)
}

// Events returns the channel of received events.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Close closes the session.
func (s *Subscriber) Close() error {
	return s.client.Close()
}

// handler returns the event handler of a subscription. The router only sets
// the topic detail on pattern-based subscriptions.
func (s *Subscriber) handler(subscribed string) func(*wamp.Event) {
	return func(ev *wamp.Event) {
		topic, ok := wamp.AsString(ev.Details["topic"])
		if !ok {
			topic = subscribed
		}
		s.receive(topic, ev)
	}
}

func (s *Subscriber) receive(topic string, ev *wamp.Event) {
	if len(ev.Arguments) == 0 {
		s.logger.WithField("topic", topic).Warn("Event without a name")
		return
	}
	name, ok := wamp.AsString(ev.Arguments[0])
	if !ok {
		s.logger.WithField("topic", topic).Warnf("Unexpected event name %v", ev.Arguments[0])
		return
	}

	target, user := splitTopic(topic)
	e := Event{
		Target:  target,
		User:    user,
		Name:    name,
		Payload: ev.ArgumentsKw,
	}

	select {
	case s.events <- e:
	default:
		s.logger.WithFields(logrus.Fields{
			"topic": topic,
			"event": name,
		}).Warn("Subscriber buffer full, dropping event")
	}
}
