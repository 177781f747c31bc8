// Package ws is the websocket transport of the realtime core. Clients
// authenticate with an access token at upgrade time, then exchange named JSON
// events. Every inbound event gets an acknowledgement; a bad event never
// closes the socket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Linkolnn/Icore/src/broadcast"
	"github.com/Linkolnn/Icore/src/chat"
	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/limiter"
	"github.com/Linkolnn/Icore/src/registry"
	"github.com/Linkolnn/Icore/src/signal"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventAck is the event name of acknowledgements.
const EventAck = "ack"

// DefaultSendBuffer is the number of outbound frames a connection may queue.
const DefaultSendBuffer = 128

// Config groups the collaborators of a Gateway.
type Config struct {
	Registry   *registry.Registry
	Chats      *chat.Service
	Calls      *signal.Orchestrator
	Limiter    limiter.Limiter
	SendBuffer int
	Timeout    time.Duration
	Logger     *logrus.Entry
}

// Gateway upgrades HTTP requests to websockets and dispatches their events.
type Gateway struct {
	registry   *registry.Registry
	chats      *chat.Service
	calls      *signal.Orchestrator
	limiter    limiter.Limiter
	sendBuffer int
	timeout    time.Duration
	upgrader   websocket.Upgrader
	handlers   map[string]handler
	logger     *logrus.Entry
}

// NewGateway ...
func NewGateway(conf Config) *Gateway {
	if conf.SendBuffer <= 0 {
		conf.SendBuffer = DefaultSendBuffer
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 5 * time.Second
	}
	g := &Gateway{
		registry:   conf.Registry,
		chats:      conf.Chats,
		calls:      conf.Calls,
		limiter:    conf.Limiter,
		sendBuffer: conf.SendBuffer,
		timeout:    conf.Timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: conf.Logger,
	}
	g.handlers = g.routes()
	return g
}

// inbound is a client frame.
type inbound struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// AckError is the error of a failed acknowledgement.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AccessToken reads the token from the query string or the Authorization
// header.
func AccessToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sink := newConnection(g.sendBuffer)

	conn, err := g.registry.Connect(AccessToken(r), sink)
	if err != nil {
		g.logger.WithError(err).Debug("Rejected connection")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Debug("Upgrade failed")
		g.disconnect(conn)
		return
	}
	sink.attach(ws)

	logger := g.logger.WithFields(logrus.Fields{
		"conn_id": conn.ID,
		"user_id": conn.UserID,
	})
	defer func() {
		g.disconnect(conn)
		sink.Close()
	}()

	ws.SetReadLimit(maxFrame)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.WithError(err).Debug("Read failed")
			}
			return
		}
		g.handle(r.Context(), conn, data)
	}
}

// handle decodes one frame, dispatches it and acknowledges it.
func (g *Gateway) handle(ctx context.Context, conn *registry.Connection, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		g.ack(conn, "", nil, common.NewErrMsg("Frame", common.Validation, "", "invalid frame"))
		return
	}

	h, ok := g.handlers[in.Event]
	if !ok {
		g.ack(conn, in.ID, nil, common.NewErrMsg("Frame", common.Validation, in.Event, "unknown event"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := h(ctx, conn, in.Data)
	if err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"event":   in.Event,
			"user_id": conn.UserID,
		}).Debug("Event failed")
	}
	g.ack(conn, in.ID, res, err)
}

// ack sends {success, error?, ...result} to the calling connection only.
func (g *Gateway) ack(conn *registry.Connection, id string, res interface{}, err error) {
	data := map[string]interface{}{}
	if res != nil {
		raw, merr := json.Marshal(res)
		if merr == nil {
			var fields map[string]json.RawMessage
			if json.Unmarshal(raw, &fields) == nil {
				for k, v := range fields {
					data[k] = v
				}
			}
		}
	}

	data["success"] = err == nil
	if err != nil {
		data["error"] = ackError(err)
	}

	frame, merr := json.Marshal(broadcast.Frame{Event: EventAck, ID: id, Data: data})
	if merr != nil {
		g.logger.WithError(merr).Error("Encoding ack")
		return
	}
	if serr := conn.Send(frame); serr != nil {
		g.logger.WithError(serr).WithField("conn_id", conn.ID).Debug("Sending ack")
	}
}

func ackError(err error) AckError {
	var e common.Err
	if errors.As(err, &e) {
		return AckError{Code: e.Type().Code(), Message: e.Message()}
	}
	return AckError{Code: "internal", Message: "internal error"}
}

// disconnect removes a connection. The user leaves a call when no other
// connection of theirs still holds the call room, and leaves their active
// call when this was their last connection.
func (g *Gateway) disconnect(conn *registry.Connection) {
	rooms := g.registry.RoomsOf(conn)
	last := g.registry.Disconnect(conn)

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	if last {
		if err := g.calls.DisconnectUser(ctx, conn.UserID); err != nil {
			g.logger.WithError(err).WithField("user_id", conn.UserID).Warn("Leaving call on disconnect")
		}
		return
	}

	for _, room := range rooms {
		callID, ok := registry.CallOfRoom(room)
		if !ok || g.registry.IsUserInRoom(conn.UserID, room) {
			continue
		}
		if err := g.calls.Leave(ctx, conn.UserID, callID); err != nil {
			g.logger.WithError(err).WithFields(logrus.Fields{
				"user_id": conn.UserID,
				"call_id": callID,
			}).Warn("Leaving call on disconnect")
		}
	}
}
