package registry

import (
	"sync"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/Linkolnn/Icore/src/token"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sink is the transport end of a connection.
type Sink interface {
	// Send queues an encoded frame without blocking.
	Send(frame []byte) error
	// Close terminates the transport.
	Close() error
}

// Connection is one live transport of a user. A user may hold several
// connections, one per device or tab.
type Connection struct {
	ID     string
	UserID string
	sink   Sink
}

// Send forwards a frame to the transport.
func (c *Connection) Send(frame []byte) error {
	return c.sink.Send(frame)
}

// Close closes the transport.
func (c *Connection) Close() error {
	return c.sink.Close()
}

// Stats is a snapshot of the size of the registry.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

// Registry tracks live connections and their room memberships. Every method
// is safe for concurrent use; membership reads see a consistent snapshot.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Connection            // connID -> connection
	userConns map[string]map[string]*Connection // userID -> connID -> connection
	rooms     map[string]map[string]*Connection // roomID -> connID -> connection
	connRooms map[string]map[string]struct{}    // connID -> set of roomIDs

	validator token.Validator
	logger    *logrus.Entry
}

// NewRegistry creates a Registry that authenticates connections with
// validator.
func NewRegistry(validator token.Validator, logger *logrus.Entry) *Registry {
	return &Registry{
		conns:     make(map[string]*Connection),
		userConns: make(map[string]map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
		validator: validator,
		logger:    logger,
	}
}

// Connect authenticates an access token and registers a connection for its
// user. The connection joins the personal channel of the user.
func (r *Registry) Connect(accessToken string, sink Sink) (*Connection, error) {
	if r.validator == nil {
		return nil, common.NewErrMsg("Connection", common.Authorization, "", "no token validator")
	}
	identity, err := r.validator.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	return r.Register(identity.UserID, sink), nil
}

// Register adds a connection for an already authenticated user.
func (r *Registry) Register(userID string, sink Sink) *Connection {
	conn := &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		sink:   sink,
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	uc := r.userConns[userID]
	if uc == nil {
		uc = make(map[string]*Connection)
		r.userConns[userID] = uc
	}
	uc[conn.ID] = conn
	r.joinLocked(conn, UserRoom(userID))
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"conn_id": conn.ID,
		"user_id": userID,
	}).Debug("Connected")

	return conn
}

// JoinRoom adds a connection to a room. It returns false if the connection
// was already in the room or is no longer registered.
func (r *Registry) JoinRoom(conn *Connection, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID]; !ok {
		return false
	}
	return r.joinLocked(conn, roomID)
}

// LeaveRoom removes a connection from a room. It returns false if the
// connection was not in the room.
func (r *Registry) LeaveRoom(conn *Connection, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, conn.ID)
}

// Disconnect removes a connection and all its memberships. It returns true if
// it was the last connection of the user.
func (r *Registry) Disconnect(conn *Connection) bool {
	r.mu.Lock()
	if _, ok := r.conns[conn.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, conn.ID)

	for roomID := range r.connRooms[conn.ID] {
		r.leaveLocked(roomID, conn.ID)
	}
	delete(r.connRooms, conn.ID)

	last := false
	if uc := r.userConns[conn.UserID]; uc != nil {
		delete(uc, conn.ID)
		if len(uc) == 0 {
			delete(r.userConns, conn.UserID)
			last = true
		}
	}
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"conn_id": conn.ID,
		"user_id": conn.UserID,
		"last":    last,
	}).Debug("Disconnected")

	return last
}

// IsUserInRoom returns true if any live connection of the user holds the room.
func (r *Registry) IsUserInRoom(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID := range r.userConns[userID] {
		if _, ok := r.connRooms[connID][roomID]; ok {
			return true
		}
	}
	return false
}

// UsersInRoom returns the set of users present in a room, read atomically.
func (r *Registry) UsersInRoom(roomID string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make(map[string]struct{})
	for _, conn := range r.rooms[roomID] {
		res[conn.UserID] = struct{}{}
	}
	return res
}

// RoomConnections returns the connections in a room.
func (r *Registry) RoomConnections(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[roomID]
	res := make([]*Connection, 0, len(room))
	for _, conn := range room {
		res = append(res, conn)
	}
	return res
}

// UserConnections returns the live connections of a user.
func (r *Registry) UserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uc := r.userConns[userID]
	res := make([]*Connection, 0, len(uc))
	for _, conn := range uc {
		res = append(res, conn)
	}
	return res
}

// RoomsOf returns the rooms joined by a connection.
func (r *Registry) RoomsOf(conn *Connection) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]string, 0, len(r.connRooms[conn.ID]))
	for roomID := range r.connRooms[conn.ID] {
		res = append(res, roomID)
	}
	return res
}

// EvictRoom removes every connection from a room and returns them.
func (r *Registry) EvictRoom(roomID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[roomID]
	res := make([]*Connection, 0, len(room))
	for connID, conn := range room {
		res = append(res, conn)
		r.leaveLocked(roomID, connID)
	}
	return res
}

// Stats returns the number of connections, users and rooms.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Connections: len(r.conns),
		Users:       len(r.userConns),
		Rooms:       len(r.rooms),
	}
}

// Close closes every connection and clears the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.userConns = make(map[string]map[string]*Connection)
	r.rooms = make(map[string]map[string]*Connection)
	r.connRooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (r *Registry) joinLocked(conn *Connection, roomID string) bool {
	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[roomID] = room
	}
	if _, ok := room[conn.ID]; ok {
		return false
	}
	room[conn.ID] = conn

	memberships := r.connRooms[conn.ID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		r.connRooms[conn.ID] = memberships
	}
	memberships[roomID] = struct{}{}
	return true
}

func (r *Registry) leaveLocked(roomID, connID string) bool {
	room := r.rooms[roomID]
	if room == nil {
		return false
	}
	if _, ok := room[connID]; !ok {
		return false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	if memberships, ok := r.connRooms[connID]; ok {
		delete(memberships, roomID)
	}
	return true
}
