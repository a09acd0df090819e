// Package registry tracks room membership and routes events by logical identity.
package registry

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

// JoinHook runs inside the room's domain after a connection is admitted
type JoinHook func(rm *Room, id types.Identity)

// CloseHook runs inside the room's domain when its last member leaves,
// before the room is discarded
type CloseHook func(roomID string)

// RoomStats is a point-in-time view of one room
type RoomStats struct {
	RoomID      string `json:"roomId"`
	Connections int    `json:"connections"`
	Teachers    int    `json:"teachers"`
	Students    int    `json:"students"`
}

// Registry owns every live room
// ARCHITECTURAL DISCOVERY: Lock order is room.mu before r.mu. Code holding r.mu
// never waits on a room lock, so teardown can unlink a room while holding it.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	connRoom map[string]string // connection ID -> room ID

	hookMu     sync.RWMutex
	joinHooks  []JoinHook
	closeHooks []CloseHook

	log *logrus.Entry
}

// New creates an empty registry
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		connRoom: make(map[string]string),
		log:      logger.WithField("component", "registry"),
	}
}

// OnJoin registers a hook fired for every admitted connection
func (r *Registry) OnJoin(h JoinHook) {
	r.hookMu.Lock()
	r.joinHooks = append(r.joinHooks, h)
	r.hookMu.Unlock()
}

// OnClose registers a hook fired when a room empties
func (r *Registry) OnClose(h CloseHook) {
	r.hookMu.Lock()
	r.closeHooks = append(r.closeHooks, h)
	r.hookMu.Unlock()
}

// Join admits conn into roomID. Re-joining the current room is a no-op that
// returns false; joining while in a different room fails.
func (r *Registry) Join(conn interfaces.Connection, roomID string) (bool, error) {
	if conn == nil {
		return false, ErrNilConnection
	}
	if !types.IsValidRoomID(roomID) {
		return false, types.ErrInvalidRoomID
	}
	identity := conn.Identity()

	for {
		rm, err := r.roomForJoin(conn.ID(), roomID)
		if err != nil {
			return false, err
		}
		if rm == nil {
			return false, nil
		}

		rm.mu.Lock()
		if rm.closed {
			// lost a race with teardown; the closed room is already unlinked
			rm.mu.Unlock()
			continue
		}

		r.mu.Lock()
		current, bound := r.connRoom[conn.ID()]
		if bound {
			r.mu.Unlock()
			rm.mu.Unlock()
			if current == roomID {
				return false, nil
			}
			return false, ErrAlreadyInOtherRoom
		}
		r.connRoom[conn.ID()] = roomID
		r.mu.Unlock()

		rm.add(conn)
		rm.BroadcastExcept(conn, types.NewEvent(types.EventParticipantJoined, types.ParticipantOf(identity)))
		if err := conn.Send(types.NewEvent(types.EventParticipantsList, rm.Participants())); err != nil {
			rm.log.WithField("user_id", identity.UserID).WithError(err).Debug("roster delivery failed")
		}

		rm.log.WithFields(logrus.Fields{
			"user_id": identity.UserID,
			"role":    identity.Role,
			"members": rm.MemberCount(),
		}).Info("participant joined")

		for _, h := range r.snapshotJoinHooks() {
			h(rm, identity)
		}
		rm.mu.Unlock()
		return true, nil
	}
}

// roomForJoin returns the room to join, creating it if needed. A nil room with
// a nil error means conn is already in roomID.
func (r *Registry) roomForJoin(connID, roomID string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.connRoom[connID]; ok {
		if current == roomID {
			return nil, nil
		}
		return nil, ErrAlreadyInOtherRoom
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom(roomID, r.log)
		r.rooms[roomID] = rm
	}
	return rm, nil
}

// Leave removes conn from roomID; it is a no-op when conn is not a member.
// The last leave runs close hooks and discards the room.
func (r *Registry) Leave(conn interfaces.Connection, roomID string) bool {
	if conn == nil {
		return false
	}

	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed || !rm.IsMember(conn) {
		return false
	}

	identity := conn.Identity()
	rm.remove(conn)

	r.mu.Lock()
	if r.connRoom[conn.ID()] == roomID {
		delete(r.connRoom, conn.ID())
	}
	r.mu.Unlock()

	// Another tab of the same user keeps them on the roster
	if !rm.HasUser(identity.UserID) {
		rm.Broadcast(types.NewEvent(types.EventParticipantLeft, types.ParticipantLeft{
			UserID: identity.UserID,
			Name:   identity.Name,
		}))
	}

	rm.log.WithFields(logrus.Fields{
		"user_id": identity.UserID,
		"members": rm.MemberCount(),
	}).Info("participant left")

	if rm.MemberCount() == 0 {
		rm.closed = true
		for _, h := range r.snapshotCloseHooks() {
			h(roomID)
		}

		r.mu.Lock()
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
		rm.log.Info("room closed")
	}

	return true
}

// Disconnect leaves whatever room conn currently occupies
func (r *Registry) Disconnect(conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}
	roomID, ok := r.RoomOf(conn)
	if !ok {
		return false
	}
	return r.Leave(conn, roomID)
}

// RoomOf returns the room conn currently belongs to
func (r *Registry) RoomOf(conn interfaces.Connection) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.connRoom[conn.ID()]
	return roomID, ok
}

// WithRoom runs fn inside the room's serialization domain. It returns false
// without calling fn when the room does not exist or has already closed.
// Timer callbacks use the return value as their liveness check.
func (r *Registry) WithRoom(roomID string, fn func(rm *Room)) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return false
	}
	fn(rm)
	return true
}

// LookupByIdentity returns the latest connection of userID in roomID
func (r *Registry) LookupByIdentity(roomID, userID string) (interfaces.Connection, bool) {
	var (
		conn  interfaces.Connection
		found bool
	)
	r.WithRoom(roomID, func(rm *Room) {
		conn, found = rm.Lookup(userID)
	})
	return conn, found
}

// Broadcast fans out to every member of roomID; absent rooms are a silent no-op
func (r *Registry) Broadcast(roomID string, event types.Event) int {
	return r.BroadcastExcept(roomID, nil, event)
}

func (r *Registry) BroadcastExcept(roomID string, sender interfaces.Connection, event types.Event) int {
	delivered := 0
	r.WithRoom(roomID, func(rm *Room) {
		delivered = rm.BroadcastExcept(sender, event)
	})
	return delivered
}

// Members returns the deduplicated roster of roomID
func (r *Registry) Members(roomID string) []types.Participant {
	var out []types.Participant
	r.WithRoom(roomID, func(rm *Room) {
		out = rm.Participants()
	})
	return out
}

// Students returns connected student IDs of roomID
func (r *Registry) Students(roomID string) []string {
	var out []string
	r.WithRoom(roomID, func(rm *Room) {
		out = rm.StudentIDs()
	})
	return out
}

// MemberCount returns the number of connections in roomID
func (r *Registry) MemberCount(roomID string) int {
	n := 0
	r.WithRoom(roomID, func(rm *Room) {
		n = rm.MemberCount()
	})
	return n
}

// Stats returns one entry per live room ordered by room ID
func (r *Registry) Stats() []RoomStats {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	stats := make([]RoomStats, 0, len(ids))
	for _, id := range ids {
		r.WithRoom(id, func(rm *Room) {
			s := RoomStats{RoomID: id, Connections: rm.MemberCount()}
			for _, p := range rm.Participants() {
				if p.Role == types.RoleTeacher {
					s.Teachers++
				} else {
					s.Students++
				}
			}
			stats = append(stats, s)
		})
	}
	return stats
}

// RoomCount returns the number of live rooms
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ConnectionCount returns the number of connections bound to a room
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connRoom)
}

func (r *Registry) snapshotJoinHooks() []JoinHook {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	return append([]JoinHook(nil), r.joinHooks...)
}

func (r *Registry) snapshotCloseHooks() []CloseHook {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	return append([]CloseHook(nil), r.closeHooks...)
}
