package registry

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

type member struct {
	conn interfaces.Connection
	seq  uint64
}

// Room is the serialization domain for one class session.
// Methods on Room assume the caller is inside the domain, i.e. running under
// Registry.WithRoom or a hook invoked by the registry.
type Room struct {
	id string
	mu sync.Mutex

	members map[string]*member // connection ID -> member
	byUser  map[string]*member // user ID -> most recent connection
	seq     uint64
	closed  bool

	log *logrus.Entry
}

func newRoom(id string, log *logrus.Entry) *Room {
	return &Room{
		id:      id,
		members: make(map[string]*member),
		byUser:  make(map[string]*member),
		log:     log.WithField("room_id", id),
	}
}

func (rm *Room) ID() string { return rm.id }

// MemberCount counts connections, not distinct users
func (rm *Room) MemberCount() int { return len(rm.members) }

func (rm *Room) IsMember(conn interfaces.Connection) bool {
	m, ok := rm.members[conn.ID()]
	return ok && m.conn == conn
}

// HasUser reports whether any connection of userID is in the room
func (rm *Room) HasUser(userID string) bool {
	_, ok := rm.byUser[userID]
	return ok
}

// Lookup returns the latest connection registered for userID
func (rm *Room) Lookup(userID string) (interfaces.Connection, bool) {
	m, ok := rm.byUser[userID]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

// Participants returns one entry per user in join order
func (rm *Room) Participants() []types.Participant {
	users := make([]*member, 0, len(rm.byUser))
	for _, m := range rm.byUser {
		users = append(users, m)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].seq < users[j].seq })

	out := make([]types.Participant, 0, len(users))
	for _, m := range users {
		out = append(out, types.ParticipantOf(m.conn.Identity()))
	}
	return out
}

// StudentIDs returns the connected students, deduplicated, in join order
func (rm *Room) StudentIDs() []string {
	var ids []string
	for _, p := range rm.Participants() {
		if p.Role == types.RoleStudent {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// Broadcast sends event to every member and returns how many sends succeeded
func (rm *Room) Broadcast(event types.Event) int {
	return rm.BroadcastExcept(nil, event)
}

// BroadcastExcept fans out to every member other than sender.
// Delivery is best effort: a failed send is logged and skipped.
func (rm *Room) BroadcastExcept(sender interfaces.Connection, event types.Event) int {
	delivered := 0
	for id, m := range rm.members {
		if sender != nil && id == sender.ID() {
			continue
		}
		if err := m.conn.Send(event); err != nil {
			rm.log.WithFields(logrus.Fields{
				"conn_id": id,
				"event":   event.Type,
			}).WithError(err).Debug("dropping event for unreachable member")
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo delivers event to the latest connection of userID
func (rm *Room) SendTo(userID string, event types.Event) bool {
	conn, ok := rm.Lookup(userID)
	if !ok {
		return false
	}
	if err := conn.Send(event); err != nil {
		rm.log.WithField("user_id", userID).WithError(err).Debug("direct send failed")
		return false
	}
	return true
}

func (rm *Room) add(conn interfaces.Connection) {
	rm.seq++
	m := &member{conn: conn, seq: rm.seq}
	rm.members[conn.ID()] = m
	// last writer wins on identity routing
	rm.byUser[conn.Identity().UserID] = m
}

// remove drops conn and, if it held the identity mapping, hands the mapping to
// the user's most recent remaining connection
func (rm *Room) remove(conn interfaces.Connection) {
	delete(rm.members, conn.ID())

	userID := conn.Identity().UserID
	current, ok := rm.byUser[userID]
	if !ok || current.conn != conn {
		// RACE CONDITION FIX: a stale connection never removes a newer mapping
		return
	}
	delete(rm.byUser, userID)

	var next *member
	for _, m := range rm.members {
		if m.conn.Identity().UserID == userID && (next == nil || m.seq > next.seq) {
			next = m
		}
	}
	if next != nil {
		rm.byUser[userID] = next
	}
}
