// Package signaling forwards peer negotiation messages by logical identity.
package signaling

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"classroom/internal/metrics"
	"classroom/internal/registry"
	"classroom/pkg/types"
)

// Rooms is the slice of the registry the relay needs
type Rooms interface {
	WithRoom(roomID string, fn func(rm *registry.Room)) bool
}

// Relay is stateless; every call resolves the target afresh
type Relay struct {
	rooms Rooms
	rec   metrics.Recorder
	log   *logrus.Entry
}

func New(rooms Rooms, rec metrics.Recorder, logger *logrus.Logger) *Relay {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Relay{rooms: rooms, rec: rec, log: logger.WithField("component", "signaling")}
}

// Relay delivers payload to toUserID's current connection in roomID. It
// reports whether a delivery happened; failures are never surfaced to the sender.
func (r *Relay) Relay(roomID, fromUserID, toUserID, kind string, payload json.RawMessage) bool {
	delivered := false
	r.rooms.WithRoom(roomID, func(rm *registry.Room) {
		delivered = r.deliver(rm, fromUserID, toUserID, kind, payload)
	})
	r.rec.Signal(delivered)
	return delivered
}

// RelayIn is Relay for callers already inside the room's domain
func (r *Relay) RelayIn(rm *registry.Room, fromUserID, toUserID, kind string, payload json.RawMessage) bool {
	delivered := r.deliver(rm, fromUserID, toUserID, kind, payload)
	r.rec.Signal(delivered)
	return delivered
}

func (r *Relay) deliver(rm *registry.Room, fromUserID, toUserID, kind string, payload json.RawMessage) bool {
	logger := r.log.WithFields(logrus.Fields{
		"room_id": rm.ID(),
		"from":    fromUserID,
		"to":      toUserID,
		"kind":    kind,
	})

	if !types.IsValidSignalKind(kind) {
		logger.Debug("dropping signal with unknown kind")
		return false
	}
	if !rm.HasUser(fromUserID) {
		logger.Debug("dropping signal from non-member")
		return false
	}
	if fromUserID == toUserID {
		logger.Debug("dropping signal addressed to sender")
		return false
	}

	if payload == nil {
		payload = json.RawMessage("null")
	}
	ok := rm.SendTo(toUserID, types.NewEvent(types.EventSignalRelayed, types.SignalRelayed{
		FromUserID: fromUserID,
		Kind:       kind,
		Payload:    payload,
	}))
	if !ok {
		logger.Debug("signal target absent, dropped")
	}
	return ok
}
