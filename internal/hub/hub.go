// Package hub ties connections to rooms and routes their events to the
// popup, question and signaling components.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classroom/internal/enrollment"
	"classroom/internal/persist"
	"classroom/internal/popup"
	"classroom/internal/question"
	"classroom/internal/registry"
	"classroom/internal/router"
	"classroom/internal/signaling"
	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

// Admission decides whether an identity may join a class
type Admission interface {
	ValidateMembership(ctx context.Context, classID string, identity types.Identity) error
}

// Config tunes the hub's housekeeping loop
type Config struct {
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

func DefaultConfig() Config {
	return Config{CleanupInterval: time.Minute}
}

// Deps are the components the hub composes
type Deps struct {
	Registry  *registry.Registry
	Router    *router.Router
	Admission Admission
	Popups    *popup.Scheduler
	Questions *question.Engine
	Relay     *signaling.Relay
	Store     interfaces.Store
	Jobs      persist.Submitter
}

// Hub coordinates connection lifecycle and event routing
// ARCHITECTURAL DISCOVERY: Room-scoped work runs inside Registry.WithRoom, so
// the hub itself keeps no room state and needs no lock beyond its running flag
type Hub struct {
	cfg Config
	Deps

	running  bool
	mu       sync.RWMutex
	shutdown chan struct{}
	stopped  chan struct{}

	log *logrus.Entry
}

// New wires the lifecycle hooks into the registry and returns a stopped hub
func New(cfg Config, deps Deps, logger *logrus.Logger) (*Hub, error) {
	if deps.Registry == nil || deps.Router == nil || deps.Popups == nil || deps.Questions == nil || deps.Relay == nil {
		return nil, ErrMissingDependency
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	h := &Hub{
		cfg:  cfg,
		Deps: deps,
		log:  logger.WithField("component", "hub"),
	}

	// FUNCTIONAL DISCOVERY: Every teacher admission calls Start; the scheduler
	// ignores rooms whose chain is already running
	h.Registry.OnJoin(func(rm *registry.Room, id types.Identity) {
		if id.IsTeacher() && h.Popups.Start(rm.ID()) {
			h.log.WithField("room_id", rm.ID()).Info("popup scheduler started")
		}
	})
	h.Registry.OnClose(func(roomID string) {
		h.Popups.Stop(roomID)
		h.Questions.CancelRoom(roomID)
		h.log.WithField("room_id", roomID).Info("room timers cancelled")
	})

	return h, nil
}

// Start begins housekeeping and accepts events
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.stopped = make(chan struct{})

	h.log.Info("starting hub")
	go h.run(ctx, h.shutdown, h.stopped)
	return nil
}

// Stop halts housekeeping and cancels every room timer
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	stopped := h.stopped
	h.mu.Unlock()

	<-stopped
	h.Popups.StopAll()
	h.Questions.CancelAll()
	h.log.Info("hub stopped")
	return nil
}

// Running reports whether the hub accepts events
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(h.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := h.Router.Cleanup(); n > 0 {
				h.log.WithField("removed", n).Debug("rate limiter state cleaned")
			}
		case <-shutdown:
			return
		case <-ctx.Done():
			h.log.Info("hub context cancelled")
			return
		}
	}
}

// Dispatch decodes one frame from conn and routes it. The returned error is
// informational; anything the client must see has already been sent to it.
func (h *Hub) Dispatch(ctx context.Context, conn interfaces.Connection, raw []byte) error {
	if !h.Running() {
		return ErrHubNotRunning
	}

	identity := conn.Identity()
	msg, err := h.Router.Decode(identity, raw)
	if err != nil {
		h.rejectFrame(conn, msg, err)
		return err
	}

	logger := h.log.WithFields(logrus.Fields{
		"room_id": msg.RoomID,
		"user_id": identity.UserID,
		"type":    msg.Type,
	})

	switch msg.Type {
	case types.InboundJoin:
		return h.join(ctx, conn, msg.RoomID, logger)
	case types.InboundLeave:
		h.Registry.Leave(conn, msg.RoomID)
		return nil
	case types.InboundTriggerQuestion:
		return h.triggerQuestion(ctx, conn, msg, logger)
	case types.InboundFocusEvent:
		return h.focusEvent(conn, msg, logger)
	}

	var routeErr error
	ok := h.Registry.WithRoom(msg.RoomID, func(rm *registry.Room) {
		if !rm.IsMember(conn) {
			routeErr = ErrNotMember
			return
		}
		routeErr = h.routeInRoom(rm, identity, msg)
	})
	if !ok {
		routeErr = ErrNotMember
	}

	if routeErr != nil {
		logger.WithError(routeErr).Debug("event ignored")
	}
	return routeErr
}

// routeInRoom handles events whose whole effect happens inside the room's domain
func (h *Hub) routeInRoom(rm *registry.Room, identity types.Identity, msg *types.Inbound) error {
	switch msg.Type {
	case types.InboundChat:
		rm.Broadcast(types.NewEvent(types.EventChatMessage, types.ChatMessage{
			UserID:    identity.UserID,
			Name:      identity.Name,
			Text:      msg.Text,
			Timestamp: time.Now().UTC(),
		}))
	case types.InboundRaiseHand:
		rm.Broadcast(types.NewEvent(types.EventHandRaised, types.HandRaised{
			UserID: identity.UserID,
			Name:   identity.Name,
		}))
	case types.InboundPopupResponse:
		return h.Popups.HandleResponse(rm.ID(), identity.UserID, msg.CycleID)
	case types.InboundSubmitAnswer:
		return h.Questions.HandleAnswer(rm.ID(), identity.UserID, msg.QuestionID, msg.OptionID, msg.TimeTakenMs)
	case types.InboundSignal:
		h.Relay.RelayIn(rm, identity.UserID, msg.ToUserID, msg.Kind, msg.Payload)
	}
	return nil
}

func (h *Hub) join(ctx context.Context, conn interfaces.Connection, roomID string, logger *logrus.Entry) error {
	if h.Admission != nil {
		if err := h.Admission.ValidateMembership(ctx, roomID, conn.Identity()); err != nil {
			logger.WithError(err).Warn("join refused")
			code := CodeJoinFailed
			if errors.Is(err, enrollment.ErrNotEnrolled) {
				code = CodeNotEnrolled
			}
			h.sendError(conn, code, err.Error())
			return err
		}
	}

	if _, err := h.Registry.Join(conn, roomID); err != nil {
		logger.WithError(err).Warn("join failed")
		code := CodeJoinFailed
		if errors.Is(err, registry.ErrAlreadyInOtherRoom) {
			code = CodeAlreadyInRoom
		}
		h.sendError(conn, code, err.Error())
		return err
	}
	return nil
}

// triggerQuestion reads storage outside the room's domain, so membership is
// checked first and the engine re-enters the room itself
func (h *Hub) triggerQuestion(ctx context.Context, conn interfaces.Connection, msg *types.Inbound, logger *logrus.Entry) error {
	member := false
	h.Registry.WithRoom(msg.RoomID, func(rm *registry.Room) {
		member = rm.IsMember(conn)
	})
	if !member {
		logger.Debug("question trigger from non-member ignored")
		return ErrNotMember
	}

	if err := h.Questions.BroadcastQuestion(ctx, msg.RoomID, msg.QuestionID); err != nil {
		logger.WithError(err).Debug("question trigger ignored")
		return err
	}
	return nil
}

func (h *Hub) focusEvent(conn interfaces.Connection, msg *types.Inbound, logger *logrus.Entry) error {
	member := false
	h.Registry.WithRoom(msg.RoomID, func(rm *registry.Room) {
		member = rm.IsMember(conn)
	})
	if !member {
		logger.Debug("focus event from non-member ignored")
		return ErrNotMember
	}
	if h.Jobs == nil || h.Store == nil {
		return nil
	}

	event := &types.FocusEvent{
		ID:        uuid.New().String(),
		StudentID: conn.Identity().UserID,
		ClassID:   msg.RoomID,
		EventType: msg.EventType,
		Duration:  msg.DurationMs,
		CreatedAt: time.Now().UTC(),
	}
	h.Jobs.Submit("record_focus_event", logrus.Fields{
		"room_id":    msg.RoomID,
		"user_id":    event.StudentID,
		"event_type": event.EventType,
	}, func(ctx context.Context) error {
		return h.Store.RecordFocusEvent(ctx, event)
	})
	return nil
}

// Disconnect removes conn from whatever room it occupies
func (h *Hub) Disconnect(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	if h.Registry.Disconnect(conn) {
		h.log.WithField("user_id", conn.Identity().UserID).Debug("connection disconnected from room")
	}
}

// rejectFrame reports a decode failure. Unauthorized question triggers are
// dropped without feedback.
func (h *Hub) rejectFrame(conn interfaces.Connection, msg *types.Inbound, err error) {
	identity := conn.Identity()
	logger := h.log.WithField("user_id", identity.UserID).WithError(err)

	switch {
	case errors.Is(err, router.ErrRateLimitExceeded):
		logger.Warn("rate limit exceeded")
		h.sendError(conn, CodeRateLimited, "too many events, slow down")
	case errors.Is(err, interfaces.ErrNotAuthorized):
		if msg != nil && msg.Type == types.InboundTriggerQuestion {
			logger.Debug("unauthorized question trigger ignored")
			return
		}
		logger.Info("unauthorized event")
		h.sendError(conn, CodeNotAuthorized, err.Error())
	default:
		logger.Debug("invalid frame")
		h.sendError(conn, CodeInvalidFrame, err.Error())
	}
}

func (h *Hub) sendError(conn interfaces.Connection, code, message string) {
	if err := conn.Send(types.NewEvent(types.EventError, types.ErrorNotice{Code: code, Message: message})); err != nil {
		h.log.WithField("user_id", conn.Identity().UserID).WithError(err).Debug("error notice not delivered")
	}
}
