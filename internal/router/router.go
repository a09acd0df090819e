// Package router turns raw frames into validated, authorized inbound events.
package router

import (
	"encoding/json"
	"fmt"
	"time"

	"classroom/internal/metrics"
	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

// Config tunes inbound limits
type Config struct {
	RateLimit     int           `json:"rate_limit"`
	RateWindow    time.Duration `json:"rate_window"`
	MaxFrameBytes int           `json:"max_frame_bytes"`
}

func DefaultConfig() Config {
	return Config{
		RateLimit:     100,
		RateWindow:    time.Minute,
		MaxFrameBytes: types.MaxPayloadBytes + 4096,
	}
}

// capabilities lists the single role allowed to send each gated event type.
// Event types absent from the table are open to every member.
var capabilities = map[string]types.Role{
	types.InboundTriggerQuestion: types.RoleTeacher,
	types.InboundSubmitAnswer:    types.RoleStudent,
	types.InboundPopupResponse:   types.RoleStudent,
	types.InboundFocusEvent:      types.RoleStudent,
}

// Router validates inbound frames before the hub acts on them
type Router struct {
	cfg     Config
	limiter *RateLimiter
	rec     metrics.Recorder
}

func New(cfg Config, rec metrics.Recorder) *Router {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Router{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		rec:     rec,
	}
}

// Decode rate-limits, parses, validates and authorizes one frame from identity.
// The returned error is one of ErrRateLimitExceeded, ErrFrameTooLarge,
// ErrInvalidJSON, a types validation error or interfaces.ErrNotAuthorized.
func (r *Router) Decode(identity types.Identity, raw []byte) (*types.Inbound, error) {
	if r.cfg.MaxFrameBytes > 0 && len(raw) > r.cfg.MaxFrameBytes {
		r.rec.EventRejected("too_large")
		return nil, ErrFrameTooLarge
	}
	if !r.limiter.Allow(identity.UserID) {
		r.rec.EventRejected("rate_limited")
		return nil, ErrRateLimitExceeded
	}

	var msg types.Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.rec.EventRejected("invalid_json")
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := msg.Validate(); err != nil {
		r.rec.EventRejected("invalid_frame")
		return &msg, err
	}
	if err := Authorize(identity, msg.Type); err != nil {
		r.rec.EventRejected("not_authorized")
		return &msg, err
	}

	r.rec.EventReceived(msg.Type)
	return &msg, nil
}

// Authorize applies the capability table
func Authorize(identity types.Identity, eventType string) error {
	if CanSend(identity.Role, eventType) {
		return nil
	}
	return fmt.Errorf("%s may not send %s: %w", identity.Role, eventType, interfaces.ErrNotAuthorized)
}

// CanSend reports whether role may send eventType
func CanSend(role types.Role, eventType string) bool {
	if !types.IsValidRole(role) {
		return false
	}
	required, gated := capabilities[eventType]
	return !gated || required == role
}

// Cleanup drops idle rate-limit state
func (r *Router) Cleanup() int {
	return r.limiter.Cleanup()
}
