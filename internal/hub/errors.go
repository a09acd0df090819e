package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrNotMember         = errors.New("connection is not a member of the room")
	ErrMissingDependency = errors.New("hub dependency missing")
)

// Error codes carried by outbound error events
const (
	CodeInvalidFrame  = "invalid_frame"
	CodeRateLimited   = "rate_limited"
	CodeNotAuthorized = "not_authorized"
	CodeNotEnrolled   = "not_enrolled"
	CodeAlreadyInRoom = "already_in_room"
	CodeJoinFailed    = "join_failed"
)
