package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidEventType  = errors.New("invalid event type")
	ErrInvalidRoomID     = errors.New("room ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidUserID     = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole       = errors.New("role must be 'teacher' or 'student'")
	ErrInvalidChatText   = errors.New("chat text must be 1-2000 characters")
	ErrMissingField      = errors.New("required field missing")
	ErrInvalidDuration   = errors.New("durations cannot be negative")
	ErrInvalidFocusType  = errors.New("focus event type must be 'focus' or 'blur'")
	ErrInvalidSignalKind = errors.New("signal kind must be offer, answer or candidate")
	ErrPayloadTooLarge   = errors.New("signal payload exceeds 64KB limit")
)
