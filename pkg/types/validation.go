package types

import (
	"regexp"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const (
	MaxIdentifierLength = 64
	MaxChatLength       = 2000
	MaxPayloadBytes     = 65536 // 64KB signaling payload
)

// Validate checks the frame shape for its declared type
// FUNCTIONAL DISCOVERY: Only structural checks happen here; role and membership
// checks belong to the router and the registry
func (m *Inbound) Validate() error {
	if !IsValidInboundType(m.Type) {
		return ErrInvalidEventType
	}
	if !IsValidRoomID(m.RoomID) {
		return ErrInvalidRoomID
	}

	switch m.Type {
	case InboundChat:
		n := utf8.RuneCountInString(m.Text)
		if n < 1 || n > MaxChatLength {
			return ErrInvalidChatText
		}
	case InboundPopupResponse:
		if m.CycleID == "" {
			return ErrMissingField
		}
	case InboundTriggerQuestion:
		if m.QuestionID == "" {
			return ErrMissingField
		}
	case InboundSubmitAnswer:
		if m.QuestionID == "" || m.OptionID == "" {
			return ErrMissingField
		}
		if m.TimeTakenMs < 0 {
			return ErrInvalidDuration
		}
	case InboundFocusEvent:
		if !IsValidFocusType(m.EventType) {
			return ErrInvalidFocusType
		}
		if m.DurationMs < 0 {
			return ErrInvalidDuration
		}
	case InboundSignal:
		if !IsValidUserID(m.ToUserID) {
			return ErrInvalidUserID
		}
		if !IsValidSignalKind(m.Kind) {
			return ErrInvalidSignalKind
		}
		if len(m.Payload) > MaxPayloadBytes {
			return ErrPayloadTooLarge
		}
	}

	return nil
}

// Validate ensures the identity is usable for routing
func (i Identity) Validate() error {
	if !IsValidUserID(i.UserID) {
		return ErrInvalidUserID
	}
	if !IsValidRole(i.Role) {
		return ErrInvalidRole
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > MaxIdentifierLength {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks if a class identifier meets format requirements
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > MaxIdentifierLength {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

func IsValidRole(role Role) bool {
	return role == RoleTeacher || role == RoleStudent
}

// IsValidInboundType checks if the event type is one of the accepted inbound types
func IsValidInboundType(eventType string) bool {
	switch eventType {
	case InboundJoin,
		InboundLeave,
		InboundChat,
		InboundRaiseHand,
		InboundPopupResponse,
		InboundTriggerQuestion,
		InboundSubmitAnswer,
		InboundFocusEvent,
		InboundSignal:
		return true
	default:
		return false
	}
}

func IsValidSignalKind(kind string) bool {
	switch kind {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return true
	default:
		return false
	}
}

func IsValidFocusType(eventType string) bool {
	return eventType == FocusGained || eventType == FocusLost
}
