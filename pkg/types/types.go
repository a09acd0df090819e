package types

import (
	"encoding/json"
	"time"
)

// Role identifies what a participant may do inside a room
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Identity is the verified principal attached to a connection
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// IsTeacher reports whether the identity carries the teacher role
func (i Identity) IsTeacher() bool { return i.Role == RoleTeacher }

// IsStudent reports whether the identity carries the student role
func (i Identity) IsStudent() bool { return i.Role == RoleStudent }

// Inbound event types (connection -> core)
// ARCHITECTURAL DISCOVERY: Event names are the wire contract with browser clients
// and must stay stable across server releases
const (
	InboundJoin            = "join"
	InboundLeave           = "leave"
	InboundChat            = "chat"
	InboundRaiseHand       = "raiseHand"
	InboundPopupResponse   = "popupResponse"
	InboundTriggerQuestion = "triggerQuestion"
	InboundSubmitAnswer    = "submitAnswer"
	InboundFocusEvent      = "focusEvent"
	InboundSignal          = "signal"
)

// Outbound event types (core -> connections)
const (
	EventParticipantJoined = "participantJoined"
	EventParticipantLeft   = "participantLeft"
	EventParticipantsList  = "participantsList"
	EventChatMessage       = "chatMessage"
	EventHandRaised        = "handRaised"
	EventEngagementPopup   = "engagementPopup"
	EventQuestionBroadcast = "questionBroadcast"
	EventQuestionResults   = "questionResults"
	EventSignalRelayed     = "signalRelayed"
	EventError             = "error"
)

// Signal kinds relayed between peers
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Focus telemetry event types
const (
	FocusGained = "focus"
	FocusLost   = "blur"
)

// Inbound is a single frame received from a connection
// FUNCTIONAL DISCOVERY: Flat envelope keeps every event type decodable in one pass;
// fields irrelevant to Type are ignored
type Inbound struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"roomId"`
	Text        string          `json:"text,omitempty"`
	CycleID     string          `json:"cycleId,omitempty"`
	QuestionID  string          `json:"questionId,omitempty"`
	OptionID    string          `json:"optionId,omitempty"`
	TimeTakenMs int64           `json:"timeTakenMs,omitempty"`
	EventType   string          `json:"eventType,omitempty"`
	DurationMs  int64           `json:"durationMs,omitempty"`
	ToUserID    string          `json:"toUserId,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Event is the envelope of every message written to a connection
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewEvent wraps a payload into an outbound envelope
func NewEvent(eventType string, data interface{}) Event {
	return Event{Type: eventType, Data: data}
}

// Participant is the roster entry for a connected identity
type Participant struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// ParticipantOf converts an identity into its roster representation
func ParticipantOf(id Identity) Participant {
	return Participant{UserID: id.UserID, Name: id.Name, Role: id.Role}
}

type ParticipantLeft struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type ChatMessage struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type HandRaised struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// EngagementPopup asks every student in the room to check in
type EngagementPopup struct {
	PopupID           string    `json:"popupId"`
	RoomID            string    `json:"roomId"`
	ResponseWindowSec int       `json:"responseWindowSec"`
	Timestamp         time.Time `json:"timestamp"`
}

// PublicOption is an answer option with its correctness flag stripped
type PublicOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type QuestionBroadcast struct {
	QuestionID string         `json:"questionId"`
	Text       string         `json:"text"`
	Options    []PublicOption `json:"options"`
	WindowSec  int            `json:"windowSec"`
	Timestamp  time.Time      `json:"timestamp"`
}

type OptionCount struct {
	OptionID  string `json:"optionId"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
	Count     int    `json:"count"`
}

// QuestionResults is the aggregate emitted when a question window closes
type QuestionResults struct {
	QuestionID        string        `json:"questionId"`
	TotalResponses    int           `json:"totalResponses"`
	CorrectResponses  int           `json:"correctResponses"`
	CorrectPercentage int           `json:"correctPercentage"`
	OptionBreakdown   []OptionCount `json:"optionBreakdown"`
}

type SignalRelayed struct {
	FromUserID string          `json:"fromUserId"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}

// ErrorNotice tells a connection why an explicit request was rejected
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Storage records

type Question struct {
	ID        string    `json:"id" db:"id"`
	ClassID   string    `json:"class_id" db:"class_id"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Option struct {
	ID         string `json:"id" db:"id"`
	QuestionID string `json:"question_id" db:"question_id"`
	Text       string `json:"text" db:"text"`
	IsCorrect  bool   `json:"is_correct" db:"is_correct"`
}

type Response struct {
	ID         string    `json:"id" db:"id"`
	StudentID  string    `json:"student_id" db:"student_id"`
	QuestionID string    `json:"question_id" db:"question_id"`
	OptionID   string    `json:"option_id" db:"option_id"`
	TimeTaken  int64     `json:"time_taken" db:"time_taken"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type FocusEvent struct {
	ID        string    `json:"id" db:"id"`
	StudentID string    `json:"student_id" db:"student_id"`
	ClassID   string    `json:"class_id" db:"class_id"`
	EventType string    `json:"event_type" db:"event_type"`
	Duration  int64     `json:"duration" db:"duration"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PopupDispatch is one student's row of a popup cycle
type PopupDispatch struct {
	ID        string    `json:"id" db:"id"`
	CycleID   string    `json:"cycle_id" db:"cycle_id"`
	ClassID   string    `json:"class_id" db:"class_id"`
	StudentID string    `json:"student_id" db:"student_id"`
	Responded bool      `json:"responded" db:"responded"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Score struct {
	StudentID string `json:"student_id" db:"student_id"`
	ClassID   string `json:"class_id" db:"class_id"`
	Score     int    `json:"score" db:"score"`
}
