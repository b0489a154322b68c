package domain

import (
	"time"
)

// CallType distinguishes audio-only calls from audio+video calls.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus is the lifecycle state of a call session. Values are stored in
// the call_sessions table and mirrored to both participants, so they must
// stay stable.
type CallStatus string

const (
	CallStatusPending   CallStatus = "pending"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusDeclined  CallStatus = "declined"
	CallStatusBusy      CallStatus = "busy"
)

// IsTerminal reports whether the status is final. No transition leaves a
// terminal status.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusDeclined, CallStatusBusy:
		return true
	}
	return false
}

// transitions is the full set of legal status transitions. "ended" is
// reachable from every live status because either party can hang up at any
// point of the setup sequence.
var transitions = map[CallStatus][]CallStatus{
	CallStatusPending:   {CallStatusRinging, CallStatusEnded},
	CallStatusRinging:   {CallStatusConnected, CallStatusEnded, CallStatusDeclined, CallStatusMissed, CallStatusBusy},
	CallStatusConnected: {CallStatusEnded},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to CallStatus) bool {
	if from == to {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CallSession is the durable record of one call attempt. The backend row is
// authoritative; local copies are eventually-consistent mirrors updated by
// realtime push.
type CallSession struct {
	ID              string     `json:"id" gorm:"column:id;primaryKey"`
	ConversationID  string     `json:"conversation_id" gorm:"column:conversation_id;index"`
	CallerID        string     `json:"caller_id" gorm:"column:caller_id;index"`
	CalleeID        string     `json:"callee_id" gorm:"column:callee_id;index"`
	Status          CallStatus `json:"status" gorm:"column:status"`
	CallType        CallType   `json:"call_type" gorm:"column:call_type"`
	StartedAt       *time.Time `json:"started_at" gorm:"column:started_at"`
	EndedAt         *time.Time `json:"ended_at" gorm:"column:ended_at"`
	DurationSeconds *int       `json:"duration_seconds" gorm:"column:duration_seconds"`
	CreatedAt       time.Time  `json:"created_at" gorm:"column:created_at"`
}

func (CallSession) TableName() string {
	return "call_sessions"
}

// OtherParticipant returns the participant id that is not selfID.
func (s *CallSession) OtherParticipant(selfID string) string {
	if s.CallerID == selfID {
		return s.CalleeID
	}
	return s.CallerID
}

// DurationAt computes the call duration in whole seconds at endedAt, floored
// at zero. A call that was never answered (StartedAt nil) has duration 0.
func (s *CallSession) DurationAt(endedAt time.Time) int {
	if s.StartedAt == nil {
		return 0
	}
	d := int(endedAt.Sub(*s.StartedAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}
