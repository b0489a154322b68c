package domain

import "time"

// CallMessage is one in-call chat entry. Rows are append-only; unlike control
// signals, a sender's own messages are delivered back to them through the
// per-call channel so the chat view has a single source of ordering.
type CallMessage struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey"`
	CallID    string    `json:"call_id" gorm:"column:call_id;index"`
	SenderID  string    `json:"sender_id" gorm:"column:sender_id"`
	Content   string    `json:"content" gorm:"column:content"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

func (CallMessage) TableName() string {
	return "call_messages"
}
