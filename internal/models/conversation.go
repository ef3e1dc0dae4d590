package models

import "time"

// Conversation is the simple bidirectional thread model. It sits outside
// the delivery pipeline; no campaign or channel routing applies.
type Conversation struct {
	ID             int64     `json:"id"`
	Subject        string    `json:"subject"`
	ParticipantIDs []int64   `json:"participant_ids"`
	LastMessageAt  time.Time `json:"last_message_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationMessage is one ordered entry in a thread.
type ConversationMessage struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReadReceipt marks a conversation message read by a participant.
type ReadReceipt struct {
	UserID    int64     `json:"user_id"`
	MessageID int64     `json:"message_id"`
	ReadAt    time.Time `json:"read_at"`
}
