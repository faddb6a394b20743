package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation groups the messages of one diagnostic session. It is owned by a single
// user and only ever grows by appending messages.
type Conversation struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	UserID    uuid.UUID  `db:"user_id"    json:"userId"`
	VehicleID *uuid.UUID `db:"vehicle_id" json:"vehicleId,omitempty"`
	Title     string     `db:"title"      json:"title"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

// Message is one turn stored in a conversation.
type Message struct {
	ID             uuid.UUID      `db:"id"              json:"id"`
	ConversationID uuid.UUID      `db:"conversation_id" json:"conversationId"`
	Role           string         `db:"role"            json:"role"`
	Content        MessageContent `db:"content"         json:"content"`
	CreatedAt      time.Time      `db:"created_at"      json:"createdAt"`
}

// MessageContent is stored as JSON. User turns carry the request context,
// assistant turns carry the diagnosis they produced.
type MessageContent struct {
	Text      string     `json:"text"`
	OBDCode   string     `json:"obdCode,omitempty"`
	VehicleID string     `json:"vehicleId,omitempty"`
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`
}
