package models

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Party reports whether the given account is the buyer or seller side of the
// conversation.
func (c *Conversation) Party(accountID uuid.UUID) bool {
	return c.BuyerID == accountID || c.SellerID == accountID
}

// Message is one entry in a conversation thread. SenderID is nil for system
// messages, which render audit events as human-readable text (bold via
// **text**). The structured record lives in audit_events; these are a view.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	SenderID       *uuid.UUID `json:"sender_id,omitempty"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"created_at"`
}

// System reports whether the message was emitted by the platform.
func (m *Message) System() bool { return m.SenderID == nil }
