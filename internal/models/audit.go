package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit event types. Every escrow status change appends exactly one event;
// the stored status is always re-derivable by replaying them in order.
const (
	AuditTermsProposed     = "terms_proposed"
	AuditEscrowInitialized = "escrow_initialized"
	AuditManualSetup       = "manual_setup"
	AuditPaymentSecured    = "payment_secured"
	AuditDeliveryConfirmed = "delivery_confirmed"
	AuditReceiptVerified   = "receipt_verified"
	AuditFundsReleased     = "funds_released"
	AuditDisputeRaised     = "dispute_raised"
	AuditDisputeEvidence   = "dispute_evidence"
	AuditCancelled         = "cancelled"
	AuditReminderSent      = "reminder_sent"
)

// AuditEvent is the structured record of an escrow lifecycle event. ActorID
// is nil for platform-emitted events (reminders). Payload shape depends on
// the event type: proof URLs for delivery, checklist for receipt, reason for
// disputes.
type AuditEvent struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	EventType     string          `json:"event_type"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
