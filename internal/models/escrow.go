package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Escrow transaction statuses. Completed and cancelled are terminal; a
// disputed transaction is frozen until resolved out of band.
const (
	EscrowStatusAgreementReached   = "agreement_reached"
	EscrowStatusEscrowCreated      = "escrow_created"
	EscrowStatusManualSetup        = "manual_setup"
	EscrowStatusPaymentSecured     = "payment_secured"
	EscrowStatusDeliveryInProgress = "delivery_in_progress"
	EscrowStatusInspectionPeriod   = "inspection_period"
	EscrowStatusCompleted          = "completed"
	EscrowStatusCancelled          = "cancelled"
	EscrowStatusDisputed           = "disputed"
)

// TerminalEscrowStatus reports whether no further transition is allowed.
func TerminalEscrowStatus(status string) bool {
	return status == EscrowStatusCompleted || status == EscrowStatusCancelled
}

type EscrowTransaction struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	ProductID      uuid.UUID       `json:"product_id"`
	BuyerID        uuid.UUID       `json:"buyer_id"`
	SellerID       uuid.UUID       `json:"seller_id"`
	Amount         decimal.Decimal `json:"amount"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	EscrowFee      decimal.Decimal `json:"escrow_fee"`
	Description    string          `json:"description"`
	Timeline       string          `json:"timeline"`
	Status         string          `json:"status"`
	// PaymentIntentID references the external processor authorization, set
	// when escrow initialization succeeds.
	PaymentIntentID *string `json:"payment_intent_id,omitempty"`
	// FundsReleasedAt is the durable already-released marker. Release is
	// committed at most once regardless of retries.
	FundsReleasedAt *time.Time `json:"funds_released_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Reminder stages, one per SLA-bearing status. The (transaction, stage) pair
// is unique in escrow_reminders so a reminder is sent at most once per stage.
const (
	ReminderStagePayment    = "payment"
	ReminderStageDelivery   = "delivery"
	ReminderStageReceipt    = "receipt"
	ReminderStageInspection = "inspection"
)
