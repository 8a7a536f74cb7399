package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/aibazaar/backend/internal/models"
)

// Actor identifies who is performing an escrow operation. It is always
// passed explicitly; the state machine never reads identity from ambient
// state, so every guard is enforceable server-side and testable.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"` // "buyer" or "seller", informational
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EscrowTxRepo is the transaction repository interface for the state machine.
// UpdateStatus must be a conditional write: it reports false when the stored
// status no longer matches from, which the service surfaces as a conflict.
type EscrowTxRepo interface {
	Create(ctx context.Context, tx pgx.Tx, t *models.EscrowTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) (bool, error)
	SetPaymentIntent(ctx context.Context, tx pgx.Tx, id uuid.UUID, intentID string) error
	MarkFundsReleased(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	ListReminderCandidates(ctx context.Context) ([]*models.EscrowTransaction, error)
}

// EscrowConversationRepo resolves the conversation a transaction belongs to.
type EscrowConversationRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
}

// EscrowMessageRepo appends system messages to the conversation thread.
type EscrowMessageRepo interface {
	CreateSystem(ctx context.Context, tx pgx.Tx, conversationID uuid.UUID, body string) error
}

// EscrowAuditRepo persists structured audit events.
type EscrowAuditRepo interface {
	Create(ctx context.Context, tx pgx.Tx, e *models.AuditEvent) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*models.AuditEvent, error)
}

// EscrowReminderRepo records the durable reminder-sent marker. Insert
// reports false when the (transaction, stage) pair was already recorded.
type EscrowReminderRepo interface {
	Insert(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID, stage string) (bool, error)
}

// Notification is an async message to a user, delivered by a background
// worker.
type Notification struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
}

// EnqueueNotificationTxFunc enqueues a notification within the given
// transaction. Provided by main as a closure over river.Client.InsertTx so
// the notification only exists if the transition commits.
type EnqueueNotificationTxFunc func(ctx context.Context, tx pgx.Tx, n Notification) error

// EscrowService is the escrow transaction state machine. Every transition is
// one database transaction: lock row, guard actor and status, perform the
// external side effect, apply the conditional status update, append an audit
// event plus a rendered system message, commit. External failures roll the
// whole transition back so the transaction never half-advances.
type EscrowService struct {
	Pool          TxBeginner
	Txns          EscrowTxRepo
	Conversations EscrowConversationRepo
	Messages      EscrowMessageRepo
	Audit         EscrowAuditRepo
	Reminders     EscrowReminderRepo
	Payments      PaymentProcessor
	Notify        EnqueueNotificationTxFunc
	Logger        *slog.Logger
}

// NewEscrowService returns an EscrowService.
func NewEscrowService(
	pool TxBeginner,
	txns EscrowTxRepo,
	conversations EscrowConversationRepo,
	messages EscrowMessageRepo,
	audit EscrowAuditRepo,
	reminders EscrowReminderRepo,
	payments PaymentProcessor,
	notify EnqueueNotificationTxFunc,
	logger *slog.Logger,
) *EscrowService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscrowService{
		Pool:          pool,
		Txns:          txns,
		Conversations: conversations,
		Messages:      messages,
		Audit:         audit,
		Reminders:     reminders,
		Payments:      payments,
		Notify:        notify,
		Logger:        logger,
	}
}

// ProposeTermsParams are the agreed terms for a new escrow transaction.
type ProposeTermsParams struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Timeline    string          `json:"timeline"`
}

// ProposeTerms creates a transaction in agreement_reached. Either party may
// propose. Fees are derived here, never settable by the caller. A
// conversation can hold at most one non-terminal transaction; a second
// proposal conflicts.
func (s *EscrowService) ProposeTerms(ctx context.Context, actor Actor, conversationID uuid.UUID, params ProposeTermsParams) (*models.EscrowTransaction, error) {
	conv, err := s.Conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if !conv.Party(actor.ID) {
		return nil, fmt.Errorf("%w: actor is not a party to the conversation", ErrForbidden)
	}
	fees, err := QuoteFees(params.Amount)
	if err != nil {
		return nil, err
	}

	txn := &models.EscrowTransaction{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		ProductID:      conv.ProductID,
		BuyerID:        conv.BuyerID,
		SellerID:       conv.SellerID,
		Amount:         fees.Amount,
		PlatformFee:    fees.PlatformFee,
		EscrowFee:      fees.EscrowFee,
		Description:    strings.TrimSpace(params.Description),
		Timeline:       strings.TrimSpace(params.Timeline),
		Status:         models.EscrowStatusAgreementReached,
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.Txns.Create(ctx, tx, txn); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: conversation already has an active escrow transaction", ErrStateConflict)
		}
		return nil, err
	}
	if err := s.record(ctx, tx, txn, models.AuditTermsProposed, &actor.ID, map[string]any{
		"amount":       fees.Amount,
		"platform_fee": fees.PlatformFee,
		"escrow_fee":   fees.EscrowFee,
		"timeline":     txn.Timeline,
		"description":  txn.Description,
	}, fmt.Sprintf("**Escrow agreement reached** — %s for %s. Buyer pays %s (incl. escrow fee); seller receives %s after fees.",
		money(fees.Amount), orUnspecified(txn.Description), money(fees.TotalDueFromBuyer), money(fees.SellerReceives))); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// InitializeEscrow asks the payment processor for an authorization and moves
// agreement_reached to escrow_created. If the processor is down the
// transaction falls back to manual_setup instead of failing; the returned
// transaction carries the status the caller landed in.
func (s *EscrowService) InitializeEscrow(ctx context.Context, actor Actor, transactionID uuid.UUID) (*models.EscrowTransaction, *PaymentAuthorization, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	txn, err := s.lockAsParty(ctx, tx, transactionID, actor)
	if err != nil {
		return nil, nil, err
	}
	if txn.Status != models.EscrowStatusAgreementReached {
		return nil, nil, statusConflict(txn.Status, models.EscrowStatusAgreementReached)
	}

	total := txn.Amount.Add(txn.EscrowFee)
	auth, authErr := s.Payments.CreateAuthorization(ctx, total, txn.ID.String(), txn.ProductID)
	if authErr != nil {
		// Fallback path: record manual setup rather than surfacing a hard
		// failure. The buyer can still pay through the manual flow.
		s.Logger.Warn("payment authorization failed, falling back to manual setup",
			"transaction_id", txn.ID, "error", authErr)
		if err := s.transition(ctx, tx, txn, models.EscrowStatusManualSetup, models.AuditManualSetup, &actor.ID,
			map[string]any{"error": authErr.Error()},
			"**Escrow setup requires manual processing** — automatic payment initialization failed. Our team will follow up with payment instructions."); err != nil {
			return nil, nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, err
		}
		return txn, nil, nil
	}

	if err := s.Txns.SetPaymentIntent(ctx, tx, txn.ID, auth.PaymentIntentID); err != nil {
		return nil, nil, err
	}
	txn.PaymentIntentID = &auth.PaymentIntentID
	if err := s.transition(ctx, tx, txn, models.EscrowStatusEscrowCreated, models.AuditEscrowInitialized, &actor.ID,
		map[string]any{"payment_intent_id": auth.PaymentIntentID, "total_due": total},
		fmt.Sprintf("**Escrow created** — awaiting buyer payment of %s.", money(total))); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return txn, auth, nil
}

// SecurePayment verifies the payment intent with the processor and moves the
// transaction to payment_secured. Buyer only. On verification failure the
// transaction stays in its prior state and the caller may retry.
func (s *EscrowService) SecurePayment(ctx context.Context, actor Actor, transactionID uuid.UUID, intentID string) (*models.EscrowTransaction, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	txn, err := s.lockAsParty(ctx, tx, transactionID, actor)
	if err != nil {
		return nil, err
	}
	if actor.ID != txn.BuyerID {
		return nil, fmt.Errorf("%w: only the buyer can pay", ErrForbidden)
	}
	switch txn.Status {
	case models.EscrowStatusAgreementReached, models.EscrowStatusEscrowCreated, models.EscrowStatusManualSetup:
	default:
		return nil, statusConflict(txn.Status, "a payable status")
	}

	if txn.PaymentIntentID != nil {
		intentID = *txn.PaymentIntentID
	}
	if intentID == "" {
		return nil, fmt.Errorf("%w: payment intent id is required", ErrValidation)
	}

	status, err := s.Payments.VerifyIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !status.Success {
		return nil, fmt.Errorf("%w: payment not confirmed (status %q)", ErrExternalService, status.Status)
	}

	total := txn.Amount.Add(txn.EscrowFee)
	if err := s.transition(ctx, tx, txn, models.EscrowStatusPaymentSecured, models.AuditPaymentSecured, &actor.ID,
		map[string]any{"payment_intent_id": intentID, "total_paid": total},
		fmt.Sprintf("**Payment secured** — %s is held in escrow. The seller can now proceed with delivery.", money(total))); err != nil {
		return nil, err
	}
	if err := s.notifyTx(ctx, tx, txn.SellerID, "Payment secured",
		fmt.Sprintf("The buyer has paid %s into escrow. Please deliver within the agreed timeline.", money(total))); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// ConfirmDelivery moves payment_secured to delivery_in_progress. Seller
// only. Proof file URLs, if any, are kept in the audit payload.
func (s *EscrowService) ConfirmDelivery(ctx context.Context, actor Actor, transactionID uuid.UUID, proofURLs []string) (*models.EscrowTransaction, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	txn, err := s.lockAsParty(ctx, tx, transactionID, actor)
	if err != nil {
		return nil, err
	}
	if actor.ID != txn.SellerID {
		return nil, fmt.Errorf("%w: only the seller can confirm delivery", ErrForbidden)
	}
	if txn.Status != models.EscrowStatusPaymentSecured {
		return nil, statusConflict(txn.Status, models.EscrowStatusPaymentSecured)
	}

	body := "**Delivery confirmed** — the seller has delivered. The buyer should verify receipt."
	if len(proofURLs) > 0 {
		body += "\nProof of delivery:\n" + strings.Join(proofURLs, "\n")
	}
	if err := s.transition(ctx, tx, txn, models.EscrowStatusDeliveryInProgress, models.AuditDeliveryConfirmed, &actor.ID,
		map[string]any{"proof_urls": proofURLs}, body); err != nil {
		return nil, err
	}
	if err := s.notifyTx(ctx, tx, txn.BuyerID, "Delivery confirmed",
		"The seller has confirmed delivery. Please verify receipt to start the inspection period."); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// VerifyReceipt moves delivery_in_progress to inspection_period. Buyer only;
// at least one checklist item must be confirmed.
func (s *EscrowService) VerifyReceipt(ctx context.Context, actor Actor, transactionID uuid.UUID, checklist []string) (*models.EscrowTransaction, error) {
	checked := nonEmpty(checklist)
	if len(checked) == 0 {
		return nil, fmt.Errorf("%w: at least one checklist item must be confirmed", ErrValidation)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	txn, err := s.lockAsParty(ctx, tx, transactionID, actor)
	if err != nil {
		return nil, err
	}
	if actor.ID != txn.BuyerID {
		return nil, fmt.Errorf("%w: only the buyer can verify receipt", ErrForbidden)
	}
	if txn.Status != models.EscrowStatusDeliveryInProgress {
		return nil, statusConflict(txn.Status, models.EscrowStatusDeliveryInProgress)
	}

	if err := s.transition(ctx, tx, txn, models.EscrowStatusInspectionPeriod, models.AuditReceiptVerified, &actor.ID,
		map[string]any{"checklist": checked},
		fmt.Sprintf("**Receipt verified** — the buyer confirmed %d checklist item(s). Inspection period has started.", len(checked))); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// CanComplete reports whether the actor may release funds: only the buyer,
// and only during the inspection period. This is re-checked inside
// CompleteTransaction; callers may use it as a UX hint but it is not the
// enforcement point.
func CanComplete(t *models.EscrowTransaction, actorID uuid.UUID) bool {
	return t.BuyerID == actorID && t.Status == models.EscrowStatusInspectionPeriod
}

// CompleteTransaction releases funds to the seller and moves the transaction
// to completed. The funds_released_at marker is claimed with a conditional
// write before the processor is called, so a concurrent or retried release
// conflicts instead of double-paying; if the processor call fails everything
// rolls back and the claim is released.
func (s *EscrowService) CompleteTransaction(ctx context.Context, actor Actor, transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	txn, err := s.lockAsParty(ctx, tx, transactionID, actor)
	if err != nil {
		return nil, err
	}
	if actor.ID != txn.BuyerID {
		return nil, fmt.Errorf("%w: only the buyer can release funds", ErrForbidden)
	}
	if txn.Status != models.EscrowStatusInspectionPeriod {
		return nil, statusConflict(txn.Status, models.EscrowStatusInspectionPeriod)
	}

	claimed, err := s.Txns.MarkFundsReleased(ctx, tx, txn.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: funds already released", ErrStateConflict)
	}

	sellerReceives := txn.Amount.Sub(txn.PlatformFee).Sub(txn.EscrowFee)
	if err := s.Payments.ReleaseFunds(ctx, txn.ID, txn.SellerID, sellerReceives); err != nil {
		return nil, err
	}

	if err := s.transition(ctx, tx, txn, models.EscrowStatusCompleted, models.AuditFundsReleased, &actor.ID,
		map[string]any{"seller_receives": sellerReceives},
		fmt.Sprintf("**Transaction completed** — %s released to the seller. Thanks for using escrow.", money(sellerReceives))); err != nil {
		return nil, err
	}
	if err := s.notifyTx(ctx, tx, txn.SellerID, "Funds released",
		fmt.Sprintf("The buyer accepted the delivery. %s is on its way to you.", money(sellerReceives))); err != nil {
		return nil, err
	}
	if err := s.notifyTx(ctx, tx, txn.BuyerID, "Transaction completed",
		"You released the escrowed funds. The transaction is complete."); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// RaiseDispute freezes any non-terminal transaction in disputed. Either
// party; a non-empty reason is required. Re-disputing conflicts rather than
// duplicating the state change.
func (s *EscrowService) RaiseDispute(ctx context.Context, actor Actor, transactionID uuid.UUID, reason string) (*models.EscrowTransaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a dispute reason is required", ErrValidation)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	txn, err := s.lockAsParty(ctx, tx, transactionID, actor)
	if err != nil {
		return nil, err
	}
	if txn.Status == models.EscrowStatusDisputed {
		return nil, fmt.Errorf("%w: transaction is already disputed", ErrStateConflict)
	}
	if models.TerminalEscrowStatus(txn.Status) {
		return nil, statusConflict(txn.Status, "a non-terminal status")
	}

	if err := s.transition(ctx, tx, txn, models.EscrowStatusDisputed, models.AuditDisputeRaised, &actor.ID,
		map[string]any{"reason": reason, "prior_status": txn.Status},
		fmt.Sprintf("**Dispute raised** — reason: %s\nBoth parties may submit evidence while the dispute is reviewed.", reason)); err != nil {
		return nil, err
	}
	other := txn.SellerID
	if actor.ID == txn.SellerID {
		other = txn.BuyerID
	}
	if err := s.notifyTx(ctx, tx, other, "Dispute raised",
		"The other party raised a dispute on your escrow transaction. You may submit evidence."); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// SubmitEvidence appends evidence to a disputed transaction. Either party;
// non-empty text required. No status change.
func (s *EscrowService) SubmitEvidence(ctx context.Context, actor Actor, transactionID uuid.UUID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: evidence text is required", ErrValidation)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	txn, err := s.lockAsParty(ctx, tx, transactionID, actor)
	if err != nil {
		return err
	}
	if txn.Status != models.EscrowStatusDisputed {
		return statusConflict(txn.Status, models.EscrowStatusDisputed)
	}

	if err := s.record(ctx, tx, txn, models.AuditDisputeEvidence, &actor.ID,
		map[string]any{"text": text},
		"**Dispute evidence submitted:**\n"+text); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Cancel ends a transaction before payment is secured. Either party.
func (s *EscrowService) Cancel(ctx context.Context, actor Actor, transactionID uuid.UUID) (*models.EscrowTransaction, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	txn, err := s.lockAsParty(ctx, tx, transactionID, actor)
	if err != nil {
		return nil, err
	}
	switch txn.Status {
	case models.EscrowStatusAgreementReached, models.EscrowStatusEscrowCreated, models.EscrowStatusManualSetup:
	default:
		return nil, statusConflict(txn.Status, "a pre-payment status")
	}

	if err := s.transition(ctx, tx, txn, models.EscrowStatusCancelled, models.AuditCancelled, &actor.ID, nil,
		"**Escrow cancelled** — the transaction was cancelled before payment."); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// GetTransaction loads a transaction.
func (s *EscrowService) GetTransaction(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	txn, err := s.Txns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	return txn, nil
}

// AuditTrail returns the transaction's audit events in order.
func (s *EscrowService) AuditTrail(ctx context.Context, transactionID uuid.UUID) ([]*models.AuditEvent, error) {
	return s.Audit.ListByTransaction(ctx, transactionID)
}

// ---------------------------------------------------------------------------
// Reminders
// ---------------------------------------------------------------------------

// Stage SLAs. Payment runs from created_at; later stages from updated_at.
const (
	paymentSLA    = 3 * 24 * time.Hour
	deliverySLA   = 7 * 24 * time.Hour
	receiptSLA    = 3 * 24 * time.Hour
	inspectionSLA = 2 * 24 * time.Hour

	reminderWindow = 24 * time.Hour
)

// ReminderStageFor returns the pending stage and its deadline, or ok=false
// when the status carries no SLA (disputed or terminal).
func ReminderStageFor(t *models.EscrowTransaction) (stage string, due time.Time, ok bool) {
	switch t.Status {
	case models.EscrowStatusAgreementReached, models.EscrowStatusEscrowCreated, models.EscrowStatusManualSetup:
		return models.ReminderStagePayment, t.CreatedAt.Add(paymentSLA), true
	case models.EscrowStatusPaymentSecured:
		return models.ReminderStageDelivery, t.UpdatedAt.Add(deliverySLA), true
	case models.EscrowStatusDeliveryInProgress:
		return models.ReminderStageReceipt, t.UpdatedAt.Add(receiptSLA), true
	case models.EscrowStatusInspectionPeriod:
		return models.ReminderStageInspection, t.UpdatedAt.Add(inspectionSLA), true
	}
	return "", time.Time{}, false
}

// SendDueReminders scans open transactions and sends at most one reminder
// per (transaction, stage). The dedup marker lives in the database, not in
// process state, so concurrent runs and restarts cannot duplicate a
// reminder. Returns the number of reminders sent.
func (s *EscrowService) SendDueReminders(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.Txns.ListReminderCandidates(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, txn := range candidates {
		stage, due, ok := ReminderStageFor(txn)
		if !ok || now.Before(due.Add(-reminderWindow)) {
			continue
		}
		fresh, err := s.sendReminder(ctx, txn, stage, due)
		if err != nil {
			s.Logger.Error("reminder send failed", "transaction_id", txn.ID, "stage", stage, "error", err)
			continue
		}
		if fresh {
			sent++
		}
	}
	return sent, nil
}

func (s *EscrowService) sendReminder(ctx context.Context, txn *models.EscrowTransaction, stage string, due time.Time) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	fresh, err := s.Reminders.Insert(ctx, tx, txn.ID, stage)
	if err != nil {
		return false, err
	}
	if !fresh {
		// Already reminded for this stage.
		return false, nil
	}

	recipient, action := reminderTarget(txn, stage)
	body := fmt.Sprintf("**Reminder** — %s. Time remaining: under 24 hours (deadline %s).",
		action, due.UTC().Format(time.RFC3339))
	if err := s.record(ctx, tx, txn, models.AuditReminderSent, nil,
		map[string]any{"stage": stage, "due": due}, body); err != nil {
		return false, err
	}
	if err := s.notifyTx(ctx, tx, recipient, "Escrow deadline approaching", action); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// reminderTarget returns who to nudge and what for.
func reminderTarget(txn *models.EscrowTransaction, stage string) (uuid.UUID, string) {
	switch stage {
	case models.ReminderStageDelivery:
		return txn.SellerID, "please confirm delivery before the deadline"
	case models.ReminderStageReceipt:
		return txn.BuyerID, "please verify receipt of your delivery"
	case models.ReminderStageInspection:
		return txn.BuyerID, "your inspection period is ending; accept the delivery or raise a dispute"
	default:
		return txn.BuyerID, "please complete your escrow payment"
	}
}

// ---------------------------------------------------------------------------
// Status replay
// ---------------------------------------------------------------------------

var statusByEvent = map[string]string{
	models.AuditTermsProposed:     models.EscrowStatusAgreementReached,
	models.AuditEscrowInitialized: models.EscrowStatusEscrowCreated,
	models.AuditManualSetup:       models.EscrowStatusManualSetup,
	models.AuditPaymentSecured:    models.EscrowStatusPaymentSecured,
	models.AuditDeliveryConfirmed: models.EscrowStatusDeliveryInProgress,
	models.AuditReceiptVerified:   models.EscrowStatusInspectionPeriod,
	models.AuditFundsReleased:     models.EscrowStatusCompleted,
	models.AuditDisputeRaised:     models.EscrowStatusDisputed,
	models.AuditCancelled:         models.EscrowStatusCancelled,
}

// ReplayStatus derives the status from an ordered audit trail. There is no
// hidden state: replaying the applied events always yields the stored
// status. Evidence and reminder events carry no transition.
func ReplayStatus(events []*models.AuditEvent) string {
	status := ""
	for _, e := range events {
		if next, ok := statusByEvent[e.EventType]; ok {
			status = next
		}
	}
	return status
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

// lockAsParty loads the transaction FOR UPDATE and checks the actor is one
// of its parties.
func (s *EscrowService) lockAsParty(ctx context.Context, tx pgx.Tx, id uuid.UUID, actor Actor) (*models.EscrowTransaction, error) {
	txn, err := s.Txns.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
		}
		return nil, err
	}
	if actor.ID != txn.BuyerID && actor.ID != txn.SellerID {
		return nil, fmt.Errorf("%w: actor is not a party to the transaction", ErrForbidden)
	}
	return txn, nil
}

// transition applies the conditional status update and records the event.
// The row is locked, but the conditional write still guards against any
// caller that skipped the lock.
func (s *EscrowService) transition(ctx context.Context, tx pgx.Tx, txn *models.EscrowTransaction, to, eventType string, actorID *uuid.UUID, payload map[string]any, systemMsg string) error {
	moved, err := s.Txns.UpdateStatus(ctx, tx, txn.ID, txn.Status, to)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("%w: transaction left status %q concurrently", ErrStateConflict, txn.Status)
	}
	txn.Status = to
	txn.UpdatedAt = time.Now()
	return s.record(ctx, tx, txn, eventType, actorID, payload, systemMsg)
}

// record appends the structured audit event and its rendered system message.
func (s *EscrowService) record(ctx context.Context, tx pgx.Tx, txn *models.EscrowTransaction, eventType string, actorID *uuid.UUID, payload map[string]any, systemMsg string) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	if err := s.Audit.Create(ctx, tx, &models.AuditEvent{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		EventType:     eventType,
		ActorID:       actorID,
		Payload:       raw,
	}); err != nil {
		return err
	}
	return s.Messages.CreateSystem(ctx, tx, txn.ConversationID, systemMsg)
}

func (s *EscrowService) notifyTx(ctx context.Context, tx pgx.Tx, recipient uuid.UUID, subject, body string) error {
	if s.Notify == nil {
		return nil
	}
	return s.Notify(ctx, tx, Notification{RecipientID: recipient, Subject: subject, Body: body})
}

func statusConflict(got, want string) error {
	return fmt.Errorf("%w: transaction is %q, expected %s", ErrStateConflict, got, want)
}

func nonEmpty(items []string) []string {
	var out []string
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func money(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

func orUnspecified(s string) string {
	if s == "" {
		return "the agreed deliverable"
	}
	return s
}
