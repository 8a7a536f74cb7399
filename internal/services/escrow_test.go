package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/aibazaar/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks. fakeTx embeds the pgx.Tx interface so only the methods the
// service actually calls need implementing; everything runs against maps.
// ---------------------------------------------------------------------------

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakePool struct{}

func (fakePool) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

type mockTxns struct {
	mu   sync.Mutex
	txns map[uuid.UUID]*models.EscrowTransaction
}

func newMockTxns(txns ...*models.EscrowTransaction) *mockTxns {
	m := &mockTxns{txns: make(map[uuid.UUID]*models.EscrowTransaction)}
	for _, t := range txns {
		cp := *t
		m.txns[t.ID] = &cp
	}
	return m
}

func (m *mockTxns) Create(_ context.Context, _ pgx.Tx, t *models.EscrowTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.txns {
		if existing.ConversationID == t.ConversationID && !models.TerminalEscrowStatus(existing.Status) {
			return pgx.ErrNoRows
		}
	}
	cp := *t
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.txns[t.ID] = &cp
	return nil
}

func (m *mockTxns) GetByID(_ context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *mockTxns) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	return m.GetByID(ctx, id)
}

func (m *mockTxns) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockTxns) SetPaymentIntent(_ context.Context, _ pgx.Tx, id uuid.UUID, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.PaymentIntentID = &intentID
	return nil
}

func (m *mockTxns) MarkFundsReleased(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok || t.FundsReleasedAt != nil {
		return false, nil
	}
	now := time.Now()
	t.FundsReleasedAt = &now
	return true, nil
}

func (m *mockTxns) ListReminderCandidates(context.Context) ([]*models.EscrowTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EscrowTransaction
	for _, t := range m.txns {
		if !models.TerminalEscrowStatus(t.Status) && t.Status != models.EscrowStatusDisputed {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTxns) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txns[id].Status
}

// ---

type mockConvs struct {
	convs map[uuid.UUID]*models.Conversation
}

func (m *mockConvs) GetByID(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	c, ok := m.convs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return c, nil
}

type mockMessages struct {
	mu     sync.Mutex
	bodies []string
}

func (m *mockMessages) CreateSystem(_ context.Context, _ pgx.Tx, _ uuid.UUID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *mockMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bodies)
}

type mockAudit struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (m *mockAudit) Create(_ context.Context, _ pgx.Tx, e *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *mockAudit) ListByTransaction(_ context.Context, id uuid.UUID) ([]*models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range m.events {
		if e.TransactionID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAudit) byType(eventType string) []*models.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type mockReminders struct {
	mu   sync.Mutex
	sent map[string]bool
}

func (m *mockReminders) Insert(_ context.Context, _ pgx.Tx, id uuid.UUID, stage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[string]bool)
	}
	key := id.String() + "/" + stage
	if m.sent[key] {
		return false, nil
	}
	m.sent[key] = true
	return true, nil
}

type mockPayments struct {
	mu           sync.Mutex
	authErr      error
	verifyErr    error
	verifyResult PaymentIntentStatus
	releaseErr   error
	releaseCalls int
}

func (m *mockPayments) CreateAuthorization(_ context.Context, _ decimal.Decimal, _ string, _ uuid.UUID) (*PaymentAuthorization, error) {
	if m.authErr != nil {
		return nil, m.authErr
	}
	return &PaymentAuthorization{ClientSecret: "cs_test", PaymentIntentID: "pi_test"}, nil
}

func (m *mockPayments) VerifyIntent(_ context.Context, _ string) (*PaymentIntentStatus, error) {
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	r := m.verifyResult
	return &r, nil
}

func (m *mockPayments) ReleaseFunds(_ context.Context, _, _ uuid.UUID, _ decimal.Decimal) error {
	m.mu.Lock()
	m.releaseCalls++
	m.mu.Unlock()
	return m.releaseErr
}

func (m *mockPayments) releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseCalls
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc       *EscrowService
	txns      *mockTxns
	audit     *mockAudit
	messages  *mockMessages
	payments  *mockPayments
	notified  *[]Notification
	buyer     Actor
	seller    Actor
	stranger  Actor
	conv      *models.Conversation
	productID uuid.UUID
}

func newFixture(t *testing.T, txns ...*models.EscrowTransaction) *fixture {
	t.Helper()
	buyer := Actor{ID: uuid.New(), Role: "buyer"}
	seller := Actor{ID: uuid.New(), Role: "seller"}
	productID := uuid.New()
	conv := &models.Conversation{
		ID:        uuid.New(),
		ProductID: productID,
		BuyerID:   buyer.ID,
		SellerID:  seller.ID,
	}
	for _, txn := range txns {
		txn.ConversationID = conv.ID
		txn.ProductID = productID
		txn.BuyerID = buyer.ID
		txn.SellerID = seller.ID
	}
	mt := newMockTxns(txns...)
	audit := &mockAudit{}
	messages := &mockMessages{}
	payments := &mockPayments{verifyResult: PaymentIntentStatus{Status: "succeeded", Success: true}}
	var notified []Notification
	notify := func(_ context.Context, _ pgx.Tx, n Notification) error {
		notified = append(notified, n)
		return nil
	}
	svc := NewEscrowService(fakePool{}, mt, &mockConvs{convs: map[uuid.UUID]*models.Conversation{conv.ID: conv}},
		messages, audit, &mockReminders{}, payments, notify, nil)
	return &fixture{
		svc: svc, txns: mt, audit: audit, messages: messages, payments: payments,
		notified: &notified, buyer: buyer, seller: seller,
		stranger: Actor{ID: uuid.New()}, conv: conv, productID: productID,
	}
}

// openTxn builds a transaction in the given status with fees derived from
// the amount, matching what ProposeTerms would have produced.
func openTxn(status string, amount string) *models.EscrowTransaction {
	amt := d(amount)
	now := time.Now()
	return &models.EscrowTransaction{
		ID:          uuid.New(),
		Amount:      amt,
		PlatformFee: PlatformFee(amt),
		EscrowFee:   EscrowFee(amt),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ---------------------------------------------------------------------------
// ProposeTerms
// ---------------------------------------------------------------------------

func TestProposeTerms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, err := f.svc.ProposeTerms(ctx, f.buyer, f.conv.ID, ProposeTermsParams{
		Amount: d("10000"), Description: "fine-tuned model", Timeline: "7 days",
	})
	if err != nil {
		t.Fatalf("ProposeTerms: %v", err)
	}
	if txn.Status != models.EscrowStatusAgreementReached {
		t.Errorf("status: got %q, want agreement_reached", txn.Status)
	}
	if !txn.PlatformFee.Equal(d("1000")) || !txn.EscrowFee.Equal(d("320")) {
		t.Errorf("fees: platform %s escrow %s, want 1000 / 320", txn.PlatformFee, txn.EscrowFee)
	}
	if got := len(f.audit.byType(models.AuditTermsProposed)); got != 1 {
		t.Errorf("terms_proposed events: got %d, want 1", got)
	}
	if f.messages.count() != 1 {
		t.Errorf("system messages: got %d, want 1", f.messages.count())
	}

	// A second proposal for the same conversation conflicts.
	_, err = f.svc.ProposeTerms(ctx, f.seller, f.conv.ID, ProposeTermsParams{Amount: d("500")})
	if !errors.Is(err, ErrStateConflict) {
		t.Errorf("duplicate proposal: expected ErrStateConflict, got %v", err)
	}
}

func TestProposeTerms_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ProposeTerms(ctx, f.stranger, f.conv.ID, ProposeTermsParams{Amount: d("100")}); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.ProposeTerms(ctx, f.buyer, f.conv.ID, ProposeTermsParams{Amount: d("0")}); !errors.Is(err, ErrValidation) {
		t.Errorf("zero amount: expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.ProposeTerms(ctx, f.buyer, uuid.New(), ProposeTermsParams{Amount: d("100")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing conversation: expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// InitializeEscrow
// ---------------------------------------------------------------------------

func TestInitializeEscrow(t *testing.T) {
	txn := openTxn(models.EscrowStatusAgreementReached, "1000")
	f := newFixture(t, txn)
	ctx := context.Background()

	got, auth, err := f.svc.InitializeEscrow(ctx, f.buyer, txn.ID)
	if err != nil {
		t.Fatalf("InitializeEscrow: %v", err)
	}
	if auth == nil || auth.PaymentIntentID != "pi_test" {
		t.Fatalf("expected authorization, got %+v", auth)
	}
	if got.Status != models.EscrowStatusEscrowCreated {
		t.Errorf("status: got %q, want escrow_created", got.Status)
	}
	if f.txns.status(txn.ID) != models.EscrowStatusEscrowCreated {
		t.Errorf("stored status: got %q, want escrow_created", f.txns.status(txn.ID))
	}
}

func TestInitializeEscrow_FallsBackToManualSetup(t *testing.T) {
	txn := openTxn(models.EscrowStatusAgreementReached, "1000")
	f := newFixture(t, txn)
	f.payments.authErr = fmt.Errorf("%w: payment api down", ErrExternalService)
	ctx := context.Background()

	got, auth, err := f.svc.InitializeEscrow(ctx, f.buyer, txn.ID)
	if err != nil {
		t.Fatalf("InitializeEscrow should fall back, not fail: %v", err)
	}
	if auth != nil {
		t.Error("expected no authorization on fallback")
	}
	if got.Status != models.EscrowStatusManualSetup {
		t.Errorf("status: got %q, want manual_setup", got.Status)
	}
	if got := len(f.audit.byType(models.AuditManualSetup)); got != 1 {
		t.Errorf("manual_setup events: got %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// SecurePayment
// ---------------------------------------------------------------------------

func TestSecurePayment(t *testing.T) {
	for _, from := range []string{
		models.EscrowStatusAgreementReached,
		models.EscrowStatusEscrowCreated,
		models.EscrowStatusManualSetup,
	} {
		t.Run("from "+from, func(t *testing.T) {
			txn := openTxn(from, "1000")
			f := newFixture(t, txn)
			got, err := f.svc.SecurePayment(context.Background(), f.buyer, txn.ID, "pi_manual")
			if err != nil {
				t.Fatalf("SecurePayment: %v", err)
			}
			if got.Status != models.EscrowStatusPaymentSecured {
				t.Errorf("status: got %q, want payment_secured", got.Status)
			}
		})
	}
}

func TestSecurePayment_BuyerOnly(t *testing.T) {
	txn := openTxn(models.EscrowStatusEscrowCreated, "1000")
	f := newFixture(t, txn)

	if _, err := f.svc.SecurePayment(context.Background(), f.seller, txn.ID, "pi"); !errors.Is(err, ErrForbidden) {
		t.Errorf("seller paying: expected ErrForbidden, got %v", err)
	}
}

func TestSecurePayment_VerificationFailureKeepsState(t *testing.T) {
	txn := openTxn(models.EscrowStatusEscrowCreated, "1000")
	f := newFixture(t, txn)
	f.payments.verifyResult = PaymentIntentStatus{Status: "requires_payment_method", Success: false}

	_, err := f.svc.SecurePayment(context.Background(), f.buyer, txn.ID, "pi")
	if !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	// Never advance on failure.
	if got := f.txns.status(txn.ID); got != models.EscrowStatusEscrowCreated {
		t.Errorf("status after failed payment: got %q, want escrow_created", got)
	}
}

// ---------------------------------------------------------------------------
// ConfirmDelivery / VerifyReceipt
// ---------------------------------------------------------------------------

func TestConfirmDelivery(t *testing.T) {
	txn := openTxn(models.EscrowStatusPaymentSecured, "1000")
	f := newFixture(t, txn)
	ctx := context.Background()

	if _, err := f.svc.ConfirmDelivery(ctx, f.buyer, txn.ID, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("buyer confirming delivery: expected ErrForbidden, got %v", err)
	}

	got, err := f.svc.ConfirmDelivery(ctx, f.seller, txn.ID, []string{"https://files.example/proof.png"})
	if err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
	if got.Status != models.EscrowStatusDeliveryInProgress {
		t.Errorf("status: got %q, want delivery_in_progress", got.Status)
	}
	events := f.audit.byType(models.AuditDeliveryConfirmed)
	if len(events) != 1 {
		t.Fatalf("delivery_confirmed events: got %d, want 1", len(events))
	}
	var payload struct {
		ProofURLs []string `json:"proof_urls"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(payload.ProofURLs) != 1 || payload.ProofURLs[0] != "https://files.example/proof.png" {
		t.Errorf("proof urls in payload: got %v", payload.ProofURLs)
	}
}

func TestVerifyReceipt(t *testing.T) {
	txn := openTxn(models.EscrowStatusDeliveryInProgress, "1000")
	f := newFixture(t, txn)
	ctx := context.Background()

	if _, err := f.svc.VerifyReceipt(ctx, f.buyer, txn.ID, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty checklist: expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.VerifyReceipt(ctx, f.buyer, txn.ID, []string{"  ", ""}); !errors.Is(err, ErrValidation) {
		t.Errorf("blank checklist: expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.VerifyReceipt(ctx, f.seller, txn.ID, []string{"works"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("seller verifying: expected ErrForbidden, got %v", err)
	}

	got, err := f.svc.VerifyReceipt(ctx, f.buyer, txn.ID, []string{"model loads", "benchmarks match"})
	if err != nil {
		t.Fatalf("VerifyReceipt: %v", err)
	}
	if got.Status != models.EscrowStatusInspectionPeriod {
		t.Errorf("status: got %q, want inspection_period", got.Status)
	}
}

// ---------------------------------------------------------------------------
// CompleteTransaction
// ---------------------------------------------------------------------------

func TestCompleteTransaction(t *testing.T) {
	txn := openTxn(models.EscrowStatusInspectionPeriod, "10000")
	f := newFixture(t, txn)
	ctx := context.Background()

	got, err := f.svc.CompleteTransaction(ctx, f.buyer, txn.ID)
	if err != nil {
		t.Fatalf("CompleteTransaction: %v", err)
	}
	if got.Status != models.EscrowStatusCompleted {
		t.Errorf("status: got %q, want completed", got.Status)
	}
	if f.payments.releases() != 1 {
		t.Errorf("processor release calls: got %d, want 1", f.payments.releases())
	}
	// Both parties are notified.
	if len(*f.notified) != 2 {
		t.Errorf("notifications: got %d, want 2", len(*f.notified))
	}

	// A second release attempt conflicts and never reaches the processor.
	_, err = f.svc.CompleteTransaction(ctx, f.buyer, txn.ID)
	if !errors.Is(err, ErrStateConflict) {
		t.Errorf("second release: expected ErrStateConflict, got %v", err)
	}
	if f.payments.releases() != 1 {
		t.Errorf("processor release calls after retry: got %d, want 1", f.payments.releases())
	}
}

func TestCompleteTransaction_Guards(t *testing.T) {
	ctx := context.Background()

	// Wrong actor.
	txn := openTxn(models.EscrowStatusInspectionPeriod, "1000")
	f := newFixture(t, txn)
	if _, err := f.svc.CompleteTransaction(ctx, f.seller, txn.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("seller releasing: expected ErrForbidden, got %v", err)
	}

	// Wrong status.
	txn2 := openTxn(models.EscrowStatusPaymentSecured, "1000")
	f2 := newFixture(t, txn2)
	if _, err := f2.svc.CompleteTransaction(ctx, f2.buyer, txn2.ID); !errors.Is(err, ErrStateConflict) {
		t.Errorf("wrong status: expected ErrStateConflict, got %v", err)
	}
}

func TestCompleteTransaction_ReleaseFailureNeverCompletes(t *testing.T) {
	txn := openTxn(models.EscrowStatusInspectionPeriod, "1000")
	f := newFixture(t, txn)
	f.payments.releaseErr = fmt.Errorf("%w: payout api down", ErrExternalService)

	_, err := f.svc.CompleteTransaction(context.Background(), f.buyer, txn.ID)
	if !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if got := f.txns.status(txn.ID); got != models.EscrowStatusInspectionPeriod {
		t.Errorf("status after failed release: got %q, want inspection_period", got)
	}
}

func TestCanComplete(t *testing.T) {
	buyer := uuid.New()
	txn := &models.EscrowTransaction{BuyerID: buyer, SellerID: uuid.New(), Status: models.EscrowStatusInspectionPeriod}

	if !CanComplete(txn, buyer) {
		t.Error("buyer in inspection_period should be able to complete")
	}
	if CanComplete(txn, txn.SellerID) {
		t.Error("seller must not be able to complete")
	}
	txn.Status = models.EscrowStatusDeliveryInProgress
	if CanComplete(txn, buyer) {
		t.Error("completion outside inspection_period must be denied")
	}
}

// ---------------------------------------------------------------------------
// Disputes
// ---------------------------------------------------------------------------

func TestRaiseDispute_FromEveryNonTerminalStatus(t *testing.T) {
	nonTerminal := []string{
		models.EscrowStatusAgreementReached,
		models.EscrowStatusEscrowCreated,
		models.EscrowStatusManualSetup,
		models.EscrowStatusPaymentSecured,
		models.EscrowStatusDeliveryInProgress,
		models.EscrowStatusInspectionPeriod,
	}
	for _, from := range nonTerminal {
		t.Run("from "+from, func(t *testing.T) {
			txn := openTxn(from, "1000")
			f := newFixture(t, txn)
			got, err := f.svc.RaiseDispute(context.Background(), f.seller, txn.ID, "item not as described")
			if err != nil {
				t.Fatalf("RaiseDispute from %s: %v", from, err)
			}
			if got.Status != models.EscrowStatusDisputed {
				t.Errorf("status: got %q, want disputed", got.Status)
			}
		})
	}
}

func TestRaiseDispute_Guards(t *testing.T) {
	ctx := context.Background()

	txn := openTxn(models.EscrowStatusPaymentSecured, "1000")
	f := newFixture(t, txn)
	if _, err := f.svc.RaiseDispute(ctx, f.buyer, txn.ID, "   "); !errors.Is(err, ErrValidation) {
		t.Errorf("blank reason: expected ErrValidation, got %v", err)
	}

	// Re-disputing is rejected, not duplicated.
	if _, err := f.svc.RaiseDispute(ctx, f.buyer, txn.ID, "broken"); err != nil {
		t.Fatalf("first dispute: %v", err)
	}
	if _, err := f.svc.RaiseDispute(ctx, f.seller, txn.ID, "counter"); !errors.Is(err, ErrStateConflict) {
		t.Errorf("re-dispute: expected ErrStateConflict, got %v", err)
	}
	if got := len(f.audit.byType(models.AuditDisputeRaised)); got != 1 {
		t.Errorf("dispute events: got %d, want 1", got)
	}

	// Terminal states cannot be disputed.
	done := openTxn(models.EscrowStatusCompleted, "1000")
	f2 := newFixture(t, done)
	if _, err := f2.svc.RaiseDispute(ctx, f2.buyer, done.ID, "too late"); !errors.Is(err, ErrStateConflict) {
		t.Errorf("dispute on completed: expected ErrStateConflict, got %v", err)
	}
}

func TestSubmitEvidence(t *testing.T) {
	txn := openTxn(models.EscrowStatusDisputed, "1000")
	f := newFixture(t, txn)
	ctx := context.Background()

	if err := f.svc.SubmitEvidence(ctx, f.buyer, txn.ID, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty evidence: expected ErrValidation, got %v", err)
	}
	if err := f.svc.SubmitEvidence(ctx, f.buyer, txn.ID, "chat log attached"); err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	if err := f.svc.SubmitEvidence(ctx, f.seller, txn.ID, "delivery receipt"); err != nil {
		t.Fatalf("seller evidence: %v", err)
	}
	if got := len(f.audit.byType(models.AuditDisputeEvidence)); got != 2 {
		t.Errorf("evidence events: got %d, want 2", got)
	}
	// No status change.
	if got := f.txns.status(txn.ID); got != models.EscrowStatusDisputed {
		t.Errorf("status: got %q, want disputed", got)
	}

	// Evidence outside a dispute conflicts.
	open := openTxn(models.EscrowStatusPaymentSecured, "1000")
	f2 := newFixture(t, open)
	if err := f2.svc.SubmitEvidence(ctx, f2.buyer, open.ID, "note"); !errors.Is(err, ErrStateConflict) {
		t.Errorf("evidence without dispute: expected ErrStateConflict, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Terminal states reject everything
// ---------------------------------------------------------------------------

func TestTerminalStatesRejectAllTransitions(t *testing.T) {
	ctx := context.Background()
	for _, terminal := range []string{models.EscrowStatusCompleted, models.EscrowStatusCancelled} {
		t.Run(terminal, func(t *testing.T) {
			txn := openTxn(terminal, "1000")
			f := newFixture(t, txn)

			ops := map[string]func() error{
				"initialize": func() error { _, _, err := f.svc.InitializeEscrow(ctx, f.buyer, txn.ID); return err },
				"pay":        func() error { _, err := f.svc.SecurePayment(ctx, f.buyer, txn.ID, "pi"); return err },
				"delivery":   func() error { _, err := f.svc.ConfirmDelivery(ctx, f.seller, txn.ID, nil); return err },
				"receipt":    func() error { _, err := f.svc.VerifyReceipt(ctx, f.buyer, txn.ID, []string{"x"}); return err },
				"complete":   func() error { _, err := f.svc.CompleteTransaction(ctx, f.buyer, txn.ID); return err },
				"dispute":    func() error { _, err := f.svc.RaiseDispute(ctx, f.buyer, txn.ID, "r"); return err },
				"cancel":     func() error { _, err := f.svc.Cancel(ctx, f.buyer, txn.ID); return err },
			}
			for name, op := range ops {
				if err := op(); !errors.Is(err, ErrStateConflict) {
					t.Errorf("%s from %s: expected ErrStateConflict, got %v", name, terminal, err)
				}
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Replay: re-deriving status from the audit trail matches the stored status
// ---------------------------------------------------------------------------

func TestReplayStatus_MatchesStoredStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn, err := f.svc.ProposeTerms(ctx, f.seller, f.conv.ID, ProposeTermsParams{Amount: d("2500")})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, _, err := f.svc.InitializeEscrow(ctx, f.buyer, txn.ID); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := f.svc.SecurePayment(ctx, f.buyer, txn.ID, ""); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := f.svc.ConfirmDelivery(ctx, f.seller, txn.ID, nil); err != nil {
		t.Fatalf("delivery: %v", err)
	}
	if _, err := f.svc.VerifyReceipt(ctx, f.buyer, txn.ID, []string{"ok"}); err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if _, err := f.svc.CompleteTransaction(ctx, f.buyer, txn.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	events, err := f.svc.AuditTrail(ctx, txn.ID)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if got := ReplayStatus(events); got != f.txns.status(txn.ID) {
		t.Errorf("replayed status %q != stored status %q", got, f.txns.status(txn.ID))
	}
	if got := ReplayStatus(events); got != models.EscrowStatusCompleted {
		t.Errorf("replayed status: got %q, want completed", got)
	}
}

func TestReplayStatus_EvidenceAndRemindersCarryNoTransition(t *testing.T) {
	events := []*models.AuditEvent{
		{EventType: models.AuditTermsProposed},
		{EventType: models.AuditPaymentSecured},
		{EventType: models.AuditReminderSent},
		{EventType: models.AuditDisputeRaised},
		{EventType: models.AuditDisputeEvidence},
		{EventType: models.AuditDisputeEvidence},
	}
	if got := ReplayStatus(events); got != models.EscrowStatusDisputed {
		t.Errorf("replayed status: got %q, want disputed", got)
	}
}

// ---------------------------------------------------------------------------
// Reminders
// ---------------------------------------------------------------------------

func TestSendDueReminders_OncePerStage(t *testing.T) {
	now := time.Now()
	txn := openTxn(models.EscrowStatusAgreementReached, "1000")
	// Payment SLA is 3 days from creation; 2.5 days in, under 24h remain.
	txn.CreatedAt = now.Add(-60 * time.Hour)
	f := newFixture(t, txn)
	ctx := context.Background()

	sent, err := f.svc.SendDueReminders(ctx, now)
	if err != nil {
		t.Fatalf("SendDueReminders: %v", err)
	}
	if sent != 1 {
		t.Fatalf("first scan: sent %d, want 1", sent)
	}
	if got := len(f.audit.byType(models.AuditReminderSent)); got != 1 {
		t.Errorf("reminder events: got %d, want 1", got)
	}
	if len(*f.notified) != 1 || (*f.notified)[0].RecipientID != f.buyer.ID {
		t.Errorf("payment reminder should notify the buyer: %+v", *f.notified)
	}
	if !strings.Contains(f.messages.bodies[0], "Reminder") {
		t.Errorf("system message should mention the reminder: %q", f.messages.bodies[0])
	}

	// Second scan is a no-op: the marker is durable, not process state.
	sent, err = f.svc.SendDueReminders(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if sent != 0 {
		t.Errorf("second scan: sent %d, want 0", sent)
	}
}

func TestSendDueReminders_NotYetDue(t *testing.T) {
	now := time.Now()
	txn := openTxn(models.EscrowStatusAgreementReached, "1000")
	txn.CreatedAt = now.Add(-12 * time.Hour) // 2.5 days remain
	f := newFixture(t, txn)

	sent, err := f.svc.SendDueReminders(context.Background(), now)
	if err != nil {
		t.Fatalf("SendDueReminders: %v", err)
	}
	if sent != 0 {
		t.Errorf("sent %d reminders, want 0", sent)
	}
}

func TestSendDueReminders_DeliveryNudgesSeller(t *testing.T) {
	now := time.Now()
	txn := openTxn(models.EscrowStatusPaymentSecured, "1000")
	txn.UpdatedAt = now.Add(-6*24*time.Hour - 12*time.Hour) // 12h left of the 7d SLA
	f := newFixture(t, txn)

	sent, err := f.svc.SendDueReminders(context.Background(), now)
	if err != nil {
		t.Fatalf("SendDueReminders: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent %d, want 1", sent)
	}
	if (*f.notified)[0].RecipientID != f.seller.ID {
		t.Error("delivery reminder should notify the seller")
	}
}

func TestReminderStageFor_NoSLAForDisputedOrTerminal(t *testing.T) {
	for _, status := range []string{
		models.EscrowStatusDisputed,
		models.EscrowStatusCompleted,
		models.EscrowStatusCancelled,
	} {
		txn := openTxn(status, "100")
		if _, _, ok := ReminderStageFor(txn); ok {
			t.Errorf("status %s should carry no reminder stage", status)
		}
	}
}
