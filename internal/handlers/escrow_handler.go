package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aibazaar/backend/internal/middleware"
	"github.com/aibazaar/backend/internal/models"
	"github.com/aibazaar/backend/internal/services"
)

// EscrowServiceForHandler is the surface of the escrow state machine the
// HTTP layer drives.
type EscrowServiceForHandler interface {
	ProposeTerms(ctx context.Context, actor services.Actor, conversationID uuid.UUID, params services.ProposeTermsParams) (*models.EscrowTransaction, error)
	InitializeEscrow(ctx context.Context, actor services.Actor, transactionID uuid.UUID) (*models.EscrowTransaction, *services.PaymentAuthorization, error)
	SecurePayment(ctx context.Context, actor services.Actor, transactionID uuid.UUID, intentID string) (*models.EscrowTransaction, error)
	ConfirmDelivery(ctx context.Context, actor services.Actor, transactionID uuid.UUID, proofURLs []string) (*models.EscrowTransaction, error)
	VerifyReceipt(ctx context.Context, actor services.Actor, transactionID uuid.UUID, checklist []string) (*models.EscrowTransaction, error)
	CompleteTransaction(ctx context.Context, actor services.Actor, transactionID uuid.UUID) (*models.EscrowTransaction, error)
	RaiseDispute(ctx context.Context, actor services.Actor, transactionID uuid.UUID, reason string) (*models.EscrowTransaction, error)
	SubmitEvidence(ctx context.Context, actor services.Actor, transactionID uuid.UUID, text string) error
	Cancel(ctx context.Context, actor services.Actor, transactionID uuid.UUID) (*models.EscrowTransaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	AuditTrail(ctx context.Context, transactionID uuid.UUID) ([]*models.AuditEvent, error)
}

// ProductMarker flips the listing to sold once its escrow completes.
type ProductMarker interface {
	MarkSold(ctx context.Context, id uuid.UUID) (bool, error)
}

// EscrowHandler serves the escrow transaction endpoints.
type EscrowHandler struct {
	Escrow    EscrowServiceForHandler
	Products  ProductMarker
	Validator *services.Validator
	Logger    *slog.Logger
}

// escrowView decorates a transaction with a release hint for the caller.
type escrowView struct {
	*models.EscrowTransaction
	CanComplete bool `json:"can_complete"`
}

func (h *EscrowHandler) view(txn *models.EscrowTransaction, actorID uuid.UUID) escrowView {
	return escrowView{EscrowTransaction: txn, CanComplete: services.CanComplete(txn, actorID)}
}

func (h *EscrowHandler) actor(r *http.Request) (services.Actor, bool) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		return services.Actor{}, false
	}
	return services.Actor{ID: acc.ID}, true
}

type proposeTermsRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Timeline    string          `json:"timeline"`
}

// ProposeTerms handles POST /api/v1/conversations/{id}/escrow. The payload
// is checked against the escrow-terms schema before decoding.
func (h *EscrowHandler) ProposeTerms(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	conversationID, ok := extractPathID(r, "/api/v1/conversations/")
	if !ok {
		http.Error(w, `{"error":"invalid conversation id"}`, http.StatusBadRequest)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.Validate(services.SchemaEscrowTerms, raw); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("terms validation", "error", err)
		http.Error(w, `{"error":"terms validation failed"}`, http.StatusInternalServerError)
		return
	}
	var req proposeTermsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	txn, err := h.Escrow.ProposeTerms(r.Context(), actor, conversationID, services.ProposeTermsParams{
		Amount:      req.Amount,
		Description: req.Description,
		Timeline:    req.Timeline,
	})
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(txn, actor.ID))
}

// GetTransaction handles GET /api/v1/escrow/{id}. Parties only.
func (h *EscrowHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	txn, err := h.Escrow.GetTransaction(r.Context(), txnID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	if actor.ID != txn.BuyerID && actor.ID != txn.SellerID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not a party to this transaction"})
		return
	}
	writeJSON(w, http.StatusOK, h.view(txn, actor.ID))
}

type initializeResponse struct {
	Transaction escrowView                     `json:"transaction"`
	Payment     *services.PaymentAuthorization `json:"payment,omitempty"`
}

// InitializeEscrow handles POST /api/v1/escrow/{id}/initialize.
func (h *EscrowHandler) InitializeEscrow(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	txn, auth, err := h.Escrow.InitializeEscrow(r.Context(), actor, txnID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, initializeResponse{Transaction: h.view(txn, actor.ID), Payment: auth})
}

type payRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

// SecurePayment handles POST /api/v1/escrow/{id}/pay.
func (h *EscrowHandler) SecurePayment(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	txn, err := h.Escrow.SecurePayment(r.Context(), actor, txnID, req.PaymentIntentID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(txn, actor.ID))
}

type deliveryRequest struct {
	ProofURLs []string `json:"proof_urls"`
}

// ConfirmDelivery handles POST /api/v1/escrow/{id}/delivery.
func (h *EscrowHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req deliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	txn, err := h.Escrow.ConfirmDelivery(r.Context(), actor, txnID, req.ProofURLs)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(txn, actor.ID))
}

type receiptRequest struct {
	Checklist []string `json:"checklist"`
}

// VerifyReceipt handles POST /api/v1/escrow/{id}/receipt.
func (h *EscrowHandler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req receiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	txn, err := h.Escrow.VerifyReceipt(r.Context(), actor, txnID, req.Checklist)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(txn, actor.ID))
}

// CompleteTransaction handles POST /api/v1/escrow/{id}/release. On success
// the listing is marked sold; a failure there is logged, not surfaced, since
// the funds have already moved.
func (h *EscrowHandler) CompleteTransaction(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	txn, err := h.Escrow.CompleteTransaction(r.Context(), actor, txnID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	if _, err := h.Products.MarkSold(r.Context(), txn.ProductID); err != nil {
		h.Logger.Error("mark product sold", "product_id", txn.ProductID, "error", err)
	}
	writeJSON(w, http.StatusOK, h.view(txn, actor.ID))
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

// RaiseDispute handles POST /api/v1/escrow/{id}/dispute.
func (h *EscrowHandler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	txn, err := h.Escrow.RaiseDispute(r.Context(), actor, txnID, req.Reason)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(txn, actor.ID))
}

type evidenceRequest struct {
	Text string `json:"text"`
}

// SubmitEvidence handles POST /api/v1/escrow/{id}/evidence.
func (h *EscrowHandler) SubmitEvidence(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req evidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Escrow.SubmitEvidence(r.Context(), actor, txnID, req.Text); err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "evidence recorded"})
}

// Cancel handles POST /api/v1/escrow/{id}/cancel.
func (h *EscrowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	txn, err := h.Escrow.Cancel(r.Context(), actor, txnID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(txn, actor.ID))
}

// AuditTrail handles GET /api/v1/escrow/{id}/audit. Parties only.
func (h *EscrowHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	actor, txnID, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	txn, err := h.Escrow.GetTransaction(r.Context(), txnID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	if actor.ID != txn.BuyerID && actor.ID != txn.SellerID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not a party to this transaction"})
		return
	}
	events, err := h.Escrow.AuditTrail(r.Context(), txnID)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// QuoteFees handles GET /api/v1/fees/quote?amount=. Public; the quote is
// deterministic from the amount alone.
func (h *EscrowHandler) QuoteFees(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		http.Error(w, `{"error":"amount must be a decimal"}`, http.StatusBadRequest)
		return
	}
	fees, err := services.QuoteFees(amount)
	if err != nil {
		writeServiceError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fees)
}

func (h *EscrowHandler) actorAndID(w http.ResponseWriter, r *http.Request) (services.Actor, uuid.UUID, bool) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return services.Actor{}, uuid.Nil, false
	}
	id, ok := extractPathID(r, "/api/v1/escrow/")
	if !ok {
		http.Error(w, `{"error":"invalid transaction id"}`, http.StatusBadRequest)
		return services.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}
