package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aibazaar/backend/internal/middleware"
	"github.com/aibazaar/backend/internal/models"
	"github.com/aibazaar/backend/internal/services"
)

// ConversationRepoForHandler is the subset of the conversation repository the
// handler needs.
type ConversationRepoForHandler interface {
	GetOrCreate(ctx context.Context, productID, buyerID, sellerID uuid.UUID) (*models.Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Conversation, error)
}

// MessageRepoForHandler covers thread reads and user-authored writes.
type MessageRepoForHandler interface {
	Create(ctx context.Context, m *models.Message) error
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error)
	RecentUserBodies(ctx context.Context, conversationID uuid.UUID, limit int) ([]string, error)
}

// ConversationHandler serves buyer/seller messaging and the escrow term draft.
type ConversationHandler struct {
	Conversations ConversationRepoForHandler
	Messages      MessageRepoForHandler
	Products      ProductRepoForHandler
	Logger        *slog.Logger
}

type createConversationRequest struct {
	ProductID string `json:"product_id"`
}

// CreateConversation handles POST /api/v1/conversations. First contact
// creates the thread; later calls return the existing one.
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		http.Error(w, `{"error":"invalid product_id"}`, http.StatusBadRequest)
		return
	}
	product, err := h.Products.GetByID(r.Context(), productID)
	if err != nil {
		http.Error(w, `{"error":"product not found"}`, http.StatusNotFound)
		return
	}
	if product.SellerID == acc.ID {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cannot open a conversation with yourself"})
		return
	}
	conv, err := h.Conversations.GetOrCreate(r.Context(), product.ID, acc.ID, product.SellerID)
	if err != nil {
		h.Logger.Error("create conversation", "error", err)
		http.Error(w, `{"error":"could not create conversation"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// ListConversations handles GET /api/v1/conversations.
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.Conversations.ListByAccount(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list conversations", "error", err)
		http.Error(w, `{"error":"could not list conversations"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Conversation{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ListMessages handles GET /api/v1/conversations/{id}/messages. Parties only.
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationForParty(w, r)
	if !ok {
		return
	}
	msgs, err := h.Messages.ListByConversation(r.Context(), conv.ID)
	if err != nil {
		h.Logger.Error("list messages", "error", err)
		http.Error(w, `{"error":"could not list messages"}`, http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type postMessageRequest struct {
	Body string `json:"body"`
}

// PostMessage handles POST /api/v1/conversations/{id}/messages.
func (h *ConversationHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationForParty(w, r)
	if !ok {
		return
	}
	acc := middleware.AccountFromCtx(r.Context())
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		http.Error(w, `{"error":"message body is required"}`, http.StatusBadRequest)
		return
	}
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       &acc.ID,
		Body:           body,
	}
	if err := h.Messages.Create(r.Context(), msg); err != nil {
		h.Logger.Error("post message", "error", err)
		http.Error(w, `{"error":"could not post message"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// draftTermsLookback bounds how much of the thread the term parser reads.
const draftTermsLookback = 50

// DraftTerms handles GET /api/v1/conversations/{id}/escrow-draft. It scans
// the recent thread for an amount, timeline, and description, and returns
// them with a fee quote when an amount was found. Nothing is persisted; the
// draft is a suggestion for the propose call.
func (h *ConversationHandler) DraftTerms(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationForParty(w, r)
	if !ok {
		return
	}
	bodies, err := h.Messages.RecentUserBodies(r.Context(), conv.ID, draftTermsLookback)
	if err != nil {
		h.Logger.Error("draft terms", "error", err)
		http.Error(w, `{"error":"could not read conversation"}`, http.StatusInternalServerError)
		return
	}
	draft := services.ParseEscrowTerms(bodies)

	resp := map[string]interface{}{"draft": draft}
	if draft.AmountFound {
		if fees, err := services.QuoteFees(draft.Amount); err == nil {
			resp["fees"] = fees
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// conversationForParty loads the conversation from the path and checks the
// caller is one of its parties. It writes the error response itself.
func (h *ConversationHandler) conversationForParty(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return nil, false
	}
	id, ok := extractPathID(r, "/api/v1/conversations/")
	if !ok {
		http.Error(w, `{"error":"invalid conversation id"}`, http.StatusBadRequest)
		return nil, false
	}
	conv, err := h.Conversations.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
		return nil, false
	}
	if !conv.Party(acc.ID) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not a party to this conversation"})
		return nil, false
	}
	return conv, true
}
