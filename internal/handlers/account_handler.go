package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/aibazaar/backend/internal/middleware"
	"github.com/aibazaar/backend/internal/models"
)

// EscrowLister returns the caller's transactions for the dashboard.
type EscrowLister interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.EscrowTransaction, error)
}

// ProductLister returns a seller's own listings, all statuses.
type ProductLister interface {
	ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]*models.Product, error)
}

// AccountHandler serves the signed-in account views.
type AccountHandler struct {
	Escrows  EscrowLister
	Products ProductLister
	Logger   *slog.Logger
}

type meResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// GetMe handles GET /api/v1/account/me.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:          acc.ID.String(),
		Email:       acc.Email,
		DisplayName: acc.DisplayName,
		IsAdmin:     acc.IsAdmin,
	})
}

// ListMyEscrows handles GET /api/v1/account/escrows.
func (h *AccountHandler) ListMyEscrows(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.Escrows.ListByAccount(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list escrows", "error", err)
		http.Error(w, `{"error":"could not list transactions"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.EscrowTransaction{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ListMyProducts handles GET /api/v1/account/products.
func (h *AccountHandler) ListMyProducts(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.Products.ListBySeller(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list own products", "error", err)
		http.Error(w, `{"error":"could not list products"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Product{}
	}
	writeJSON(w, http.StatusOK, list)
}
