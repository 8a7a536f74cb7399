package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/aibazaar/backend/internal/auction"
	"github.com/aibazaar/backend/internal/middleware"
	"github.com/aibazaar/backend/internal/models"
	"github.com/aibazaar/backend/internal/services"
)

// ProductRepoForHandler is the subset of the product repository the handler needs.
type ProductRepoForHandler interface {
	Create(ctx context.Context, p *models.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	Approve(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListApproved(ctx context.Context) ([]*models.Product, error)
}

// BidRepoForHandler is the subset of the bid repository the handler needs.
type BidRepoForHandler interface {
	Create(ctx context.Context, b *models.Bid) error
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]*models.Bid, error)
}

// ProductHandler serves listing and bidding endpoints.
type ProductHandler struct {
	Products  ProductRepoForHandler
	Bids      BidRepoForHandler
	Validator *services.Validator
	Logger    *slog.Logger
}

type createProductRequest struct {
	Title                  string          `json:"title"`
	Description            string          `json:"description"`
	StartingPrice          decimal.Decimal `json:"starting_price"`
	ReservePrice           decimal.Decimal `json:"reserve_price"`
	PriceDecrement         decimal.Decimal `json:"price_decrement"`
	PriceDecrementInterval string          `json:"price_decrement_interval"`
	AuctionEndTime         time.Time       `json:"auction_end_time"`
}

// productView is a Product with the live computed price filled in. The cached
// column is never served raw; the price in every response comes from the
// auction parameters and the request clock.
type productView struct {
	*models.Product
	CurrentPrice *decimal.Decimal `json:"current_price,omitempty"`
}

func viewOf(p *models.Product, now time.Time) productView {
	v := productView{Product: p}
	if p.Status == models.ProductStatusApproved {
		price := auction.CurrentPrice(auction.ParamsFor(p), now)
		v.CurrentPrice = &price
	}
	return v
}

// CreateProduct handles POST /api/v1/products. The payload is checked against
// the listing schema before decoding, then the auction parameters themselves
// are validated.
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.Validate(services.SchemaListing, raw); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("listing validation", "error", err)
		http.Error(w, `{"error":"listing validation failed"}`, http.StatusInternalServerError)
		return
	}
	var req createProductRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	product := &models.Product{
		ID:                     uuid.New(),
		SellerID:               acc.ID,
		Title:                  req.Title,
		Description:            req.Description,
		Status:                 models.ProductStatusPending,
		StartingPrice:          req.StartingPrice,
		ReservePrice:           req.ReservePrice,
		PriceDecrement:         req.PriceDecrement,
		PriceDecrementInterval: req.PriceDecrementInterval,
		AuctionEndTime:         req.AuctionEndTime,
	}
	params := auction.ParamsFor(product)
	params.CreatedAt = time.Now()
	if err := auction.Validate(params, product.AuctionEndTime); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.Products.Create(r.Context(), product); err != nil {
		h.Logger.Error("create product", "error", err)
		http.Error(w, `{"error":"could not create listing"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(product, time.Now()))
}

// ListProducts handles GET /api/v1/products (approved listings only).
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.Products.ListApproved(r.Context())
	if err != nil {
		h.Logger.Error("list products", "error", err)
		http.Error(w, `{"error":"could not list products"}`, http.StatusInternalServerError)
		return
	}
	now := time.Now()
	views := make([]productView, 0, len(list))
	for _, p := range list {
		views = append(views, viewOf(p, now))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetProduct handles GET /api/v1/products/{id}.
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := extractPathID(r, "/api/v1/products/")
	if !ok {
		http.Error(w, `{"error":"invalid product id"}`, http.StatusBadRequest)
		return
	}
	product, err := h.Products.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, `{"error":"product not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(product, time.Now()))
}

// ApproveProduct handles POST /api/v1/products/{id}/approve (admin only; the
// router wraps this in RequireAdmin). Approval stamps the effective start of
// price decay.
func (h *ProductHandler) ApproveProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := extractPathID(r, "/api/v1/products/")
	if !ok {
		http.Error(w, `{"error":"invalid product id"}`, http.StatusBadRequest)
		return
	}
	approved, err := h.Products.Approve(r.Context(), id, time.Now())
	if err != nil {
		h.Logger.Error("approve product", "error", err)
		http.Error(w, `{"error":"could not approve product"}`, http.StatusInternalServerError)
		return
	}
	if !approved {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "product is not pending approval"})
		return
	}
	product, err := h.Products.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, `{"error":"product not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(product, time.Now()))
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PlaceBid handles POST /api/v1/products/{id}/bids. Bids must strictly
// outbid the current highest; the repository enforces that atomically.
func (h *ProductHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractPathID(r, "/api/v1/products/")
	if !ok {
		http.Error(w, `{"error":"invalid product id"}`, http.StatusBadRequest)
		return
	}
	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		http.Error(w, `{"error":"bid amount must be positive"}`, http.StatusBadRequest)
		return
	}

	product, err := h.Products.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, `{"error":"product not found"}`, http.StatusNotFound)
		return
	}
	if product.Status != models.ProductStatusApproved {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "product is not open for bidding"})
		return
	}
	now := time.Now()
	if !now.Before(product.AuctionEndTime) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "auction has ended"})
		return
	}
	if acc.ID == product.SellerID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "sellers cannot bid on their own listing"})
		return
	}

	bid := &models.Bid{
		ID:         uuid.New(),
		ProductID:  product.ID,
		BidderID:   acc.ID,
		Amount:     req.Amount,
		Status:     models.BidStatusPending,
		ReserveMet: auction.ReserveMet(req.Amount, product.ReservePrice, product.NoReserve()),
	}
	if err := h.Bids.Create(r.Context(), bid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a bid at or above this amount already exists"})
			return
		}
		h.Logger.Error("place bid", "error", err)
		http.Error(w, `{"error":"could not place bid"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// ListBids handles GET /api/v1/products/{id}/bids.
func (h *ProductHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, ok := extractPathID(r, "/api/v1/products/")
	if !ok {
		http.Error(w, `{"error":"invalid product id"}`, http.StatusBadRequest)
		return
	}
	bids, err := h.Bids.ListByProduct(r.Context(), id)
	if err != nil {
		h.Logger.Error("list bids", "error", err)
		http.Error(w, `{"error":"could not list bids"}`, http.StatusInternalServerError)
		return
	}
	if bids == nil {
		bids = []*models.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

type decrementRecommendation struct {
	Decrement decimal.Decimal `json:"decrement"`
	Interval  string          `json:"interval"`
}

// RecommendDecrement handles GET /api/v1/products/recommend-decrement. It
// suggests a per-interval decrement that walks the price from start to
// reserve over the auction duration.
func (h *ProductHandler) RecommendDecrement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := decimal.NewFromString(q.Get("starting_price"))
	if err != nil || !start.IsPositive() {
		http.Error(w, `{"error":"starting_price must be a positive decimal"}`, http.StatusBadRequest)
		return
	}
	reserve := decimal.Zero
	if v := q.Get("reserve_price"); v != "" {
		if reserve, err = decimal.NewFromString(v); err != nil || reserve.IsNegative() {
			http.Error(w, `{"error":"reserve_price must be a non-negative decimal"}`, http.StatusBadRequest)
			return
		}
	}
	days, err := strconv.Atoi(q.Get("duration_days"))
	if err != nil || days <= 0 {
		http.Error(w, `{"error":"duration_days must be a positive integer"}`, http.StatusBadRequest)
		return
	}
	interval := q.Get("interval")
	if interval == "" {
		interval = models.IntervalHour
	}
	writeJSON(w, http.StatusOK, decrementRecommendation{
		Decrement: auction.RecommendedDecrement(start, reserve, days, interval),
		Interval:  interval,
	})
}
