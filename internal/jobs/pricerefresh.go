package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/shopspring/decimal"

	"github.com/aibazaar/backend/internal/auction"
	"github.com/aibazaar/backend/internal/models"
)

// PriceRefreshArgs triggers one refresh of the cached current_price column
// for live listings. The cache is display-only; reads that matter recompute
// the price from the auction parameters.
type PriceRefreshArgs struct{}

func (PriceRefreshArgs) Kind() string { return "price_refresh" }

// PriceRefreshRepo is the slice of the product repository the refresh needs.
type PriceRefreshRepo interface {
	ListForPriceRefresh(ctx context.Context, now time.Time) ([]*models.Product, error)
	UpdateCachedPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error
}

type PriceRefreshWorker struct {
	river.WorkerDefaults[PriceRefreshArgs]
	products PriceRefreshRepo
	log      *slog.Logger
}

func NewPriceRefreshWorker(products PriceRefreshRepo, log *slog.Logger) *PriceRefreshWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PriceRefreshWorker{products: products, log: log}
}

func (w *PriceRefreshWorker) Work(ctx context.Context, _ *river.Job[PriceRefreshArgs]) error {
	now := time.Now()
	list, err := w.products.ListForPriceRefresh(ctx, now)
	if err != nil {
		return err
	}
	for _, p := range list {
		price := auction.CurrentPrice(auction.ParamsFor(p), now)
		if p.CurrentPrice != nil && p.CurrentPrice.Equal(price) {
			continue
		}
		if err := w.products.UpdateCachedPrice(ctx, p.ID, price); err != nil {
			// Keep refreshing the rest; a stale cache entry is harmless.
			w.log.Error("price cache update failed", "product_id", p.ID, "error", err)
		}
	}
	return nil
}
