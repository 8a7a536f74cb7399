package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aibazaar/backend/internal/models"
)

type ProductRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

const productColumns = `id, seller_id, title, description, status, starting_price, reserve_price, price_decrement, price_decrement_interval, auction_end_time, approval_time, current_price, created_at, updated_at`

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Title, &p.Description, &p.Status,
		&p.StartingPrice, &p.ReservePrice, &p.PriceDecrement, &p.PriceDecrementInterval,
		&p.AuctionEndTime, &p.ApprovalTime, &p.CurrentPrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepo) Create(ctx context.Context, p *models.Product) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO products (id, seller_id, title, description, status, starting_price, reserve_price, price_decrement, price_decrement_interval, auction_end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, p.ID, p.SellerID, p.Title, p.Description, p.Status, p.StartingPrice, p.ReservePrice,
		p.PriceDecrement, p.PriceDecrementInterval, p.AuctionEndTime).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *ProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1
	`, id))
}

// Approve moves a pending listing to approved and stamps approval_time, the
// effective start of price decay. Approving a non-pending listing is a no-op
// reported as false.
func (r *ProductRepo) Approve(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products SET status = $2, approval_time = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, models.ProductStatusApproved, at, models.ProductStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSold flips an approved listing to sold when its escrow completes.
func (r *ProductRepo) MarkSold(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, models.ProductStatusSold, models.ProductStatusApproved)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ProductRepo) ListApproved(ctx context.Context) ([]*models.Product, error) {
	return r.list(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE status = $1
		ORDER BY created_at DESC
	`, models.ProductStatusApproved)
}

func (r *ProductRepo) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]*models.Product, error) {
	return r.list(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE seller_id = $1
		ORDER BY created_at DESC
	`, sellerID)
}

// ListForPriceRefresh returns approved listings whose auction has not ended,
// the working set of the cached-price refresh job.
func (r *ProductRepo) ListForPriceRefresh(ctx context.Context, now time.Time) ([]*models.Product, error) {
	return r.list(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE status = $1 AND auction_end_time > $2
		ORDER BY created_at
	`, models.ProductStatusApproved, now)
}

// UpdateCachedPrice writes the display cache. The stored value is never read
// back for pricing decisions; the computed price wins.
func (r *ProductRepo) UpdateCachedPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE products SET current_price = $2 WHERE id = $1
	`, id, price)
	return err
}

func (r *ProductRepo) list(ctx context.Context, query string, args ...any) ([]*models.Product, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
