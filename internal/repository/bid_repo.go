package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aibazaar/backend/internal/models"
)

type BidRepo struct {
	pool *pgxpool.Pool
}

func NewBidRepo(pool *pgxpool.Pool) *BidRepo {
	return &BidRepo{pool: pool}
}

// Create inserts a bid only if it is strictly higher than every existing bid
// on the product. The guard runs inside the insert itself so two concurrent
// equal bids cannot both land; the loser gets pgx.ErrNoRows.
func (r *BidRepo) Create(ctx context.Context, b *models.Bid) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO bids (id, product_id, bidder_id, amount, status, reserve_met)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM bids WHERE product_id = $2 AND amount >= $4
		)
		RETURNING created_at, updated_at
	`, b.ID, b.ProductID, b.BidderID, b.Amount, b.Status, b.ReserveMet).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *BidRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	var b models.Bid
	err := r.pool.QueryRow(ctx, `
		SELECT id, product_id, bidder_id, amount, status, reserve_met, created_at, updated_at
		FROM bids WHERE id = $1
	`, id).Scan(&b.ID, &b.ProductID, &b.BidderID, &b.Amount, &b.Status, &b.ReserveMet, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BidRepo) ListByProduct(ctx context.Context, productID uuid.UUID) ([]*models.Bid, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, bidder_id, amount, status, reserve_met, created_at, updated_at
		FROM bids WHERE product_id = $1
		ORDER BY amount DESC, created_at
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.ProductID, &b.BidderID, &b.Amount, &b.Status, &b.ReserveMet, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &b)
	}
	return list, rows.Err()
}

// HighestAmount returns the current top bid amount, or zero when there are
// no bids yet.
func (r *BidRepo) HighestAmount(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT amount FROM bids WHERE product_id = $1 ORDER BY amount DESC LIMIT 1
	`, productID).Scan(&amount)
	if err == pgx.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// UpdateStatus is a conditional write: it only moves a bid out of pending.
func (r *BidRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bids SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, status, models.BidStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
