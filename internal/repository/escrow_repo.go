package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aibazaar/backend/internal/models"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `id, conversation_id, product_id, buyer_id, seller_id, amount, platform_fee, escrow_fee, description, timeline, status, payment_intent_id, funds_released_at, created_at, updated_at`

func scanEscrow(row pgx.Row) (*models.EscrowTransaction, error) {
	var t models.EscrowTransaction
	err := row.Scan(&t.ID, &t.ConversationID, &t.ProductID, &t.BuyerID, &t.SellerID,
		&t.Amount, &t.PlatformFee, &t.EscrowFee, &t.Description, &t.Timeline, &t.Status,
		&t.PaymentIntentID, &t.FundsReleasedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts the transaction only if the conversation has no other
// non-terminal transaction. The guard is part of the insert so concurrent
// proposals cannot both land; the loser sees pgx.ErrNoRows.
func (r *EscrowRepo) Create(ctx context.Context, tx pgx.Tx, t *models.EscrowTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO escrow_transactions
			(id, conversation_id, product_id, buyer_id, seller_id, amount, platform_fee, escrow_fee, description, timeline, status)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE NOT EXISTS (
			SELECT 1 FROM escrow_transactions
			WHERE conversation_id = $2 AND status NOT IN ($12, $13)
		)
		RETURNING created_at, updated_at
	`, t.ID, t.ConversationID, t.ProductID, t.BuyerID, t.SellerID,
		t.Amount, t.PlatformFee, t.EscrowFee, t.Description, t.Timeline, t.Status,
		models.EscrowStatusCompleted, models.EscrowStatusCancelled).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1
	`, id))
}

// GetByIDForUpdate locks the row for the duration of the caller's
// transaction, serializing transitions on the same escrow.
func (r *EscrowRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(tx.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1 FOR UPDATE
	`, id))
}

// UpdateStatus moves the transaction from one status to another. The WHERE
// clause carries the expected status; zero rows affected means someone else
// moved first.
func (r *EscrowRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE escrow_transactions SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *EscrowRepo) SetPaymentIntent(ctx context.Context, tx pgx.Tx, id uuid.UUID, intentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE escrow_transactions SET payment_intent_id = $2, updated_at = now()
		WHERE id = $1
	`, id, intentID)
	return err
}

// MarkFundsReleased claims the release marker. At most one caller ever sees
// true for a given transaction; everyone else gets false and must treat the
// release as already done.
func (r *EscrowRepo) MarkFundsReleased(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE escrow_transactions SET funds_released_at = now()
		WHERE id = $1 AND funds_released_at IS NULL
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListReminderCandidates returns transactions that can still owe a reminder:
// open and not frozen by a dispute.
func (r *EscrowRepo) ListReminderCandidates(ctx context.Context) ([]*models.EscrowTransaction, error) {
	return r.list(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY created_at
	`, models.EscrowStatusCompleted, models.EscrowStatusCancelled, models.EscrowStatusDisputed)
}

func (r *EscrowRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.EscrowTransaction, error) {
	return r.list(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
	`, accountID)
}

func (r *EscrowRepo) list(ctx context.Context, query string, args ...any) ([]*models.EscrowTransaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EscrowTransaction
	for rows.Next() {
		t, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
