package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReminderRepo struct {
	pool *pgxpool.Pool
}

func NewReminderRepo(pool *pgxpool.Pool) *ReminderRepo {
	return &ReminderRepo{pool: pool}
}

// Insert records that a reminder was sent for the given stage. The table has
// a unique constraint on (transaction_id, stage); a duplicate insert is
// swallowed by ON CONFLICT and reported as false, which makes the send path
// idempotent across concurrent scans and restarts.
func (r *ReminderRepo) Insert(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID, stage string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO escrow_reminders (id, transaction_id, stage)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_id, stage) DO NOTHING
	`, uuid.New(), transactionID, stage)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
