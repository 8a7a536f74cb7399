package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aibazaar/backend/internal/models"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Create appends an event inside the caller's transaction, so the event and
// the status change it records commit or roll back together.
func (r *AuditRepo) Create(ctx context.Context, tx pgx.Tx, e *models.AuditEvent) error {
	return tx.QueryRow(ctx, `
		INSERT INTO audit_events (id, transaction_id, event_type, actor_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.TransactionID, e.EventType, e.ActorID, e.Payload).Scan(&e.CreatedAt)
}

func (r *AuditRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*models.AuditEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, event_type, actor_id, payload, created_at
		FROM audit_events WHERE transaction_id = $1
		ORDER BY created_at, id
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.EventType, &e.ActorID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
