package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aibazaar/backend/internal/models"
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

// GetOrCreate returns the conversation between the buyer and the product's
// seller, creating it on first contact. (product_id, buyer_id) is unique.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, productID, buyerID, sellerID uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, product_id, buyer_id, seller_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, buyer_id) DO UPDATE SET updated_at = now()
		RETURNING id, product_id, buyer_id, seller_id, created_at, updated_at
	`, uuid.New(), productID, buyerID, sellerID).Scan(&c.ID, &c.ProductID, &c.BuyerID, &c.SellerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	err := r.pool.QueryRow(ctx, `
		SELECT id, product_id, buyer_id, seller_id, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(&c.ID, &c.ProductID, &c.BuyerID, &c.SellerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, buyer_id, seller_id, created_at, updated_at
		FROM conversations
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY updated_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.ProductID, &c.BuyerID, &c.SellerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}

// ---------------------------------------------------------------------------

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, m *models.Message) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, m.ID, m.ConversationID, m.SenderID, m.Body).Scan(&m.CreatedAt)
}

// CreateSystem appends a platform message (NULL sender) inside the caller's
// transaction, so the rendered text commits together with the audit event it
// describes.
func (r *MessageRepo) CreateSystem(ctx context.Context, tx pgx.Tx, conversationID uuid.UUID, body string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body)
		VALUES ($1, $2, NULL, $3)
	`, uuid.New(), conversationID, body)
	return err
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}

// RecentUserBodies returns the last limit user-authored message bodies in
// thread order (oldest first), for drafting escrow terms.
func (r *MessageRepo) RecentUserBodies(ctx context.Context, conversationID uuid.UUID, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT body FROM (
			SELECT body, created_at FROM messages
			WHERE conversation_id = $1 AND sender_id IS NOT NULL
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bodies []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		bodies = append(bodies, body)
	}
	return bodies, rows.Err()
}
