package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/concierge/internal/chat"
)

// CreateConversation inserts c, assigning an ID when empty.
func (s *Store) CreateConversation(ctx context.Context, c chat.Conversation) (chat.Conversation, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = chat.StatusOpen
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, owner_id, visitor_name, visitor_email, visitor_token, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		c.ID, c.OwnerID, c.VisitorName, c.VisitorEmail, c.VisitorToken, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return chat.Conversation{}, ErrNotFound
	}
	var c chat.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, owner_id, visitor_name, visitor_email, visitor_token, status, created_at, updated_at
		FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.OwnerID, &c.VisitorName, &c.VisitorEmail, &c.VisitorToken, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Conversation{}, ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// UpsertConversation inserts or updates c. A stored visitor token is never
// overwritten.
func (s *Store) UpsertConversation(ctx context.Context, c chat.Conversation) error {
	if c.Status == "" {
		c.Status = chat.StatusOpen
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, owner_id, visitor_name, visitor_email, visitor_token, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			owner_id      = EXCLUDED.owner_id,
			visitor_name  = EXCLUDED.visitor_name,
			visitor_email = EXCLUDED.visitor_email,
			visitor_token = COALESCE(NULLIF(conversations.visitor_token, ''), EXCLUDED.visitor_token),
			status        = EXCLUDED.status,
			updated_at    = now()`,
		c.ID, c.OwnerID, c.VisitorName, c.VisitorEmail, c.VisitorToken, c.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}
