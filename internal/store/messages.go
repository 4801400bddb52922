package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/concierge/internal/chat"
)

// AddMessage appends a turn. The database assigns created_at so stored
// order follows commit order for a single writer.
func (s *Store) AddMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return chat.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender, sender_name, body, read)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		m.ID, m.ConversationID, m.Sender, m.SenderName, m.Body, m.Read,
	).Scan(&m.CreatedAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, m.ConversationID); err != nil {
		return chat.Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return chat.Message{}, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// GetMessages returns turns oldest first. With limit > 0 only the newest
// limit turns are returned, still oldest first.
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	query := `
		SELECT id::text, conversation_id::text, sender, sender_name, body, created_at, read
		FROM (
			SELECT * FROM messages WHERE conversation_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at, seq`
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, query, conversationID, lim)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.SenderName, &m.Body, &m.CreatedAt, &m.Read); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMessagesRead flags unread turns from the given senders as read and
// returns how many changed.
func (s *Store) MarkMessagesRead(ctx context.Context, conversationID string, senders []chat.SenderKind) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read = true
		WHERE conversation_id = $1 AND read = false AND sender = ANY($2)`,
		conversationID, senderStrings(senders),
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetUnreadCount counts unread turns from the given senders.
func (s *Store) GetUnreadCount(ctx context.Context, conversationID string, senders []chat.SenderKind) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages
		WHERE conversation_id = $1 AND read = false AND sender = ANY($2)`,
		conversationID, senderStrings(senders),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

func senderStrings(senders []chat.SenderKind) []string {
	out := make([]string, len(senders))
	for i, s := range senders {
		out[i] = string(s)
	}
	return out
}
