package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/concierge/internal/chat"
)

// Memory is an in-process store used when DATABASE_URL is unset and in tests.
type Memory struct {
	mu            sync.Mutex
	conversations map[string]chat.Conversation
	messages      map[string][]chat.Message
	last          time.Time
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string][]chat.Message),
		now:           time.Now,
	}
}

// tick returns a timestamp strictly after every previous one.
func (m *Memory) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func (m *Memory) CreateConversation(_ context.Context, c chat.Conversation) (chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = chat.StatusOpen
	}
	now := m.tick()
	c.CreatedAt, c.UpdatedAt = now, now
	m.conversations[c.ID] = c
	return c, nil
}

func (m *Memory) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) UpsertConversation(_ context.Context, c chat.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.tick()
	if c.Status == "" {
		c.Status = chat.StatusOpen
	}
	if existing, ok := m.conversations[c.ID]; ok {
		if existing.VisitorToken != "" {
			c.VisitorToken = existing.VisitorToken
		}
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.conversations[c.ID] = c
	return nil
}

func (m *Memory) AddMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = m.tick()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	if c, ok := m.conversations[msg.ConversationID]; ok {
		c.UpdatedAt = msg.CreatedAt
		m.conversations[msg.ConversationID] = c
	}
	return msg, nil
}

func (m *Memory) GetMessages(_ context.Context, conversationID string, limit int) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return slices.Clone(all), nil
}

func (m *Memory) MarkMessagesRead(_ context.Context, conversationID string, senders []chat.SenderKind) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	msgs := m.messages[conversationID]
	for i := range msgs {
		if !msgs[i].Read && slices.Contains(senders, msgs[i].Sender) {
			msgs[i].Read = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetUnreadCount(_ context.Context, conversationID string, senders []chat.SenderKind) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, msg := range m.messages[conversationID] {
		if !msg.Read && slices.Contains(senders, msg.Sender) {
			n++
		}
	}
	return n, nil
}
