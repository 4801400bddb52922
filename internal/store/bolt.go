package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/MikeSquared-Agency/concierge/internal/chat"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
)

// Bolt is a single-file store for single-node deployments. Messages live
// in one nested bucket per conversation, keyed by a big-endian sequence so
// cursor order is insertion order.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// boltConversation persists the visitor token, which chat.Conversation
// keeps out of JSON.
type boltConversation struct {
	chat.Conversation
	Token string `json:"visitor_token"`
}

func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &Bolt{db: db, now: time.Now}, nil
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

func getConversation(tx *bolt.Tx, id string) (chat.Conversation, bool, error) {
	v := tx.Bucket(bucketConversations).Get([]byte(id))
	if v == nil {
		return chat.Conversation{}, false, nil
	}
	var rec boltConversation
	if err := json.Unmarshal(v, &rec); err != nil {
		return chat.Conversation{}, false, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	rec.Conversation.VisitorToken = rec.Token
	return rec.Conversation, true, nil
}

func putConversation(tx *bolt.Tx, c chat.Conversation) error {
	enc, err := json.Marshal(boltConversation{Conversation: c, Token: c.VisitorToken})
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	return tx.Bucket(bucketConversations).Put([]byte(c.ID), enc)
}

func (s *Bolt) CreateConversation(_ context.Context, c chat.Conversation) (chat.Conversation, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = chat.StatusOpen
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if err := s.db.Update(func(tx *bolt.Tx) error { return putConversation(tx, c) }); err != nil {
		return chat.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (s *Bolt) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	var (
		c     chat.Conversation
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		c, found, err = getConversation(tx, id)
		return err
	})
	if err != nil {
		return chat.Conversation{}, err
	}
	if !found {
		return chat.Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *Bolt) UpsertConversation(_ context.Context, c chat.Conversation) error {
	if c.Status == "" {
		c.Status = chat.StatusOpen
	}
	now := s.now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		existing, found, err := getConversation(tx, c.ID)
		if err != nil {
			return err
		}
		if found {
			if existing.VisitorToken != "" {
				c.VisitorToken = existing.VisitorToken
			}
			c.CreatedAt = existing.CreatedAt
		} else {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		return putConversation(tx, c)
	})
}

func seqKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func (s *Bolt) AddMessage(_ context.Context, m chat.Message) (chat.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(m.ConversationID))
		if err != nil {
			return err
		}

		m.CreatedAt = s.now().UTC()
		if _, last := b.Cursor().Last(); last != nil {
			var prev chat.Message
			if err := json.Unmarshal(last, &prev); err == nil && !m.CreatedAt.After(prev.CreatedAt) {
				m.CreatedAt = prev.CreatedAt.Add(time.Microsecond)
			}
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		enc, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), enc); err != nil {
			return err
		}

		c, found, err := getConversation(tx, m.ConversationID)
		if err != nil || !found {
			return err
		}
		c.UpdatedAt = m.CreatedAt
		return putConversation(tx, c)
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (s *Bolt) GetMessages(_ context.Context, conversationID string, limit int) ([]chat.Message, error) {
	var out []chat.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) == limit {
				break
			}
			var m chat.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Bolt) MarkMessagesRead(_ context.Context, conversationID string, senders []chat.SenderKind) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if b == nil {
			return nil
		}
		updates := map[string][]byte{}
		err := b.ForEach(func(k, v []byte) error {
			var m chat.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.Read || !slices.Contains(senders, m.Sender) {
				return nil
			}
			m.Read = true
			enc, err := json.Marshal(m)
			if err != nil {
				return err
			}
			updates[string(k)] = enc
			return nil
		})
		if err != nil {
			return err
		}
		// Bolt forbids writes inside ForEach.
		for k, v := range updates {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		n = int64(len(updates))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

func (s *Bolt) GetUnreadCount(_ context.Context, conversationID string, senders []chat.SenderKind) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var m chat.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if !m.Read && slices.Contains(senders, m.Sender) {
				n++
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}
