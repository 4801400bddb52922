package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/chat"
)

func openTestBolt(t *testing.T) *Bolt {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "conv", "concierge.bolt"))
	if err != nil {
		t.Fatalf("failed to open bolt: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBolt_ConversationRoundTrip(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, chat.Conversation{VisitorName: "Eva", VisitorToken: "secret"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.VisitorToken != "secret" {
		t.Errorf("expected token to be persisted, got %q", got.VisitorToken)
	}
	if got.Status != chat.StatusOpen {
		t.Errorf("expected status open, got %q", got.Status)
	}

	if _, err := s.GetConversation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBolt_UpsertKeepsToken(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	c, _ := s.CreateConversation(ctx, chat.Conversation{VisitorToken: "original"})
	c.VisitorToken = "replacement"
	c.Status = chat.StatusClosed
	if err := s.UpsertConversation(ctx, c); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, _ := s.GetConversation(ctx, c.ID)
	if got.VisitorToken != "original" {
		t.Errorf("expected original token, got %q", got.VisitorToken)
	}
	if got.Status != chat.StatusClosed {
		t.Errorf("expected closed, got %q", got.Status)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) {
		t.Errorf("expected created_at kept, got %v", got.CreatedAt)
	}
}

func TestBolt_MessagesOrderedAndLimited(t *testing.T) {
	s := openTestBolt(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	c, _ := s.CreateConversation(ctx, chat.Conversation{})
	for _, body := range []string{"one", "two", "three"} {
		if _, err := s.AddMessage(ctx, chat.Message{ConversationID: c.ID, Sender: chat.SenderVisitor, Body: body}); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	all, err := s.GetMessages(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if len(all) != 3 || all[0].Body != "one" || all[2].Body != "three" {
		t.Fatalf("unexpected order: %+v", all)
	}
	for i := 1; i < len(all); i++ {
		if !all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Errorf("expected strictly increasing timestamps at %d", i)
		}
	}

	recent, _ := s.GetMessages(ctx, c.ID, 2)
	if len(recent) != 2 || recent[0].Body != "two" || recent[1].Body != "three" {
		t.Errorf("expected [two three], got %+v", recent)
	}

	none, _ := s.GetMessages(ctx, "missing", 0)
	if len(none) != 0 {
		t.Errorf("expected no messages, got %d", len(none))
	}
}

func TestBolt_ReadTracking(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	c, _ := s.CreateConversation(ctx, chat.Conversation{})
	s.AddMessage(ctx, chat.Message{ConversationID: c.ID, Sender: chat.SenderVisitor, Body: "hi"})
	s.AddMessage(ctx, chat.Message{ConversationID: c.ID, Sender: chat.SenderAssistant, Body: "hello"})

	visitor := []chat.SenderKind{chat.SenderVisitor}
	n, _ := s.GetUnreadCount(ctx, c.ID, visitor)
	if n != 1 {
		t.Errorf("expected 1 unread, got %d", n)
	}
	changed, err := s.MarkMessagesRead(ctx, c.ID, visitor)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if changed != 1 {
		t.Errorf("expected 1 marked, got %d", changed)
	}
	n, _ = s.GetUnreadCount(ctx, c.ID, visitor)
	if n != 0 {
		t.Errorf("expected 0 unread, got %d", n)
	}
	n, _ = s.GetUnreadCount(ctx, c.ID, []chat.SenderKind{chat.SenderAssistant})
	if n != 1 {
		t.Errorf("expected assistant turn still unread, got %d", n)
	}
}

func TestBolt_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.bolt")
	ctx := context.Background()

	s, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	c, _ := s.CreateConversation(ctx, chat.Conversation{VisitorToken: "tok"})
	s.AddMessage(ctx, chat.Message{ConversationID: c.ID, Sender: chat.SenderVisitor, Body: "persisted"})
	s.Close()

	s, err = OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil || got.VisitorToken != "tok" {
		t.Fatalf("expected conversation after reopen, got %+v, %v", got, err)
	}
	msgs, _ := s.GetMessages(ctx, c.ID, 0)
	if len(msgs) != 1 || msgs[0].Body != "persisted" {
		t.Errorf("expected persisted message, got %+v", msgs)
	}
}
