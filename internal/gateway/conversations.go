package gateway

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/concierge/internal/audit"
	"github.com/MikeSquared-Agency/concierge/internal/chat"
	"github.com/MikeSquared-Agency/concierge/internal/session"
)

// CreateInput opens a conversation.
type CreateInput struct {
	VisitorName  string
	VisitorEmail string
}

// Created is returned once per conversation; the token is the only way for
// an anonymous visitor to regain access.
type Created struct {
	ConversationID string `json:"conversation_id"`
	VisitorToken   string `json:"visitor_token"`
}

// CreateConversation is charged to the caller's own key, never to a
// conversation key, so opening conversations cannot mint fresh buckets.
func (g *Gateway) CreateConversation(ctx context.Context, caller chat.Caller, in CreateInput) (Created, error) {
	name, email, err := validateVisitor(in.VisitorName, in.VisitorEmail)
	if err != nil {
		return Created{}, err
	}
	if err := g.admit(ctx, caller, ""); err != nil {
		return Created{}, err
	}
	conv, err := g.create(ctx, caller, name, email)
	if err != nil {
		return Created{}, err
	}
	return Created{ConversationID: conv.ID, VisitorToken: conv.VisitorToken}, nil
}

func (g *Gateway) create(ctx context.Context, caller chat.Caller, name, email string) (chat.Conversation, error) {
	if email == "" {
		email = caller.Email
	}
	conv := chat.Conversation{
		OwnerID:      caller.AccountID,
		VisitorName:  name,
		VisitorEmail: email,
		Status:       chat.StatusOpen,
	}
	if _, _, err := session.EnsureToken(&conv); err != nil {
		return chat.Conversation{}, fmt.Errorf("issue visitor token: %w", err)
	}
	conv, err := g.store.CreateConversation(ctx, conv)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	g.logger.Info("conversation created", "conversation_id", conv.ID, "owned", conv.OwnerID != "")
	g.record(ctx, caller, audit.ActionConversationCreate, conversationResource(conv.ID), nil)
	return conv, nil
}

// ensureToken issues a token for legacy conversations created without one.
func (g *Gateway) ensureToken(ctx context.Context, conv *chat.Conversation) error {
	_, created, err := session.EnsureToken(conv)
	if err != nil {
		return fmt.Errorf("issue visitor token: %w", err)
	}
	if !created {
		return nil
	}
	if err := g.store.UpsertConversation(ctx, *conv); err != nil {
		return fmt.Errorf("store visitor token: %w", err)
	}
	return nil
}

// SendInput posts a human turn without invoking the assistant.
type SendInput struct {
	ConversationID string
	Message        string
	SenderName     string
	VisitorToken   string
}

// SendMessage appends a visitor or admin turn to an existing conversation.
func (g *Gateway) SendMessage(ctx context.Context, caller chat.Caller, in SendInput) (chat.Message, error) {
	body, err := validateBody(in.Message)
	if err != nil {
		return chat.Message{}, err
	}
	if err := g.admit(ctx, caller, in.ConversationID); err != nil {
		return chat.Message{}, err
	}
	if err := g.screen(ctx, caller, in.ConversationID, body); err != nil {
		return chat.Message{}, err
	}
	conv, err := g.load(ctx, caller, in.ConversationID, in.VisitorToken)
	if err != nil {
		return chat.Message{}, err
	}
	if conv.Status == chat.StatusClosed && !caller.IsAdmin() {
		return chat.Message{}, validationError(msgClosed)
	}

	msg, err := g.store.AddMessage(ctx, chat.Message{
		ConversationID: conv.ID,
		Sender:         senderFor(caller),
		SenderName:     truncateName(in.SenderName),
		Body:           body,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("store message: %w", err)
	}
	return msg, nil
}

// GetMessages returns the conversation's turns oldest first.
func (g *Gateway) GetMessages(ctx context.Context, caller chat.Caller, conversationID, token string) ([]chat.Message, error) {
	conv, err := g.load(ctx, caller, conversationID, token)
	if err != nil {
		return nil, err
	}
	msgs, err := g.store.GetMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return msgs, nil
}

// MarkAsRead marks the counterpart's turns read and returns how many
// changed.
func (g *Gateway) MarkAsRead(ctx context.Context, caller chat.Caller, conversationID, token string) (int64, error) {
	conv, err := g.load(ctx, caller, conversationID, token)
	if err != nil {
		return 0, err
	}
	n, err := g.store.MarkMessagesRead(ctx, conv.ID, counterpartSenders(caller))
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// UnreadCount counts the counterpart's unread turns.
func (g *Gateway) UnreadCount(ctx context.Context, caller chat.Caller, conversationID, token string) (int64, error) {
	conv, err := g.load(ctx, caller, conversationID, token)
	if err != nil {
		return 0, err
	}
	n, err := g.store.GetUnreadCount(ctx, conv.ID, counterpartSenders(caller))
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// CloseConversation marks a conversation closed. Administrators only.
func (g *Gateway) CloseConversation(ctx context.Context, caller chat.Caller, conversationID string) error {
	if !caller.IsAdmin() {
		return unauthorized()
	}
	conv, err := g.load(ctx, caller, conversationID, "")
	if err != nil {
		return err
	}
	if conv.Status == chat.StatusClosed {
		return nil
	}
	conv.Status = chat.StatusClosed
	if err := g.store.UpsertConversation(ctx, conv); err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	g.record(ctx, caller, audit.ActionConversationClose, conversationResource(conv.ID), nil)
	return nil
}

func truncateName(name string) string {
	r := []rune(name)
	if len(r) > maxNameLength {
		r = r[:maxNameLength]
	}
	return string(r)
}
