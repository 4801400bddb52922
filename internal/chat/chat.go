// Package chat holds the conversation domain types shared by the gateway,
// the storage layer and the context assembler.
package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SenderKind identifies who authored a turn.
type SenderKind string

const (
	SenderAdmin     SenderKind = "admin"
	SenderVisitor   SenderKind = "visitor"
	SenderAssistant SenderKind = "assistant"
)

// Status of a conversation.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Message body limits, counted in characters (runes) after trimming.
const (
	MinBodyLength = 1
	MaxBodyLength = 1200
)

// Conversation is referenced by value; the storage layer owns it.
// VisitorToken is issued once and never regenerated.
type Conversation struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id,omitempty"`
	VisitorName  string    `json:"visitor_name,omitempty"`
	VisitorEmail string    `json:"visitor_email,omitempty"`
	VisitorToken string    `json:"-"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one append-only turn. Only Read may change after creation.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Sender         SenderKind `json:"sender"`
	SenderName     string     `json:"sender_name,omitempty"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"created_at"`
	Read           bool       `json:"read"`
}

// Role is the privilege class of a caller.
type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleMember    Role = "member"
	RoleAdmin     Role = "admin"
)

// Caller describes who is making a request, as asserted by the outer layer.
type Caller struct {
	AccountID  string
	Email      string
	Role       Role
	RemoteAddr string
}

// IsAdmin reports whether the caller holds the administrator role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// Authenticated reports whether the caller has an account.
func (c Caller) Authenticated() bool { return c.AccountID != "" }

// NormalizeBody trims surrounding whitespace and returns the body together
// with its length in characters.
func NormalizeBody(body string) (string, int) {
	trimmed := strings.TrimSpace(body)
	return trimmed, utf8.RuneCountInString(trimmed)
}
