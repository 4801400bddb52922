// Package gateway runs the conversation pipeline: admission, content
// screening, visitor authorization, persistence, context assembly and
// model invocation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/concierge/internal/audit"
	"github.com/MikeSquared-Agency/concierge/internal/chat"
	"github.com/MikeSquared-Agency/concierge/internal/guard"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/prompt"
	"github.com/MikeSquared-Agency/concierge/internal/ratelimit"
	"github.com/MikeSquared-Agency/concierge/internal/session"
	"github.com/MikeSquared-Agency/concierge/internal/slack"
	"github.com/MikeSquared-Agency/concierge/internal/store"
)

// Replies persisted when no model answer is available.
const (
	FallbackReply    = "Sorry, I could not answer just now. Please try again in a moment, or wait for a member of our team to reply."
	UnavailableReply = "The assistant is not available at the moment. A member of our team will reply here as soon as possible."
)

const (
	maxNameLength  = 120
	maxEmailLength = 254
	alertKey       = "providers-exhausted"
)

// Storage is the persistence collaborator.
type Storage interface {
	CreateConversation(ctx context.Context, c chat.Conversation) (chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	UpsertConversation(ctx context.Context, c chat.Conversation) error
	AddMessage(ctx context.Context, m chat.Message) (chat.Message, error)
	GetMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID string, senders []chat.SenderKind) (int64, error)
	GetUnreadCount(ctx context.Context, conversationID string, senders []chat.SenderKind) (int64, error)
}

// Invoker dispatches a request to the configured model providers.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
	Providers() []string
}

// Admitter decides whether a request may proceed.
type Admitter interface {
	Check(ctx context.Context, class ratelimit.Class, key string) (ratelimit.Decision, error)
}

// Alerter notifies operators.
type Alerter interface {
	PostAlert(ctx context.Context, a slack.Alert) (string, error)
}

// Deps are the collaborators of a Gateway. Alerter and AlertLimiter are
// optional; Audit defaults to discarding entries.
type Deps struct {
	Store        Storage
	Limiter      Admitter
	Guard        *guard.Scanner
	Assembler    *prompt.Assembler
	Invoker      Invoker
	Audit        audit.Recorder
	Alerter      Alerter
	AlertLimiter Admitter
	// HistoryLimit caps how many stored turns are loaded per request.
	// Zero loads the whole conversation.
	HistoryLimit int
}

type Gateway struct {
	store        Storage
	limiter      Admitter
	guard        *guard.Scanner
	assembler    *prompt.Assembler
	llm          Invoker
	audit        audit.Recorder
	alerter      Alerter
	alertLimiter Admitter
	historyLimit int
	logger       *slog.Logger
	now          func() time.Time

	unconfigured sync.Once
}

func New(deps Deps, logger *slog.Logger) *Gateway {
	g := &Gateway{
		store:        deps.Store,
		limiter:      deps.Limiter,
		guard:        deps.Guard,
		assembler:    deps.Assembler,
		llm:          deps.Invoker,
		audit:        deps.Audit,
		alerter:      deps.Alerter,
		alertLimiter: deps.AlertLimiter,
		historyLimit: deps.HistoryLimit,
		logger:       logger,
		now:          time.Now,
	}
	if g.guard == nil {
		g.guard = guard.NewDefault()
	}
	if g.assembler == nil {
		g.assembler = prompt.New("", nil, prompt.Options{})
	}
	return g
}

// Providers lists the configured provider IDs in priority order.
func (g *Gateway) Providers() []string {
	if g.llm == nil {
		return nil
	}
	return g.llm.Providers()
}

// validateBody trims body and enforces the length limits.
func validateBody(body string) (string, error) {
	trimmed, n := chat.NormalizeBody(body)
	if n < chat.MinBodyLength {
		return "", validationError("Message must not be empty.")
	}
	if n > chat.MaxBodyLength {
		return "", validationError(fmt.Sprintf("Message must be at most %d characters.", chat.MaxBodyLength))
	}
	return trimmed, nil
}

func validateVisitor(name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", "", validationError(fmt.Sprintf("Name must be at most %d characters.", maxNameLength))
	}
	if email != "" && (len(email) > maxEmailLength || !strings.Contains(email, "@")) {
		return "", "", validationError("Email address is not valid.")
	}
	return name, email, nil
}

func classFor(caller chat.Caller) ratelimit.Class {
	switch {
	case caller.IsAdmin():
		return ratelimit.ClassAdmin
	case caller.Authenticated():
		return ratelimit.ClassMember
	default:
		return ratelimit.ClassVisitor
	}
}

// admit consults the limiter. The limiter only errors when a class has no
// rule, which is a deployment fault reported as KindConfiguration.
func (g *Gateway) admit(ctx context.Context, caller chat.Caller, conversationID string) error {
	if g.limiter == nil {
		return nil
	}
	key := ratelimit.Key(ratelimit.Identity{
		AccountID:      caller.AccountID,
		VerifiedEmail:  strings.ToLower(caller.Email),
		ConversationID: conversationID,
		RemoteAddr:     caller.RemoteAddr,
	})
	d, err := g.limiter.Check(ctx, classFor(caller), key)
	if err != nil {
		g.logger.Error("rate limiter misconfigured", "class", classFor(caller), "error", err)
		return &Error{Kind: KindConfiguration, Message: msgUnavailable, Err: err}
	}
	if !d.Allowed {
		g.logger.Info("rate limited", "class", classFor(caller), "count", d.Count, "limit", d.Limit)
		return &Error{Kind: KindRateLimit, Message: msgRateLimited, RetryAfter: d.RetryAfter}
	}
	return nil
}

// screen runs the sensitive content guard for non-admin callers and audits
// any hit.
func (g *Gateway) screen(ctx context.Context, caller chat.Caller, conversationID, body string) error {
	if caller.IsAdmin() {
		return nil
	}
	m, found := g.guard.Scan(body)
	if !found {
		return nil
	}
	g.logger.Warn("sensitive content blocked", "category", m.Category, "conversation_id", conversationID)
	g.record(ctx, caller, audit.ActionSensitiveBlocked, conversationResource(conversationID), map[string]any{
		"category": m.Category,
		"sample":   m.Sample,
	})
	return &Error{
		Kind:    KindSensitiveContent,
		Message: fmt.Sprintf("Your message appears to contain %s. Please remove it and send the message again.", categoryLabel(m.Category)),
	}
}

func categoryLabel(category string) string {
	switch category {
	case guard.CategoryNationalID:
		return "a national identification number"
	case guard.CategoryIBAN:
		return "a bank account number (IBAN)"
	case guard.CategoryPaymentCard:
		return "a payment card number"
	default:
		return "sensitive personal data"
	}
}

// load fetches a conversation and authorizes caller against it.
func (g *Gateway) load(ctx context.Context, caller chat.Caller, id, token string) (chat.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return chat.Conversation{}, validationError("Conversation ID is required.")
	}
	conv, err := g.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return chat.Conversation{}, &Error{Kind: KindNotFound, Message: msgNotFound, Err: err}
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("get conversation %s: %w", id, err)
	}
	if !session.Authorize(caller, conv, token) {
		g.record(ctx, caller, audit.ActionAuthorizationDeny, conversationResource(id), nil)
		return chat.Conversation{}, unauthorized()
	}
	return conv, nil
}

// record writes an audit entry. Failures are logged, never returned.
func (g *Gateway) record(ctx context.Context, caller chat.Caller, action, resource string, meta map[string]any) {
	if g.audit == nil {
		return
	}
	e := audit.Entry{
		Action:     action,
		ActorID:    caller.AccountID,
		ActorEmail: caller.Email,
		Resource:   resource,
		Metadata:   meta,
		At:         g.now().UTC(),
	}
	if err := g.audit.Record(context.WithoutCancel(ctx), e); err != nil {
		g.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func conversationResource(id string) string {
	if id == "" {
		return "conversation/new"
	}
	return "conversation/" + id
}

func senderFor(caller chat.Caller) chat.SenderKind {
	if caller.IsAdmin() {
		return chat.SenderAdmin
	}
	return chat.SenderVisitor
}

// counterpartSenders are the turns a caller reads: admins read visitor
// turns, everyone else reads the support side.
func counterpartSenders(caller chat.Caller) []chat.SenderKind {
	if caller.IsAdmin() {
		return []chat.SenderKind{chat.SenderVisitor}
	}
	return []chat.SenderKind{chat.SenderAdmin, chat.SenderAssistant}
}
