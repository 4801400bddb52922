package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/concierge/internal/audit"
	"github.com/MikeSquared-Agency/concierge/internal/chat"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/ratelimit"
	"github.com/MikeSquared-Agency/concierge/internal/slack"
)

// AskInput is one question for the assistant. An empty ConversationID
// starts a new conversation. Providers reorders the provider list and is
// honored for administrators only.
type AskInput struct {
	ConversationID string
	Message        string
	VisitorName    string
	VisitorEmail   string
	VisitorToken   string
	Providers      []string
}

// Answer is the assistant's reply. Unavailable is set when no provider is
// configured; Response then holds the stored fallback text. VisitorToken is
// withheld from administrators.
type Answer struct {
	ConversationID string   `json:"conversation_id"`
	Response       string   `json:"response"`
	VisitorToken   string   `json:"visitor_token,omitempty"`
	Sources        []string `json:"sources,omitempty"`
	Unavailable    bool     `json:"unavailable,omitempty"`
}

// AskAssistant runs the full pipeline for one inbound message.
//
// Validation, admission, screening and authorization all happen before
// anything is stored. Once the inbound turn is stored every path stores an
// assistant turn after it, using a context that outlives the caller.
func (g *Gateway) AskAssistant(ctx context.Context, caller chat.Caller, in AskInput) (Answer, error) {
	body, err := validateBody(in.Message)
	if err != nil {
		return Answer{}, err
	}
	name, email, err := validateVisitor(in.VisitorName, in.VisitorEmail)
	if err != nil {
		return Answer{}, err
	}
	if err := g.admit(ctx, caller, in.ConversationID); err != nil {
		return Answer{}, err
	}
	if err := g.screen(ctx, caller, in.ConversationID, body); err != nil {
		return Answer{}, err
	}

	var conv chat.Conversation
	if in.ConversationID == "" {
		conv, err = g.create(ctx, caller, name, email)
		if err != nil {
			return Answer{}, err
		}
	} else {
		conv, err = g.load(ctx, caller, in.ConversationID, in.VisitorToken)
		if err != nil {
			return Answer{}, err
		}
		if conv.Status == chat.StatusClosed {
			return Answer{}, validationError(msgClosed)
		}
		if err := g.ensureToken(ctx, &conv); err != nil {
			return Answer{}, err
		}
	}

	inbound, err := g.store.AddMessage(ctx, chat.Message{
		ConversationID: conv.ID,
		Sender:         senderFor(caller),
		SenderName:     truncateName(name),
		Body:           body,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("store inbound turn: %w", err)
	}

	history, err := g.store.GetMessages(ctx, conv.ID, g.historyLimit)
	if err != nil {
		return Answer{}, g.fail(ctx, caller, conv, fmt.Errorf("load history: %w", err))
	}
	payload := g.assembler.Build(withoutMessage(history, inbound.ID), body)

	req := llm.Request{Messages: payload.Messages}
	if caller.IsAdmin() {
		req.Providers = in.Providers
	}

	answer := Answer{ConversationID: conv.ID}
	if !caller.IsAdmin() {
		answer.VisitorToken = conv.VisitorToken
	}
	for _, s := range payload.Sources {
		answer.Sources = append(answer.Sources, s.Citation)
	}

	resp, err := g.invoke(ctx, req)
	switch {
	case errors.Is(err, llm.ErrNoProviders):
		g.unconfigured.Do(func() {
			g.logger.Error("assistant unavailable: no model providers configured")
		})
		if _, err := g.reply(ctx, conv.ID, UnavailableReply); err != nil {
			return Answer{}, err
		}
		answer.Response = UnavailableReply
		answer.Sources = nil
		answer.Unavailable = true
		return answer, nil
	case err != nil:
		return Answer{}, g.fail(ctx, caller, conv, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Answer{}, g.fail(ctx, caller, conv, fmt.Errorf("provider %s returned an empty answer", resp.Provider))
	}
	if _, err := g.reply(ctx, conv.ID, text); err != nil {
		return Answer{}, err
	}

	g.logger.Info("assistant replied",
		"conversation_id", conv.ID,
		"provider", resp.Provider,
		"failed_attempts", len(resp.Failures),
		"history_included", payload.Included,
		"history_dropped", payload.Dropped,
	)
	g.record(ctx, caller, audit.ActionAssistantReply, conversationResource(conv.ID), map[string]any{
		"provider":        resp.Provider,
		"model":           resp.Model,
		"failed_attempts": len(resp.Failures),
		"input_tokens":    resp.Usage.InputTokens,
		"output_tokens":   resp.Usage.OutputTokens,
		"sources":         answer.Sources,
	})

	answer.Response = text
	return answer, nil
}

func (g *Gateway) invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if g.llm == nil {
		return nil, llm.ErrNoProviders
	}
	return g.llm.Invoke(ctx, req)
}

// reply stores an assistant turn even if the caller has gone away.
func (g *Gateway) reply(ctx context.Context, conversationID, text string) (chat.Message, error) {
	msg, err := g.store.AddMessage(context.WithoutCancel(ctx), chat.Message{
		ConversationID: conversationID,
		Sender:         chat.SenderAssistant,
		Body:           text,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("store assistant turn: %w", err)
	}
	return msg, nil
}

// fail stores the fallback turn, audits and alerts, and returns the
// caller-facing provider failure.
func (g *Gateway) fail(ctx context.Context, caller chat.Caller, conv chat.Conversation, cause error) error {
	var providers, rateLimited []string
	var agg *llm.AggregateError
	if errors.As(cause, &agg) {
		providers = agg.Providers()
		rateLimited = agg.RateLimited()
	}
	g.logger.Error("assistant failed", "conversation_id", conv.ID, "providers", providers, "error", cause)

	if _, err := g.reply(ctx, conv.ID, FallbackReply); err != nil {
		g.logger.Error("failed to store fallback turn", "conversation_id", conv.ID, "error", err)
	}
	g.record(ctx, caller, audit.ActionAssistantFailed, conversationResource(conv.ID), map[string]any{
		"providers":    providers,
		"rate_limited": rateLimited,
	})
	g.alert(ctx, conv.ID, providers, cause)

	return &Error{Kind: KindProviderFailure, Message: msgProviderFailure, Err: cause}
}

// alert notifies operators at most once per alert window.
func (g *Gateway) alert(ctx context.Context, conversationID string, providers []string, cause error) {
	if g.alerter == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if g.alertLimiter != nil {
		d, err := g.alertLimiter.Check(ctx, ratelimit.ClassAlert, alertKey)
		if err != nil || !d.Allowed {
			return
		}
	}
	_, err := g.alerter.PostAlert(ctx, slack.Alert{
		Title:          "Assistant providers exhausted",
		ConversationID: conversationID,
		Providers:      providers,
		Detail:         cause.Error(),
	})
	if err != nil {
		g.logger.Warn("operator alert failed", "error", err)
	}
}

func withoutMessage(history []chat.Message, id string) []chat.Message {
	out := history[:0:0]
	for _, m := range history {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
