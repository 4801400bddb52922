// Package audit defines audit entries and the sinks that receive them.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Actions recorded by the gateway.
const (
	ActionSensitiveBlocked   = "sensitive_content.blocked"
	ActionConversationCreate = "conversation.created"
	ActionConversationClose  = "conversation.closed"
	ActionAssistantReply     = "assistant.replied"
	ActionAssistantFailed    = "assistant.failed"
	ActionAuthorizationDeny  = "authorization.denied"
)

// Entry is one audit record. Metadata must never carry message bodies or
// raw sensitive values.
type Entry struct {
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorEmail string         `json:"actor_email,omitempty"`
	Resource   string         `json:"resource"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	At         time.Time      `json:"at"`
}

// Recorder receives audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// LogRecorder writes entries to a structured logger.
type LogRecorder struct {
	logger *slog.Logger
}

func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(ctx context.Context, e Entry) error {
	attrs := []any{
		"action", e.Action,
		"resource", e.Resource,
		"at", e.At,
	}
	if e.ActorID != "" {
		attrs = append(attrs, "actor_id", e.ActorID)
	}
	if len(e.Metadata) > 0 {
		attrs = append(attrs, "metadata", e.Metadata)
	}
	r.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}
