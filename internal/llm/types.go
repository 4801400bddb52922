// Package llm sends provider-agnostic chat requests to language-model
// backends and fails over between them.
//
// Providers are plain configuration records iterated in priority order.
// Each record's Kind selects the wire translator; adding a provider that
// speaks an existing wire format is a configuration change only.
package llm

import (
	"encoding/json"
	"strings"
)

// Role of a message in the provider-agnostic schema.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
)

// ContentPart is one piece of multi-part content.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// Message is a provider-agnostic conversation message. ToolCallID is set
// on RoleTool messages; ToolCalls on assistant messages that invoked tools.
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content"`
	Name       string        `json:"name,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
}

// Text builds a single-part text message.
func Text(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{{Type: PartText, Text: text}}}
}

// PlainText joins the message's text parts with newlines.
func (m Message) PlainText() string {
	var parts []string
	for _, p := range m.Content {
		if p.Type == PartText {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// singleText reports whether the content is exactly one text part.
func (m Message) singleText() (string, bool) {
	if len(m.Content) == 1 && m.Content[0].Type == PartText {
		return m.Content[0].Text, true
	}
	return "", false
}

// Tool declares a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolChoiceMode controls whether and which tools the model must call.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceTool     ToolChoiceMode = "tool"
)

// ToolChoice is the caller's tool selection. Name is used with
// ToolChoiceTool.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Name string         `json:"name,omitempty"`
}

// Request is a provider-agnostic completion request. MaxTokens of zero
// uses each provider's default ceiling. Providers, when set, moves the
// named provider IDs to the front of the priority order.
type Request struct {
	Messages    []Message
	Tools       []Tool
	ToolChoice  *ToolChoice
	MaxTokens   int
	Temperature *float64
	Providers   []string
}

// Usage reports token accounting from the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the first successful provider's structured answer. Failures
// lists the providers that were tried and failed before it.
type Response struct {
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
	Failures   []Failure  `json:"-"`
}
