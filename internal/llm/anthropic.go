package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	anthropicDefaultBase = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	ToolChoice  *anthropicChoice   `json:"tool_choice,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

// anthropicMessage.Content is a bare string for single-text content and a
// block array otherwise.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *anthropicImage `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicImage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func completeAnthropic(ctx context.Context, client *http.Client, p ProviderConfig, req Request) (*Response, error) {
	wire := buildAnthropicRequest(p, req)
	headers := map[string]string{
		"x-api-key":         p.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var out anthropicResponse
	if err := postJSON(ctx, client, p.ID, p.endpoint(anthropicDefaultBase, "/v1/messages"), headers, wire, &out); err != nil {
		return nil, err
	}

	resp := &Response{
		Provider:   p.ID,
		Model:      out.Model,
		StopReason: out.StopReason,
		Usage: Usage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
		},
	}
	var text []string
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	resp.Text = strings.Join(text, "")
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return nil, fmt.Errorf("empty response content")
	}
	if resp.Model == "" {
		resp.Model = p.Model
	}
	return resp, nil
}

func buildAnthropicRequest(p ProviderConfig, req Request) anthropicRequest {
	wire := anthropicRequest{
		Model:       p.Model,
		MaxTokens:   p.maxTokens(req.MaxTokens),
		Temperature: req.Temperature,
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.PlainText())
			continue
		}
		wire.Messages = append(wire.Messages, toAnthropicMessage(m))
	}
	wire.System = strings.Join(system, "\n\n")

	for _, t := range req.Tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		wire.Tools = append(wire.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	if len(wire.Tools) > 0 && req.ToolChoice != nil {
		wire.ToolChoice = anthropicToolChoice(*req.ToolChoice)
	}

	if p.SupportsThinking && p.ThinkingBudget > 0 {
		wire.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: p.ThinkingBudget}
		// The answer budget is on top of the thinking budget.
		if wire.MaxTokens <= p.ThinkingBudget {
			wire.MaxTokens = p.ThinkingBudget + defaultMaxTokens
		}
		// Extended thinking rejects a caller-set temperature.
		wire.Temperature = nil
	}
	return wire
}

func toAnthropicMessage(m Message) anthropicMessage {
	if m.Role == RoleTool {
		return anthropicMessage{
			Role: "user",
			Content: []anthropicBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.PlainText(),
			}},
		}
	}

	role := "user"
	if m.Role == RoleAssistant {
		role = "assistant"
	}

	if text, ok := m.singleText(); ok && len(m.ToolCalls) == 0 {
		return anthropicMessage{Role: role, Content: text}
	}

	blocks := make([]anthropicBlock, 0, len(m.Content)+len(m.ToolCalls))
	for _, p := range m.Content {
		switch p.Type {
		case PartImage:
			blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicImage{Type: "url", URL: p.ImageURL}})
		default:
			blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
		}
	}
	for _, tc := range m.ToolCalls {
		input := tc.Arguments
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}
	return anthropicMessage{Role: role, Content: blocks}
}

func anthropicToolChoice(tc ToolChoice) *anthropicChoice {
	switch tc.Mode {
	case ToolChoiceTool:
		return &anthropicChoice{Type: "tool", Name: tc.Name}
	case ToolChoiceNone:
		return &anthropicChoice{Type: "none"}
	case ToolChoiceRequired:
		return &anthropicChoice{Type: "any"}
	default:
		return &anthropicChoice{Type: "auto"}
	}
}
