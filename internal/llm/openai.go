package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const openaiDefaultBase = "https://api.openai.com/v1"

// OpenAI-compatible chat completions wire types. DeepSeek, OpenRouter and
// most self-hosted servers accept the same shape.
type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  any             `json:"tool_choice,omitempty"`
}

// openaiMessage.Content is a bare string for single-text content, an array
// of parts for multi-part content, and null for tool-call-only turns.
type openaiMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string               `json:"type"`
	Function openaiToolDefinition `json:"function"`
}

type openaiToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   *string          `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func completeOpenAI(ctx context.Context, client *http.Client, p ProviderConfig, req Request) (*Response, error) {
	wire := buildOpenAIRequest(p, req)
	headers := map[string]string{"Authorization": "Bearer " + p.APIKey}

	var out openaiResponse
	if err := postJSON(ctx, client, p.ID, p.endpoint(openaiDefaultBase, "/chat/completions"), headers, wire, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty response choices")
	}

	choice := out.Choices[0]
	resp := &Response{
		Provider:   p.ID,
		Model:      out.Model,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != nil {
		resp.Text = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return nil, fmt.Errorf("empty response content")
	}
	if resp.Model == "" {
		resp.Model = p.Model
	}
	return resp, nil
}

func buildOpenAIRequest(p ProviderConfig, req Request) openaiRequest {
	wire := openaiRequest{
		Model:       p.Model,
		MaxTokens:   p.maxTokens(req.MaxTokens),
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, toOpenAIMessage(m))
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, openaiTool{
			Type: "function",
			Function: openaiToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(wire.Tools) > 0 && req.ToolChoice != nil {
		wire.ToolChoice = openaiToolChoice(*req.ToolChoice)
	}
	return wire
}

func toOpenAIMessage(m Message) openaiMessage {
	wire := openaiMessage{Role: string(m.Role), Name: m.Name}

	if m.Role == RoleTool {
		wire.Content = m.PlainText()
		wire.ToolCallID = m.ToolCallID
		return wire
	}

	if text, ok := m.singleText(); ok {
		wire.Content = text
	} else if len(m.Content) > 0 {
		parts := make([]openaiPart, 0, len(m.Content))
		for _, p := range m.Content {
			switch p.Type {
			case PartImage:
				parts = append(parts, openaiPart{Type: "image_url", ImageURL: &openaiImageURL{URL: p.ImageURL}})
			default:
				parts = append(parts, openaiPart{Type: "text", Text: p.Text})
			}
		}
		wire.Content = parts
	}

	for _, tc := range m.ToolCalls {
		wire.ToolCalls = append(wire.ToolCalls, openaiToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: openaiToolFunction{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return wire
}

func openaiToolChoice(tc ToolChoice) any {
	switch tc.Mode {
	case ToolChoiceTool:
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		}
	case ToolChoiceNone, ToolChoiceRequired:
		return string(tc.Mode)
	default:
		return string(ToolChoiceAuto)
	}
}
