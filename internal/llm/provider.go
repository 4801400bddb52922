package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind selects the wire format a provider speaks.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

// defaultMaxTokens applies when neither the request nor the provider sets
// a ceiling.
const defaultMaxTokens = 1024

// ProviderConfig is one backend. Order in the configured list is priority.
type ProviderConfig struct {
	ID        string
	Kind      Kind
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	// SupportsThinking enables an extended reasoning budget on providers
	// whose wire format has one.
	SupportsThinking bool
	ThinkingBudget   int
}

func (p ProviderConfig) maxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return defaultMaxTokens
}

func (p ProviderConfig) endpoint(fallbackBase, path string) string {
	base := p.BaseURL
	if base == "" {
		base = fallbackBase
	}
	return strings.TrimRight(base, "/") + path
}

// postJSON sends wireRequest and decodes a 200 response into out. Non-200
// responses become a *ProviderError.
func postJSON(ctx context.Context, client *http.Client, providerID, endpoint string, headers map[string]string, wireRequest, out any) error {
	body, err := json.Marshal(wireRequest)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readProviderError(providerID, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// readProviderError parses the common {"error":{"type","message"}} body
// used by Anthropic, OpenAI and compatible APIs.
func readProviderError(providerID string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			Provider:   providerID,
			StatusCode: resp.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &ProviderError{
		Provider:   providerID,
		StatusCode: resp.StatusCode,
		Message:    string(body),
	}
}
