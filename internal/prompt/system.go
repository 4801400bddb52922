package prompt

import (
	"fmt"
	"os"
	"strings"
)

// DefaultSystemPrompt is used when no policy prompt file is configured.
const DefaultSystemPrompt = `You are a support assistant for an EU consumer-rights service.
Answer in the language the visitor writes in. Be concise and practical.
You give general information, not legal advice. When a case needs a
lawyer or an authority, say so and explain the next step.
Never ask the visitor for identity numbers, bank details or card numbers.`

// LoadSystemPrompt reads the policy prompt from path, or returns the
// default when path is empty.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("system prompt %s is empty", path)
	}
	return text, nil
}
