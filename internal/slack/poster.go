// Package slack posts operator alerts to a Slack channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// Alert is an operator notification about a degraded conversation.
type Alert struct {
	Title          string
	ConversationID string
	Providers      []string
	Detail         string
}

// PostAlert posts a to the alerts channel and returns the message ts.
func (p *Poster) PostAlert(ctx context.Context, a Alert) (string, error) {
	text := formatAlert(a)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted alert to slack", "ts", slackResp.TS, "conversation_id", a.ConversationID)
	return slackResp.TS, nil
}

func formatAlert(a Alert) string {
	var sb strings.Builder

	title := a.Title
	if title == "" {
		title = "Assistant unavailable"
	}
	fmt.Fprintf(&sb, ":rotating_light: *%s*\n", title)
	if a.ConversationID != "" {
		fmt.Fprintf(&sb, "*Conversation:* %s\n", a.ConversationID)
	}
	if len(a.Providers) > 0 {
		fmt.Fprintf(&sb, "*Providers tried:* %s\n", strings.Join(a.Providers, ", "))
	}
	if a.Detail != "" {
		fmt.Fprintf(&sb, "```%s```", a.Detail)
	}
	return strings.TrimRight(sb.String(), "\n")
}
