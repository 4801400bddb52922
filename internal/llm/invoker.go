package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Invoker tries providers sequentially until one succeeds. Providers are
// never called in parallel.
type Invoker struct {
	providers []ProviderConfig
	client    *http.Client
	timeout   time.Duration
	logger    *slog.Logger
}

// NewInvoker builds an invoker over providers in priority order. Providers
// without an API key are dropped. timeout bounds each provider call.
func NewInvoker(providers []ProviderConfig, timeout time.Duration, logger *slog.Logger) *Invoker {
	configured := make([]ProviderConfig, 0, len(providers))
	for _, p := range providers {
		if p.APIKey == "" {
			continue
		}
		configured = append(configured, p)
	}
	return &Invoker{
		providers: configured,
		client:    &http.Client{},
		timeout:   timeout,
		logger:    logger,
	}
}

// Providers returns the IDs of configured providers in priority order.
func (inv *Invoker) Providers() []string {
	ids := make([]string, len(inv.providers))
	for i, p := range inv.providers {
		ids[i] = p.ID
	}
	return ids
}

// Invoke returns the first successful provider response. It fails with
// ErrNoProviders when nothing is configured, with an error wrapping
// ErrInvalidRequest for caller mistakes, and with *AggregateError when
// every provider failed.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrInvalidRequest)
	}
	choice, err := NormalizeToolChoice(req.ToolChoice, req.Tools)
	if err != nil {
		return nil, err
	}
	req.ToolChoice = choice

	order := inv.order(req.Providers)
	if len(order) == 0 {
		return nil, ErrNoProviders
	}

	var failures []Failure
	for _, p := range order {
		if err := ctx.Err(); err != nil {
			failures = append(failures, Failure{Provider: p.ID, Err: err})
			break
		}

		start := time.Now()
		resp, err := inv.call(ctx, p, req)
		if err != nil {
			inv.logger.Warn("llm provider failed",
				"provider", p.ID,
				"model", p.Model,
				"duration_ms", time.Since(start).Milliseconds(),
				"rate_limited", isRateLimited(err),
				"error", err,
			)
			failures = append(failures, Failure{Provider: p.ID, Err: err})
			continue
		}

		inv.logger.Info("llm provider answered",
			"provider", p.ID,
			"model", resp.Model,
			"duration_ms", time.Since(start).Milliseconds(),
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"failed_before", len(failures),
		)
		resp.Failures = failures
		return resp, nil
	}

	return nil, &AggregateError{Failures: failures}
}

func (inv *Invoker) call(ctx context.Context, p ProviderConfig, req Request) (*Response, error) {
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}
	switch p.Kind {
	case KindAnthropic:
		return completeAnthropic(ctx, inv.client, p, req)
	case KindOpenAI, "":
		return completeOpenAI(ctx, inv.client, p, req)
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", p.Kind)
	}
}

// order moves providers named in preferred to the front, keeping the
// configured order for the rest. Unknown names are ignored.
func (inv *Invoker) order(preferred []string) []ProviderConfig {
	if len(preferred) == 0 {
		return inv.providers
	}
	out := make([]ProviderConfig, 0, len(inv.providers))
	used := make(map[string]bool, len(inv.providers))
	for _, id := range preferred {
		for _, p := range inv.providers {
			if p.ID == id && !used[id] {
				out = append(out, p)
				used[id] = true
			}
		}
	}
	for _, p := range inv.providers {
		if !used[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeToolChoice validates the caller's tool choice against the
// declared tools. "required" is only accepted with exactly one tool and is
// rewritten to an explicit selection of that tool.
func NormalizeToolChoice(choice *ToolChoice, tools []Tool) (*ToolChoice, error) {
	if choice == nil {
		return nil, nil
	}
	switch choice.Mode {
	case ToolChoiceRequired:
		if len(tools) != 1 {
			return nil, fmt.Errorf("%w: tool choice \"required\" needs exactly one tool, got %d", ErrInvalidRequest, len(tools))
		}
		return &ToolChoice{Mode: ToolChoiceTool, Name: tools[0].Name}, nil
	case ToolChoiceTool:
		for _, t := range tools {
			if t.Name == choice.Name {
				return choice, nil
			}
		}
		return nil, fmt.Errorf("%w: tool %q is not declared", ErrInvalidRequest, choice.Name)
	case ToolChoiceAuto, ToolChoiceNone, "":
		return choice, nil
	default:
		return nil, fmt.Errorf("%w: unknown tool choice %q", ErrInvalidRequest, choice.Mode)
	}
}

func isRateLimited(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.IsRateLimited()
}
