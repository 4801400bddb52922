package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoProviders means no provider has a credential configured. It is an
// operational state, not a transient failure.
var ErrNoProviders = errors.New("llm: no providers configured")

// ErrInvalidRequest marks caller mistakes detected before dispatch.
var ErrInvalidRequest = errors.New("llm: invalid request")

// ProviderError is returned when a provider answers with a non-success
// status.
type ProviderError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm/%s: HTTP %d: %s: %s", err.Provider, err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm/%s: HTTP %d: %s", err.Provider, err.StatusCode, err.Message)
}

// IsRateLimited reports an HTTP 429 from the provider.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == 429
}

// Failure records one provider attempt that did not produce a response.
type Failure struct {
	Provider string
	Err      error
}

// AggregateError is returned when every provider failed.
type AggregateError struct {
	Failures []Failure
}

func (err *AggregateError) Error() string {
	parts := make([]string, len(err.Failures))
	for i, f := range err.Failures {
		parts[i] = f.Provider + ": " + f.Err.Error()
	}
	return fmt.Sprintf("llm: all %d providers failed: %s", len(err.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes each provider failure to errors.Is and errors.As.
func (err *AggregateError) Unwrap() []error {
	errs := make([]error, len(err.Failures))
	for i, f := range err.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Providers returns the IDs of the failed providers in attempt order.
func (err *AggregateError) Providers() []string {
	ids := make([]string, len(err.Failures))
	for i, f := range err.Failures {
		ids[i] = f.Provider
	}
	return ids
}

// RateLimited returns the IDs of providers that answered HTTP 429.
func (err *AggregateError) RateLimited() []string {
	var ids []string
	for _, f := range err.Failures {
		var perr *ProviderError
		if errors.As(f.Err, &perr) && perr.IsRateLimited() {
			ids = append(ids, f.Provider)
		}
	}
	return ids
}
