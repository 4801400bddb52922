package gateway

import (
	"errors"
	"time"
)

// Kind classifies gateway errors for the transport layer.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindRateLimit        Kind = "rate_limit"
	KindAuthorization    Kind = "authorization"
	KindSensitiveContent Kind = "sensitive_content"
	KindNotFound         Kind = "not_found"
	KindProviderFailure  Kind = "provider_failure"
	KindConfiguration    Kind = "configuration"
)

// Error is returned by every gateway operation that rejects a request.
// Message is safe to show to the caller; Err carries detail for logs only.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first gateway Error in err's chain, or ""
// when there is none.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// Caller-facing messages. Authorization failures never say why.
const (
	msgUnauthorized    = "You are not allowed to access this conversation."
	msgNotFound        = "Conversation not found."
	msgRateLimited     = "Too many messages. Please wait before sending another."
	msgProviderFailure = "The assistant could not answer right now. Please try again."
	msgClosed          = "This conversation is closed."
	msgUnavailable     = "The assistant is not available right now."
)

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func unauthorized() *Error {
	return &Error{Kind: KindAuthorization, Message: msgUnauthorized}
}
