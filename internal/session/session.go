// Package session issues and verifies the capability token that lets an
// anonymous visitor keep access to their conversation.
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/MikeSquared-Agency/concierge/internal/chat"
)

// tokenBytes is the entropy of a visitor token; the encoded token is twice
// as long.
const tokenBytes = 32

// NewToken returns a fresh random token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate visitor token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// EnsureToken sets a token on conv if it has none. It reports whether a
// token was generated, in which case the caller must persist conv.
// An existing token is never replaced.
func EnsureToken(conv *chat.Conversation) (string, bool, error) {
	if conv.VisitorToken != "" {
		return conv.VisitorToken, false, nil
	}
	token, err := NewToken()
	if err != nil {
		return "", false, err
	}
	conv.VisitorToken = token
	return token, true, nil
}

// Verify reports whether presented matches the conversation's token. Empty
// or length-mismatched tokens fail before the constant-time comparison runs.
func Verify(conv chat.Conversation, presented string) bool {
	stored := conv.VisitorToken
	if stored == "" || presented == "" {
		return false
	}
	if len(stored) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// Authorize decides whether caller may act on conv. Administrators and the
// owning account are always authorized; everyone else needs the token.
func Authorize(caller chat.Caller, conv chat.Conversation, presented string) bool {
	if caller.IsAdmin() {
		return true
	}
	if caller.AccountID != "" && conv.OwnerID != "" && caller.AccountID == conv.OwnerID {
		return true
	}
	return Verify(conv, presented)
}
