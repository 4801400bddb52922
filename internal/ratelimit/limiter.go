// Package ratelimit implements fixed-window admission control keyed by
// caller identity. Counters live in a Store so single-instance deployments
// can keep them in memory while multi-instance ones share them in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store performs the increment-or-reset of one window counter. The
// operation must be atomic per key: if the window for key has expired (or
// never existed) the counter restarts at 1 with windowStart = now.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error)
}

// Window is the state of a counter after an increment.
type Window struct {
	Start time.Time
	Count int64
}

// Class selects the per-caller limit.
type Class string

const (
	ClassVisitor Class = "visitor"
	ClassMember  Class = "member"
	ClassAdmin   Class = "admin"

	// ClassAlert throttles operator alerts rather than callers.
	ClassAlert Class = "alert"
)

// Rule is the number of requests allowed per window.
type Rule struct {
	Window time.Duration
	Max    int64
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	RetryAfter time.Duration
}

type Limiter struct {
	store  Store
	rules  map[Class]Rule
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, rules map[Class]Rule, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		rules:  rules,
		logger: logger,
		now:    time.Now,
	}
}

// Check counts one request against key under the rule for class. A failing
// counter store admits the request.
func (l *Limiter) Check(ctx context.Context, class Class, key string) (Decision, error) {
	rule, ok := l.rules[class]
	if !ok {
		return Decision{}, fmt.Errorf("no rate rule for class %q", class)
	}
	if rule.Max <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true, Limit: rule.Max}, nil
	}

	now := l.now()
	w, err := l.store.Increment(ctx, string(class)+":"+key, rule.Window, now)
	if err != nil {
		l.logger.Warn("rate limit store failed, admitting request", "class", class, "error", err)
		return Decision{Allowed: true, Limit: rule.Max}, nil
	}

	d := Decision{
		Allowed: w.Count <= rule.Max,
		Count:   w.Count,
		Limit:   rule.Max,
	}
	if !d.Allowed {
		d.RetryAfter = w.Start.Add(rule.Window).Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}

// Identity carries the fields a rate key may be derived from.
type Identity struct {
	AccountID      string
	VerifiedEmail  string
	ConversationID string
	RemoteAddr     string
}

// Key derives the rate key. The first available field wins, so omitting
// optional fields only ever falls back to a coarser key.
func Key(id Identity) string {
	switch {
	case id.AccountID != "":
		return "user:" + id.AccountID
	case id.VerifiedEmail != "":
		return "email:" + id.VerifiedEmail
	case id.ConversationID != "":
		return "conv:" + id.ConversationID
	case id.RemoteAddr != "":
		return "ip:" + id.RemoteAddr
	default:
		return "ip:unknown"
	}
}
