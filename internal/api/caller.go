package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/MikeSquared-Agency/concierge/internal/chat"
)

// Identity headers set by the trusted front end. They are honored only
// when the request carries the API bearer token.
const (
	HeaderAccountID    = "X-Account-Id"
	HeaderAccountEmail = "X-Account-Email"
	HeaderAccountRole  = "X-Account-Role"
	HeaderVisitorToken = "X-Visitor-Token"
)

type callerKey struct{}

// CallerMiddleware resolves the chat.Caller for each request. Without a
// valid bearer token every caller is an anonymous visitor identified by
// address; a wrong bearer token is rejected. Forwarding headers are read
// only from peers inside trustedProxies.
func CallerMiddleware(apiToken string, trustedProxies []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := chat.Caller{Role: chat.RoleAnonymous, RemoteAddr: clientAddr(r, trustedProxies)}

			if bearer, ok := bearerToken(r); ok {
				if apiToken == "" || subtle.ConstantTimeCompare([]byte(bearer), []byte(apiToken)) != 1 {
					writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
					return
				}
				caller.AccountID = strings.TrimSpace(r.Header.Get(HeaderAccountID))
				caller.Email = strings.TrimSpace(r.Header.Get(HeaderAccountEmail))
				caller.Role = roleFor(r.Header.Get(HeaderAccountRole), caller.AccountID)
			}

			ctx := context.WithValue(r.Context(), callerKey{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFrom returns the caller resolved by CallerMiddleware.
func CallerFrom(ctx context.Context) chat.Caller {
	if c, ok := ctx.Value(callerKey{}).(chat.Caller); ok {
		return c
	}
	return chat.Caller{Role: chat.RoleAnonymous}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func roleFor(header, accountID string) chat.Role {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case string(chat.RoleAdmin):
		return chat.RoleAdmin
	}
	if accountID != "" {
		return chat.RoleMember
	}
	return chat.RoleAnonymous
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// ParseTrustedProxies accepts CIDR prefixes and bare addresses.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// clientAddr is the peer address unless the peer is a trusted proxy. Then
// it is the right-most X-Forwarded-For hop that is not itself trusted, or
// X-Real-IP when there is no X-Forwarded-For.
func clientAddr(r *http.Request, trusted []netip.Prefix) string {
	peer := remoteHost(r.RemoteAddr)
	if !isTrusted(peer, trusted) {
		return peer
	}
	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !isTrusted(hop, trusted) {
				return hop
			}
		}
		return peer
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	return peer
}

func isTrusted(addr string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// visitorToken prefers the header over the query string.
func visitorToken(r *http.Request) string {
	if t := r.Header.Get(HeaderVisitorToken); t != "" {
		return t
	}
	return r.URL.Query().Get("visitor_token")
}
