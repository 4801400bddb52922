package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/gateway"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/prompt"
	"github.com/MikeSquared-Agency/concierge/internal/ratelimit"
	"github.com/MikeSquared-Agency/concierge/internal/store"
)

const testAPIToken = "front-end-secret"

type stubInvoker struct {
	resp *llm.Response
	err  error
}

func (s *stubInvoker) Invoke(context.Context, llm.Request) (*llm.Response, error) {
	return s.resp, s.err
}

func (s *stubInvoker) Providers() []string { return []string{"alpha", "beta"} }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, inv *stubInvoker, visitorMax int64) *Server {
	t.Helper()
	return newServerWithRules(t, inv, map[ratelimit.Class]ratelimit.Rule{
		ratelimit.ClassVisitor: {Window: time.Minute, Max: visitorMax},
		ratelimit.ClassMember:  {Window: time.Minute, Max: 100},
		ratelimit.ClassAdmin:   {Window: time.Minute, Max: 100},
	}, nil)
}

func newServerWithRules(t *testing.T, inv *stubInvoker, rules map[ratelimit.Class]ratelimit.Rule, proxies []netip.Prefix) *Server {
	t.Helper()
	logger := discardLogger()
	gw := gateway.New(gateway.Deps{
		Store:     store.NewMemory(),
		Limiter:   ratelimit.New(ratelimit.NewMemoryStore(), rules, logger),
		Assembler: prompt.New("test policy", nil, prompt.Options{}),
		Invoker:   inv,
	}, logger)
	return NewServer(8760, testAPIToken, proxies, gw, logger)
}

func okInvoker() *stubInvoker {
	return &stubInvoker{resp: &llm.Response{Provider: "alpha", Text: "Happy to help."}}
}

func do(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func adminHeaders() map[string]string {
	return map[string]string{
		"Authorization":    "Bearer " + testAPIToken,
		HeaderAccountID:    "admin-1",
		HeaderAccountEmail: "ops@example.com",
		HeaderAccountRole:  "admin",
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 10)

	w := do(t, srv, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["providers"] != float64(2) {
		t.Errorf("expected 2 providers, got %v", body["providers"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 10)

	w := do(t, srv, "GET", "/nonexistent", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCreateConversation(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 10)

	w := do(t, srv, "POST", "/api/v1/conversations", `{"visitor_name":"Eva"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["conversation_id"] == "" || body["visitor_token"] == "" {
		t.Errorf("expected id and token, got %v", body)
	}
}

func TestAskAndReadBack(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 10)

	w := do(t, srv, "POST", "/api/v1/assistant/ask", `{"message":"Hello there"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ans := decodeBody(t, w)
	if ans["response"] != "Happy to help." {
		t.Errorf("expected model text, got %v", ans["response"])
	}
	id, _ := ans["conversation_id"].(string)
	token, _ := ans["visitor_token"].(string)

	w = do(t, srv, "GET", "/api/v1/conversations/"+id+"/messages", "", map[string]string{HeaderVisitorToken: token})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Messages []map[string]any `json:"messages"`
	}
	json.NewDecoder(w.Body).Decode(&list)
	if len(list.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(list.Messages))
	}
	if _, ok := list.Messages[0]["visitor_token"]; ok {
		t.Error("expected messages not to expose the token")
	}

	w = do(t, srv, "GET", "/api/v1/conversations/"+id+"/unread?visitor_token="+token, "", nil)
	if body := decodeBody(t, w); body["count"] != float64(1) {
		t.Errorf("expected 1 unread, got %v", body["count"])
	}

	w = do(t, srv, "POST", "/api/v1/conversations/"+id+"/read", "", map[string]string{HeaderVisitorToken: token})
	if body := decodeBody(t, w); body["marked"] != float64(1) {
		t.Errorf("expected 1 marked, got %v", body["marked"])
	}
}

func TestGetMessages_WithoutToken(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 10)

	w := do(t, srv, "POST", "/api/v1/conversations", `{}`, nil)
	id := decodeBody(t, w)["conversation_id"].(string)

	w = do(t, srv, "GET", "/api/v1/conversations/"+id+"/messages", "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestSendMessage(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 10)

	w := do(t, srv, "POST", "/api/v1/conversations", `{}`, nil)
	created := decodeBody(t, w)
	id := created["conversation_id"].(string)
	token := created["visitor_token"].(string)

	w = do(t, srv, "POST", "/api/v1/conversations/"+id+"/messages", `{"message":"anyone?","visitor_token":"`+token+`"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["success"] != true {
		t.Errorf("expected success, got %v", body)
	}
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		inv    *stubInvoker
		body   string
		status int
		kind   string
	}{
		{"empty message", okInvoker(), `{"message":""}`, http.StatusBadRequest, "validation"},
		{"too long", okInvoker(), `{"message":"` + strings.Repeat("x", 1201) + `"}`, http.StatusBadRequest, "validation"},
		{"sensitive", okInvoker(), `{"message":"IBAN DE89370400440532013000"}`, http.StatusUnprocessableEntity, "sensitive_content"},
		{"unknown conversation", okInvoker(), `{"conversation_id":"nope","message":"hi"}`, http.StatusNotFound, "not_found"},
		{"providers failed", &stubInvoker{err: &llm.AggregateError{Failures: []llm.Failure{{Provider: "alpha", Err: errors.New("down")}}}}, `{"message":"hi"}`, http.StatusBadGateway, "provider_failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.inv, 10)
			w := do(t, srv, "POST", "/api/v1/assistant/ask", tt.body, nil)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			raw := w.Body.String()
			body := decodeBody(t, w)
			if body["kind"] != tt.kind {
				t.Errorf("expected kind %s, got %v", tt.kind, body["kind"])
			}
			if strings.Contains(raw, "alpha") {
				t.Errorf("expected no provider identity in response, got %s", raw)
			}
		})
	}
}

func TestAsk_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 10)
	w := do(t, srv, "POST", "/api/v1/assistant/ask", `{not json`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAsk_Unavailable(t *testing.T) {
	srv := newTestServer(t, &stubInvoker{err: llm.ErrNoProviders}, 10)

	w := do(t, srv, "POST", "/api/v1/assistant/ask", `{"message":"hi"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["unavailable"] != true {
		t.Errorf("expected unavailable flag, got %v", body)
	}
}

func TestAsk_RateLimited(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 1)
	headers := map[string]string{"Accept-Language": "cs-CZ,cs;q=0.9,en;q=0.8"}

	do(t, srv, "POST", "/api/v1/assistant/ask", `{"message":"hi"}`, headers)
	w := do(t, srv, "POST", "/api/v1/assistant/ask", `{"message":"hi"}`, headers)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	body := decodeBody(t, w)
	if msg, _ := body["error"].(string); !strings.Contains(msg, "Zkuste") {
		t.Errorf("expected Czech hint, got %q", msg)
	}
}

func TestCallerMiddleware_WrongBearer(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 10)
	w := do(t, srv, "POST", "/api/v1/conversations", `{}`, map[string]string{"Authorization": "Bearer wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestCallerMiddleware_IgnoresHeadersWithoutBearer(t *testing.T) {
	var got string
	h := CallerMiddleware(testAPIToken, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = string(CallerFrom(r.Context()).Role)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderAccountRole, "admin")
	req.Header.Set(HeaderAccountID, "mallory")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "anonymous" {
		t.Errorf("expected anonymous caller, got %q", got)
	}
}

func TestCloseConversation(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 10)

	w := do(t, srv, "POST", "/api/v1/conversations", `{}`, nil)
	created := decodeBody(t, w)
	id := created["conversation_id"].(string)
	token := created["visitor_token"].(string)

	w = do(t, srv, "POST", "/api/v1/conversations/"+id+"/close", "", map[string]string{HeaderVisitorToken: token})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for visitor, got %d", w.Code)
	}

	w = do(t, srv, "POST", "/api/v1/conversations/"+id+"/close", "", adminHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, srv, "POST", "/api/v1/assistant/ask", `{"conversation_id":"`+id+`","visitor_token":"`+token+`","message":"hi"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on closed conversation, got %d", w.Code)
	}
}

func TestRateLimitHint(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", "try again in 30 seconds"},
		{"de-DE,de;q=0.9", "in 30 Sekunden"},
		{"cs", "znovu za 30 s"},
		{"fr-FR", "try again in 30 seconds"},
		{"garbage;;;", "try again in 30 seconds"},
	}
	for _, tt := range tests {
		if got := rateLimitHint(tt.header, 30); !strings.Contains(got, tt.want) {
			t.Errorf("rateLimitHint(%q): expected %q in %q", tt.header, tt.want, got)
		}
	}
}

func countAdmitted(t *testing.T, srv *Server, forwarded []string) int {
	t.Helper()
	admitted := 0
	for _, xff := range forwarded {
		w := do(t, srv, "POST", "/api/v1/assistant/ask", `{"message":"hi"}`, map[string]string{"X-Forwarded-For": xff})
		switch w.Code {
		case http.StatusOK:
			admitted++
		case http.StatusTooManyRequests:
		default:
			t.Fatalf("unexpected status %d", w.Code)
		}
	}
	return admitted
}

func TestAsk_ForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	srv := newTestServer(t, okInvoker(), 2)

	forwarded := []string{"198.51.100.1", "198.51.100.2", "198.51.100.3", "198.51.100.4", "198.51.100.5"}
	if got := countAdmitted(t, srv, forwarded); got != 2 {
		t.Errorf("expected 2 asks admitted from one peer, got %d", got)
	}
}

func TestAsk_ForwardedForFromTrustedProxy(t *testing.T) {
	// httptest requests come from 192.0.2.1
	proxies, err := ParseTrustedProxies([]string{"192.0.2.0/24"})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	srv := newServerWithRules(t, okInvoker(), map[ratelimit.Class]ratelimit.Rule{
		ratelimit.ClassVisitor: {Window: time.Minute, Max: 1},
	}, proxies)

	if got := countAdmitted(t, srv, []string{"198.51.100.1", "198.51.100.2"}); got != 2 {
		t.Errorf("expected distinct clients behind the proxy to be admitted, got %d", got)
	}
	// a client-supplied left-most hop does not change the bucket
	if got := countAdmitted(t, srv, []string{"10.9.9.9, 198.51.100.3", "10.8.8.8, 198.51.100.3"}); got != 1 {
		t.Errorf("expected spoofed hops to share one bucket, got %d", got)
	}
}

func TestClientAddr(t *testing.T) {
	trusted, _ := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})

	tests := []struct {
		name   string
		remote string
		xff    string
		realIP string
		want   string
	}{
		{"untrusted peer", "203.0.113.5:4000", "198.51.100.1", "", "203.0.113.5"},
		{"trusted peer", "192.0.2.1:4000", "198.51.100.1", "", "198.51.100.1"},
		{"right-most untrusted hop", "10.1.1.1:4000", "1.1.1.1, 198.51.100.1, 10.2.2.2", "", "198.51.100.1"},
		{"all hops trusted", "10.1.1.1:4000", "10.2.2.2", "", "10.1.1.1"},
		{"real ip fallback", "10.1.1.1:4000", "", "198.51.100.7", "198.51.100.7"},
		{"no headers", "10.1.1.1:4000", "", "", "10.1.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := clientAddr(req, trusted); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 127.0.0.1 ", "", "::1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 prefixes, got %v", got)
	}
	if got[1].Bits() != 32 || got[2].Bits() != 128 {
		t.Errorf("expected single-address prefixes, got %v", got)
	}
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Error("expected error for invalid entry")
	}
}

func TestAsk_MissingRateRuleReportsUnavailable(t *testing.T) {
	srv := newServerWithRules(t, okInvoker(), map[ratelimit.Class]ratelimit.Rule{
		ratelimit.ClassAdmin: {Window: time.Minute, Max: 10},
	}, nil)

	w := do(t, srv, "POST", "/api/v1/assistant/ask", `{"message":"hi"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["unavailable"] != true || body["kind"] != "configuration" {
		t.Errorf("expected unavailable configuration body, got %v", body)
	}
}
