package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lesionlog/internal/model"
	"lesionlog/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

func newTestRouter(tokens SessionVerifier, roles ...model.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{AuthMiddleware(tokens)}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRole(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.String(http.StatusOK, p.Email)
	})
	r.GET("/x", handlers...)
	return r
}

func doGet(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	tokens := token.NewManager("secret", time.Hour, 15*time.Minute)
	session, err := tokens.IssueSession(token.Principal{UserID: 1, Email: "a@example.com", Role: "user"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	reset, err := tokens.IssueReset(1)
	if err != nil {
		t.Fatalf("issue reset: %v", err)
	}
	r := newTestRouter(tokens)

	cases := map[string]int{
		"":                  http.StatusUnauthorized,
		"Token abc":         http.StatusUnauthorized,
		"Bearer ":           http.StatusUnauthorized,
		"Bearer garbage":    http.StatusUnauthorized,
		"Bearer " + reset:   http.StatusUnauthorized,
		"Bearer " + session: http.StatusOK,
		"bearer " + session: http.StatusOK,
	}
	for header, want := range cases {
		if w := doGet(r, header); w.Code != want {
			t.Fatalf("header %q: expected %d, got %d", header, want, w.Code)
		}
	}
}

func TestAuthMiddleware_Expired(t *testing.T) {
	expired := token.NewManager("secret", -time.Minute, time.Minute)
	tok, err := expired.IssueSession(token.Principal{UserID: 1, Role: "user"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	w := doGet(newTestRouter(expired), "Bearer "+tok)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	tokens := token.NewManager("secret", time.Hour, time.Minute)
	userTok, _ := tokens.IssueSession(token.Principal{UserID: 1, Role: "user"})
	adminTok, _ := tokens.IssueSession(token.Principal{UserID: 2, Role: "ADMIN"})
	r := newTestRouter(tokens, model.RoleAdmin)

	if w := doGet(r, "Bearer "+userTok); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user, got %d", w.Code)
	}
	if w := doGet(r, "Bearer "+adminTok); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
}

type stubLimiter struct {
	allow bool
	retry time.Duration
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.retry, s.err
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	run := func(l Allower) *httptest.ResponseRecorder {
		r := gin.New()
		r.POST("/auth/signin", RateLimit(l, "signin", nil), func(c *gin.Context) { c.Status(http.StatusOK) })
		req := httptest.NewRequest(http.MethodPost, "/auth/signin", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	deny := &stubLimiter{allow: false, retry: 1500 * time.Millisecond}
	w := run(deny)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	if len(deny.keys) != 1 || deny.keys[0] != "signin:10.0.0.1" {
		t.Fatalf("unexpected limiter keys: %v", deny.keys)
	}

	if w := run(&stubLimiter{err: errors.New("redis down")}); w.Code != http.StatusOK {
		t.Fatalf("expected fail-open 200, got %d", w.Code)
	}
	if w := run(nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 without limiter, got %d", w.Code)
	}
}
