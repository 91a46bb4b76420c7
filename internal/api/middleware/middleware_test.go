package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"contactbook/internal/api/auth"
	"contactbook/internal/model"
	"contactbook/internal/pkg/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type mockResolver struct {
	resolveFunc func(ctx context.Context, tok string) (*model.User, error)
	calls       int
}

func (m *mockResolver) CurrentUser(ctx context.Context, tok string) (*model.User, error) {
	m.calls++
	return m.resolveFunc(ctx, tok)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthedRouter(resolver Resolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(testLogger()))
	r.GET("/me", AuthMiddleware(resolver, testLogger()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"email": CurrentUser(c).Email})
	})
	return r
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	resolver := &mockResolver{resolveFunc: func(ctx context.Context, tok string) (*model.User, error) {
		if tok != "good" {
			return nil, auth.ErrUnauthorized
		}
		return &model.User{ID: 1, Email: "a@x.com"}, nil
	}}
	r := newAuthedRouter(resolver)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	resolver := &mockResolver{resolveFunc: func(ctx context.Context, tok string) (*model.User, error) {
		return nil, auth.ErrUnauthorized
	}}
	r := newAuthedRouter(resolver)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer expired"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
		if w.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatalf("header %q: expected WWW-Authenticate", header)
		}
	}
	if resolver.calls != 1 {
		t.Fatalf("expected resolver to be called only for well-formed headers, got %d", resolver.calls)
	}
}

func TestAuthMiddleware_InternalError(t *testing.T) {
	resolver := &mockResolver{resolveFunc: func(ctx context.Context, tok string) (*model.User, error) {
		return nil, errors.New("db down")
	}}
	r := newAuthedRouter(resolver)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestRateLimit_PerClientIP(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rate, burst := ratelimit.PerMinute(2)
	limiter := ratelimit.NewRedisRateLimiter(rdb, testLogger(), "test:ratelimit", rate, burst)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", RateLimit(limiter, "users-me", testLogger()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.RemoteAddr = ip + ":12345"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := call("10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := call("10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if w := call("10.0.0.2"); w.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", w.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

type denyLimiter struct{ retry time.Duration }

func (d denyLimiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: d.retry}, nil
}

func TestRateLimit_FailOpenAndMinimumRetry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/open", RateLimit(failingLimiter{}, "s", testLogger()), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/deny", RateLimit(denyLimiter{retry: 10 * time.Millisecond}, "s", testLogger()), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected fail-open 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deny", nil))
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 429 with Retry-After 1, got %d %q", w.Code, w.Header().Get("Retry-After"))
	}
}
